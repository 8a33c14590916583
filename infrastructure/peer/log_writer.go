package peer

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"google.golang.org/grpc/grpclog"
)

// grpcLogWriter forwards the lines grpc writes for one severity to a slog.Logger.
type grpcLogWriter struct {
	logger *slog.Logger
	level  slog.Level
}

func (w *grpcLogWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	// grpc lines end with a newline and carry their own severity prefix.
	msg := strings.TrimRight(string(p), "\n")
	w.logger.Log(context.Background(), w.level, msg, "component", "grpc")
	return len(p), nil
}

// RedirectGRPCLogs sends grpc's own warnings and errors through log. Info lines are dropped.
// It must be called before any grpc client or server is created.
func RedirectGRPCLogs(log *slog.Logger) {
	grpclog.SetLoggerV2(grpclog.NewLoggerV2(
		io.Discard,
		&grpcLogWriter{logger: log, level: slog.LevelWarn},
		&grpcLogWriter{logger: log, level: slog.LevelError},
	))
}
