package api

import (
	"chat-relay/contract"
	"chat-relay/domain/chat"
	"embed"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"time"
)

//go:embed inspect.html
var templatesFS embed.FS

// StatsProvider feeds the inspect page with live counters.
type StatsProvider func() map[string]any

type HistoryResponse struct {
	History []chat.Event `json:"history"`
}

type inspectPage struct {
	Stats   map[string]any
	History []chat.Event
	Now     string
}

type Handler struct {
	log          *slog.Logger
	router       contract.IEventRouter
	gateway      http.Handler
	stats        StatsProvider
	historyLimit int
	tmpl         *template.Template
}

// NewHandler serves /history, /ws, /inspect and, when staticDir is set, the client files under /.
func NewHandler(log *slog.Logger, router contract.IEventRouter, gateway http.Handler,
	stats StatsProvider, historyLimit int, staticDir string) http.Handler {
	h := &Handler{
		log:          log,
		router:       router,
		gateway:      gateway,
		stats:        stats,
		historyLimit: historyLimit,
		tmpl:         template.Must(template.ParseFS(templatesFS, "inspect.html")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /history", h.history)
	mux.HandleFunc("GET /inspect", h.inspect)
	mux.Handle("/ws", gateway)
	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return mux
}

func (h *Handler) history(w http.ResponseWriter, _ *http.Request) {
	events := h.router.History(h.historyLimit)
	if events == nil {
		events = []chat.Event{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(HistoryResponse{History: events}); err != nil {
		h.log.Warn("Failed to write history response", "error", err)
	}
}

func (h *Handler) inspect(w http.ResponseWriter, _ *http.Request) {
	data := inspectPage{
		Stats:   make(map[string]any),
		History: h.router.History(h.historyLimit),
		Now:     time.Now().Format(chat.TimestampLayout),
	}
	if h.stats != nil {
		data.Stats = h.stats()
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.tmpl.Execute(w, data); err != nil {
		h.log.Warn("Failed to render inspect page", "error", err)
	}
}
