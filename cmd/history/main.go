package main

import (
	"chat-relay/domain/chat"
	"chat-relay/infrastructure/api"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

const maxBodyWidth = 60

func main() {
	baseURL := flag.String("url", "http://localhost:5002", "Base URL of a relay instance")
	timeout := flag.Duration("timeout", 5*time.Second, "Request timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	events, err := fetchHistory(ctx, http.DefaultClient, *baseURL)
	if err != nil {
		log.Fatal("Error while fetching history: ", err)
	}
	renderHistory(os.Stdout, events)
}

func fetchHistory(ctx context.Context, client *http.Client, baseURL string) ([]chat.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/history", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	var body api.HistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}
	return body.History, nil
}

func renderHistory(w io.Writer, events []chat.Event) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Time", "Kind", "User", "Body", "Origin", "Message ID"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, evt := range events {
		origin := evt.Origin
		if len(origin) > 8 {
			origin = origin[:8]
		}
		table.Append([]string{
			evt.Timestamp,
			colorKind(evt.Kind),
			evt.Username,
			truncate(evt.Body, maxBodyWidth),
			origin,
			evt.MessageID,
		})
	}
	table.Render()
}

func colorKind(kind chat.Kind) string {
	switch kind {
	case chat.KindSystemJoin:
		return color.FgGreen.Render(string(kind))
	case chat.KindSystemLeave:
		return color.FgYellow.Render(string(kind))
	case chat.KindVoice:
		return color.FgMagenta.Render(string(kind))
	default:
		return string(kind)
	}
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}
