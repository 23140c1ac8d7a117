package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"quotegate/internal/models"
)

const quoteColumnWidth = 72

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func printJSON(w io.Writer, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(payload))
	return err
}

func quoteTable(w io.Writer, quotes []models.Quote) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, WidthMax: quoteColumnWidth, WidthMaxEnforcer: text.WrapSoft},
	})
	t.AppendHeader(table.Row{"ID", "Quote", "Author"})
	for _, q := range quotes {
		t.AppendRow(table.Row{q.ID, q.Quote, q.Author})
	}
	return t
}

// printQuotes writes raw as JSON, or the quotes as a table.
func printQuotes(w io.Writer, asJSON bool, raw any, quotes []models.Quote) error {
	if asJSON {
		return printJSON(w, raw)
	}
	quoteTable(w, quotes).Render()
	return nil
}

func printPage(w io.Writer, asJSON bool, page models.QuotePage) error {
	if asJSON {
		return printJSON(w, page)
	}

	t := quoteTable(w, page.Quotes)
	summary := fmt.Sprintf("%d of %d", len(page.Quotes), page.Total)
	if len(page.Quotes) > 0 {
		summary = fmt.Sprintf("%d-%d of %d", page.Skip+1, page.Skip+len(page.Quotes), page.Total)
	}
	t.AppendFooter(table.Row{"", summary, ""})
	t.Render()
	return nil
}

func printHealth(w io.Writer, asJSON bool, h models.HealthCheckResponse) error {
	if asJSON {
		return printJSON(w, h)
	}

	fmt.Fprintf(w, "Status: %s\n", h.Status)
	if h.Version != "" {
		fmt.Fprintf(w, "Version: %s\n", h.Version)
	}
	if h.Uptime != "" {
		fmt.Fprintf(w, "Uptime: %s\n", h.Uptime)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Component", "Status", "Message"})
	for _, name := range sortedKeys(h.Components) {
		c := h.Components[name]
		t.AppendRow(table.Row{name, c.Status, c.Message})
	}
	t.Render()

	if len(h.Metrics) > 0 {
		m := table.NewWriter()
		m.SetOutputMirror(w)
		m.SetStyle(table.StyleRounded)
		m.AppendHeader(table.Row{"Metric", "Value"})
		for _, name := range sortedKeys(h.Metrics) {
			m.AppendRow(table.Row{name, h.Metrics[name]})
		}
		m.Render()
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
