package main

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"github.com/janwilmake/cursordo/client"
	"github.com/janwilmake/cursordo/domain"
)

// renderer prints room events as text, each peer in its session color.
type renderer struct {
	mu  sync.Mutex
	out io.Writer
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out}
}

func (r *renderer) Init(sessionID string, cursors map[string]domain.Cursor) {
	r.printf("joined as %s, %d peer(s) visible\n", sessionID, len(cursors))
	for id, c := range cursors {
		r.printf("  %s\n", paint(c.Color, fmt.Sprintf("%s at (%.0f, %.0f)", short(id), c.X, c.Y)))
	}
}

func (r *renderer) Cursor(msg domain.CursorMessage) {
	r.printf("%s\n", paint(msg.Color, fmt.Sprintf("%s -> (%.0f, %.0f)", short(msg.SessionID), msg.X, msg.Y)))
}

func (r *renderer) Leave(sessionID string) {
	r.printf("%s left\n", short(sessionID))
}

func (r *renderer) State(state client.State) {
	r.printf("[%s]\n", state)
}

// Peers renders the current cursors as a table sorted by session id.
func (r *renderer) Peers(peers map[string]domain.Cursor) {
	ids := make([]string, 0, len(peers))
	for id := range peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	r.mu.Lock()
	defer r.mu.Unlock()
	table := tablewriter.NewWriter(r.out)
	table.SetHeader([]string{"Session", "X", "Y", "Color"})
	for _, id := range ids {
		c := peers[id]
		table.Append([]string{short(id), fmt.Sprintf("%.0f", c.X), fmt.Sprintf("%.0f", c.Y), c.Color})
	}
	table.Render()
}

func (r *renderer) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

// paint colors text with a CSS hsl() color, leaving it plain if the color
// cannot be parsed.
func paint(css, text string) string {
	h, s, l, ok := parseHSL(css)
	if !ok {
		return text
	}
	rgb := color.HslToRgb(h/360, s/100, l/100)
	return color.RGB(rgb[0], rgb[1], rgb[2]).Sprint(text)
}

func parseHSL(css string) (h, s, l float64, ok bool) {
	if _, err := fmt.Sscanf(css, "hsl(%g, %g%%, %g%%)", &h, &s, &l); err != nil {
		return 0, 0, 0, false
	}
	return h, s, l, true
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
