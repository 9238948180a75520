package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/petervdpas/botdash/internal/proto"
)

// StatusSource is the read side of the bot API used by `botdash status`.
type StatusSource interface {
	Health(ctx context.Context) (proto.Health, error)
	Guilds(ctx context.Context) ([]proto.Guild, error)
	MusicStatus(ctx context.Context, guild proto.Snowflake) (proto.MusicStatus, error)
	CostUsage(ctx context.Context) (proto.CostUsage, error)
}

// PrintStatus renders a one-shot view of the bot. Music is shown for guild,
// or for every guild when guild is empty. Failed sections are reported
// inline; only a failed health check is returned as an error.
func PrintStatus(ctx context.Context, w io.Writer, src StatusSource, guild proto.Snowflake) error {
	h, err := src.Health(ctx)
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}

	ready := text.FgHiRed.Sprint("no")
	if h.BotReady {
		ready = text.FgGreen.Sprint("yes")
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Status", "Bot ready", "Guilds", "Dashboards"})
	t.AppendRow(table.Row{h.Status, ready, h.Guilds, h.WebSocketConnections})
	t.Render()

	guilds, err := src.Guilds(ctx)
	if err != nil {
		fmt.Fprintf(w, "guilds: %v\n", err)
	}
	if guild != "" {
		guilds = []proto.Guild{{ID: guild, Name: nameOf(guilds, guild)}}
	}

	if len(guilds) > 0 {
		t = newTable(w)
		t.AppendHeader(table.Row{"Guild", "Name", "State", "Track", "Position", "Queue"})
		for _, g := range guilds {
			m, err := src.MusicStatus(ctx, g.ID)
			if err != nil {
				t.AppendRow(table.Row{g.ID, g.Name, text.FgHiRed.Sprint(err.Error()), "", "", ""})
				continue
			}
			title, pos := "", ""
			if m.CurrentTrack != nil {
				title = m.CurrentTrack.Title
				pos = clock(m.CurrentTrack.PositionMs) + " / " + clock(m.CurrentTrack.LengthMs)
			}
			t.AppendRow(table.Row{g.ID, g.Name, musicState(m), title, pos, len(m.Queue)})
		}
		t.Render()
	}

	c, err := src.CostUsage(ctx)
	if err != nil {
		fmt.Fprintf(w, "cost: %v\n", err)
		return nil
	}
	t = newTable(w)
	t.AppendHeader(table.Row{"Requests", "Tokens", "Usage", "Quota"})
	quota := text.FgGreen.Sprint("ok")
	switch {
	case c.QuotaExceeded:
		quota = text.FgHiRed.Sprint("exceeded")
	case c.WarningThreshold:
		quota = text.FgYellow.Sprint("warning")
	}
	t.AppendRow(table.Row{
		fmt.Sprintf("%d / %d", c.DailyRequests, c.RequestLimit),
		fmt.Sprintf("%d / %d", c.DailyTokens, c.TokenLimit),
		fmt.Sprintf("%.1f%%", c.UsagePercentage.Requests),
		quota,
	})
	t.Render()
	return nil
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func nameOf(guilds []proto.Guild, id proto.Snowflake) string {
	for _, g := range guilds {
		if g.ID == id {
			return g.Name
		}
	}
	return ""
}

func musicState(m proto.MusicStatus) string {
	switch {
	case m.CurrentTrack == nil || !m.Connected:
		return "idle"
	case m.Paused:
		return text.FgYellow.Sprint("paused")
	case m.Playing:
		return text.FgGreen.Sprint("playing")
	}
	return "stopped"
}

func clock(ms int64) string {
	d := (time.Duration(ms) * time.Millisecond).Round(time.Second)
	m := int(d / time.Minute)
	s := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("%d:%02d", m, s)
}
