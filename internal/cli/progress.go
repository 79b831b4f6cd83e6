package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/maintenance"
)

const progressBarWidth = 24

type styles struct {
	bar    lipgloss.Style
	track  lipgloss.Style
	label  lipgloss.Style
	muted  lipgloss.Style
	ok     lipgloss.Style
	failed lipgloss.Style
}

func newStyles(w io.Writer, noColor bool) styles {
	renderer := lipgloss.NewRenderer(w)
	if noColor {
		renderer.SetColorProfile(termenv.Ascii)
	}
	return styles{
		bar:    renderer.NewStyle().Foreground(lipgloss.Color("#7C3AED")),
		track:  renderer.NewStyle().Foreground(lipgloss.Color("#45475A")),
		label:  renderer.NewStyle().Bold(true),
		muted:  renderer.NewStyle().Foreground(lipgloss.Color("#6C7086")),
		ok:     renderer.NewStyle().Foreground(lipgloss.Color("#A6E3A1")),
		failed: renderer.NewStyle().Foreground(lipgloss.Color("#F38BA8")),
	}
}

// progressPrinter renders one line per progress event on stderr.
type progressPrinter struct {
	w      io.Writer
	styles styles
}

func newProgressPrinter(w io.Writer, globals *GlobalOptions) *progressPrinter {
	if globals.Quiet || globals.JSON {
		return nil
	}
	return &progressPrinter{w: w, styles: newStyles(w, globals.NoColor)}
}

func (p *progressPrinter) sink() maintenance.ProgressSink {
	if p == nil {
		return nil
	}
	return func(event maintenance.Progress) {
		_, _ = fmt.Fprintln(p.w, p.render(event))
	}
}

func (p *progressPrinter) render(event maintenance.Progress) string {
	filled := int(event.Percent / 100 * progressBarWidth)
	filled = max(0, min(filled, progressBarWidth))
	bar := p.styles.bar.Render(strings.Repeat("█", filled)) +
		p.styles.track.Render(strings.Repeat("░", progressBarWidth-filled))

	line := fmt.Sprintf("%s %6.2f%% %s", bar, event.Percent, p.styles.label.Render(string(event.Phase)))
	if event.Detail != "" {
		line += " " + p.styles.muted.Render(event.Detail)
	}
	if event.Counts != nil && event.Counts.Total > 0 {
		line += p.styles.muted.Render(fmt.Sprintf(" (%d/%d)", event.Counts.Processed, event.Counts.Total))
	}
	return line
}
