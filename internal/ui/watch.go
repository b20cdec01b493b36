// Package ui implements the pulsecat live dashboard.
package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pulseio/pulseio"
	"github.com/pulseio/pulseio/internal/cli"
)

// Snapshot carries decoding stats from the consumer goroutine to the UI.
type Snapshot struct {
	Count int64
	Last  float64
	Min   float64
	Max   float64
}

// doneMsg signals that the stream ended, cleanly or not.
type doneMsg struct {
	err error
}

// tickMsg drives the elapsed-time refresh.
type tickMsg time.Time

// snapshotEvery is how many samples pass between stat updates to the UI,
// one second of stream time.
const snapshotEvery = 250

type watchModel struct {
	snap     Snapshot
	start    time.Time
	done     bool
	err      error
	quitting bool
}

func newWatchModel() *watchModel {
	return &watchModel{start: time.Now()}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init initializes the model
func (m *watchModel) Init() tea.Cmd {
	return tick()
}

// Update handles messages
func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case Snapshot:
		m.snap = msg
		return m, nil

	case doneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit

	case tickMsg:
		if m.done {
			return m, nil
		}
		return m, tick()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View renders the dashboard
func (m *watchModel) View() string {
	var s strings.Builder

	s.WriteString(cli.TitleStyle.Render("pulsecat"))
	s.WriteString("\n")
	s.WriteString(cli.SubtitleStyle.Render("Live sample stream"))
	s.WriteString("\n\n")

	elapsed := time.Since(m.start)
	rate := 0.0
	if sec := elapsed.Seconds(); sec > 0 {
		rate = float64(m.snap.Count) / sec
	}

	rows := []struct{ key, value string }{
		{"Samples", fmt.Sprintf("%d", m.snap.Count)},
		{"Rate", fmt.Sprintf("%.1f/s", rate)},
		{"Last", fmt.Sprintf("%.3f", m.snap.Last)},
		{"Min", fmt.Sprintf("%.3f", m.snap.Min)},
		{"Max", fmt.Sprintf("%.3f", m.snap.Max)},
		{"Elapsed", elapsed.Round(100 * time.Millisecond).String()},
	}
	for _, r := range rows {
		s.WriteString(cli.KeyStyle.Render(fmt.Sprintf("%-8s", r.key)))
		s.WriteString(" ")
		s.WriteString(cli.ValueStyle.Render(r.value))
		s.WriteString("\n")
	}

	s.WriteString("\n")
	switch {
	case m.err != nil:
		s.WriteString(cli.ErrorStyle.Render("✗ " + m.err.Error()))
	case m.done:
		s.WriteString(cli.SuccessStyle.Render("✓ stream ended"))
	default:
		s.WriteString(cli.SubtitleStyle.Render("q to quit"))
	}
	s.WriteString("\n")

	return cli.BoxStyle.Render(s.String())
}

// RunWatch consumes stream behind a live dashboard until the stream ends or
// the user quits. With keep set it returns the decoded samples.
func RunWatch(stream *pulseio.Stream, keep bool) ([]float64, error) {
	p := tea.NewProgram(newWatchModel())

	var (
		samples []float64
		readErr error
	)
	consumed := make(chan struct{})

	go func() {
		defer close(consumed)

		var snap Snapshot
		for {
			v, err := stream.Next()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr = err
				}
				p.Send(snap)
				p.Send(doneMsg{err: readErr})
				return
			}

			if keep {
				samples = append(samples, v)
			}
			if snap.Count == 0 || v < snap.Min {
				snap.Min = v
			}
			if snap.Count == 0 || v > snap.Max {
				snap.Max = v
			}
			snap.Last = v
			snap.Count++

			if snap.Count%snapshotEvery == 0 {
				p.Send(snap)
			}
		}
	}()

	final, err := p.Run()
	if err != nil {
		stream.Close()
		<-consumed
		return nil, fmt.Errorf("dashboard failed: %w", err)
	}

	// On an early quit the consumer is still blocked in Next; closing the
	// stream ends it cleanly.
	if m, ok := final.(*watchModel); ok && m.quitting {
		if err := stream.Close(); err != nil {
			<-consumed
			return nil, err
		}
	}
	<-consumed

	if readErr != nil {
		return nil, readErr
	}

	return samples, nil
}
