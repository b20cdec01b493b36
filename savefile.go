package pulseio

import (
	"bufio"
	"fmt"
	"os"
	"strconv"

	"github.com/pulseio/pulseio/internal/options"
	"github.com/pulseio/pulseio/internal/pool"
	"github.com/pulseio/pulseio/parser"
)

type saveConfig struct {
	delta bool
}

// SaveOption configures SaveTextFile.
type SaveOption = options.Option[*saveConfig]

// WithDeltaEncoding writes the capture delta encoded: a marker line first,
// then each value as the difference from the one before it.
func WithDeltaEncoding(enabled bool) SaveOption {
	return options.NoError(func(c *saveConfig) {
		c.delta = enabled
	})
}

// SaveTextFile writes values to path as a bare-value capture, one value per
// line with three decimals, the format OpenFile decodes back at one value
// per 4 ms tick. With delta encoding the accumulator tracks the rounded
// values actually written, so the decoded stream reproduces the written
// lines exactly.
func SaveTextFile(path string, values []float64, opts ...SaveOption) error {
	var cfg saveConfig
	if err := options.Apply(&cfg, opts...); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	w := bufio.NewWriter(f)
	if err := writeValues(w, values, cfg.delta); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}

	return nil
}

func writeValues(w *bufio.Writer, values []float64, delta bool) error {
	if delta {
		if _, err := w.WriteString(parser.DeltaMarker + "\n"); err != nil {
			return err
		}
	}

	lb := pool.GetLineBuffer()
	defer pool.PutLineBuffer(lb)

	prev := 0.0
	for _, v := range values {
		out := v
		if delta {
			out = v - prev
		}

		lb.B = strconv.AppendFloat(lb.B[:0], out, 'f', 3, 64)
		if delta {
			// Accumulate what the file says, not what was asked for, so
			// rounding cannot drift the decoded values away from ours.
			written, err := strconv.ParseFloat(string(lb.B), 64)
			if err != nil {
				return err
			}
			prev += written
		}
		lb.B = append(lb.B, '\n')

		if _, err := w.Write(lb.B); err != nil {
			return err
		}
	}

	return nil
}
