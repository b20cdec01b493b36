package input

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pulseio/pulseio/appendbuf"
	"github.com/pulseio/pulseio/internal/options"
	"github.com/pulseio/pulseio/parser"
)

type runConfig struct {
	reopenOnEnd   bool
	reopenOnError bool
	reopenDelay   time.Duration
}

// RunOption configures Run.
type RunOption = options.Option[*runConfig]

// WithReopenOnEnd makes Run reopen the source and keep going when the
// stream ends instead of returning, a tail-follow for files that get
// rewritten. The pending tail is flushed before each reopen.
func WithReopenOnEnd() RunOption {
	return options.NoError(func(c *runConfig) {
		c.reopenOnEnd = true
	})
}

// WithReopenOnError makes Run recover from read and parse failures by
// reopening the source instead of returning the error.
func WithReopenOnError() RunOption {
	return options.NoError(func(c *runConfig) {
		c.reopenOnError = true
	})
}

// WithReopenDelay inserts a pause before every reopen attempt so a source
// that vanished has time to come back.
func WithReopenDelay(d time.Duration) RunOption {
	return options.NoError(func(c *runConfig) {
		c.reopenDelay = d
	})
}

// Run drives src until its stream ends, fails, or is stopped: wait for
// bytes, move them into the source's buffer, push the buffer through the
// parser chain, repeat. A full sample sink suspends parsing via the chain's
// WaitQueue and resumes where it left off, so samples are never dropped or
// reordered.
//
// On a clean end of stream and on stop the chain is flushed with a final
// parse before Run returns nil. With reopen options set, end of stream or
// failures restart the source instead; a failing reopen ends Run. Run does
// not close the source.
func Run(src Source, opts ...RunOption) error {
	var cfg runConfig
	if err := options.Apply(&cfg, opts...); err != nil {
		return err
	}

	buf := src.Buffer()
	chain := src.Parser()

	for {
		switch src.Wait() {
		case WaitStopped:
			return finish(chain, buf)
		case WaitNew, WaitFailed:
			// Read reports what arrived, including end or failure.
		}

		again, err := drain(src, chain, buf, &cfg)
		if err != nil {
			return err
		}
		if !again {
			return nil
		}
	}
}

// drain moves every available byte through the chain. It returns false when
// Run should stop cleanly, true when it should go back to waiting.
func drain(src Source, chain parser.Parser, buf *appendbuf.Buffer, cfg *runConfig) (bool, error) {
	for {
		n, err := src.Read()

		switch {
		case err == nil && n == 0:
			// Nothing more without blocking.
			return true, nil

		case errors.Is(err, io.EOF):
			if ferr := finish(chain, buf); ferr != nil {
				return false, ferr
			}
			if !cfg.reopenOnEnd {
				return false, nil
			}
			if rerr := reopen(src, cfg); rerr != nil {
				return false, rerr
			}
			return true, nil

		case err != nil:
			if !cfg.reopenOnError {
				return false, err
			}
			if rerr := reopen(src, cfg); rerr != nil {
				return false, rerr
			}
			return true, nil
		}

		if perr := parseAll(chain, buf); perr != nil {
			if errors.Is(perr, ErrSinkClosed) || !cfg.reopenOnError {
				return false, perr
			}
			if rerr := reopen(src, cfg); rerr != nil {
				return false, rerr
			}
			return true, nil
		}
	}
}

// parseAll pushes the buffer through the chain, riding out full-sink pauses.
func parseAll(chain parser.Parser, buf *appendbuf.Buffer) error {
	for {
		res, err := chain.Parse(buf, false)
		if err != nil {
			return fmt.Errorf("parse failed: %w", err)
		}
		if res == parser.Continue {
			return nil
		}
		if !chain.WaitQueue() {
			return ErrSinkClosed
		}
	}
}

// finish delivers the final parse that flushes everything still buffered in
// the chain, then clears the buffer.
func finish(chain parser.Parser, buf *appendbuf.Buffer) error {
	defer buf.Reset()

	for {
		res, err := chain.Parse(buf, true)
		if err != nil {
			return fmt.Errorf("parse failed: %w", err)
		}
		if res == parser.Continue {
			return nil
		}
		if !chain.WaitQueue() {
			return ErrSinkClosed
		}
	}
}

func reopen(src Source, cfg *runConfig) error {
	if cfg.reopenDelay > 0 {
		time.Sleep(cfg.reopenDelay)
	}
	if err := src.Reopen(); err != nil {
		return fmt.Errorf("reopen failed: %w", err)
	}

	return nil
}
