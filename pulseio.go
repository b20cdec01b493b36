// Package pulseio decodes irregularly timed sensor captures into a fixed
// 250 Hz stream of float64 samples.
//
// Captures are line-oriented text, optionally gzip compressed and optionally
// delta encoded. Each line carries a value and usually a timestamp; pulseio
// detects the timestamp grammar, linearly interpolates between consecutive
// readings, and emits one sample every 4 ms of source time. The decode work
// runs on its own goroutine and hands samples to the consumer through a
// bounded queue, so a slow consumer throttles the decoder instead of piling
// up memory.
//
// # Core Features
//
//   - Transparent gzip detection: compressed and plain captures decode alike
//   - Timestamp grammar detection (min:sec, seconds, bare values) with
//     mid-stream redetection
//   - Linear interpolation onto the fixed 4 ms sample grid
//   - Delta-encoded capture support (#deltaenc header line)
//   - File, io.Reader and push-based byte sources behind one Stream API
//   - Optional realtime pacing at the 250 Hz cadence
//   - Optional reopen-and-follow for captures that are rewritten in place
//
// # Basic Usage
//
// Decoding a capture file:
//
//	import "github.com/pulseio/pulseio"
//
//	stream, err := pulseio.OpenFile("capture.txt.gz")
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//
//	for {
//	    v, err := stream.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    process(v)
//	}
//
// Feeding bytes from somewhere else, for example a network socket:
//
//	stream, _ := pulseio.OpenPush()
//	go func() {
//	    for chunk := range chunks {
//	        stream.Push(chunk)
//	    }
//	    stream.PushEnd()
//	}()
//
// # Package Structure
//
// This package provides the top-level Stream API. The underlying pieces are
// available for advanced use: the parser package holds the decode stages,
// the input package the byte sources and the drive loop, and appendbuf the
// piece-chained byte buffer they share.
package pulseio

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pulseio/pulseio/input"
	"github.com/pulseio/pulseio/internal/options"
	"github.com/pulseio/pulseio/parser"
	"github.com/pulseio/pulseio/queue"
)

const (
	// SampleInterval is the fixed spacing between two decoded samples.
	SampleInterval = 4 * time.Millisecond

	// SampleRate is the number of samples per second a stream produces.
	SampleRate = 250

	// defaultQueueCapacity bounds the samples buffered between the decode
	// goroutine and the consumer before the decoder blocks.
	defaultQueueCapacity = 128
)

type streamConfig struct {
	queueCapacity int
	realtime      bool
	reopenOnEnd   bool
	reopenOnError bool
	reopenDelay   time.Duration
}

// StreamOption configures OpenFile, OpenReader and OpenPush.
type StreamOption = options.Option[*streamConfig]

func defaultStreamConfig() *streamConfig {
	return &streamConfig{queueCapacity: defaultQueueCapacity}
}

func (c *streamConfig) runOptions() []input.RunOption {
	var opts []input.RunOption
	if c.reopenOnEnd {
		opts = append(opts, input.WithReopenOnEnd())
	}
	if c.reopenOnError {
		opts = append(opts, input.WithReopenOnError())
	}
	if c.reopenDelay > 0 {
		opts = append(opts, input.WithReopenDelay(c.reopenDelay))
	}

	return opts
}

// WithQueueCapacity sets how many decoded samples may be buffered ahead of
// the consumer. Defaults to 128.
func WithQueueCapacity(n int) StreamOption {
	return options.New(func(c *streamConfig) error {
		if n <= 0 {
			return fmt.Errorf("queue capacity must be positive, got %d", n)
		}
		c.queueCapacity = n

		return nil
	})
}

// WithRealtime paces Next and Read to the 250 Hz sample cadence instead of
// delivering samples as fast as they decode.
func WithRealtime(enabled bool) StreamOption {
	return options.NoError(func(c *streamConfig) {
		c.realtime = enabled
	})
}

// WithReopenOnEnd reopens the source from the start when it reports end of
// data instead of finishing the stream. Only path-backed streams support
// reopening.
func WithReopenOnEnd(enabled bool) StreamOption {
	return options.NoError(func(c *streamConfig) {
		c.reopenOnEnd = enabled
	})
}

// WithReopenOnError reopens the source after a read or decode failure
// instead of failing the stream.
func WithReopenOnError(enabled bool) StreamOption {
	return options.NoError(func(c *streamConfig) {
		c.reopenOnError = enabled
	})
}

// WithReopenDelay inserts a pause before each reopen attempt.
func WithReopenDelay(d time.Duration) StreamOption {
	return options.NoError(func(c *streamConfig) {
		c.reopenDelay = d
	})
}

// Stream is a decoded 250 Hz sample stream. One goroutine drives the decode
// pipeline; the consumer pulls samples with Next or Read. Streams are not
// safe for concurrent consumers, but Close may be called from any goroutine.
type Stream struct {
	q   *queue.Queue[float64]
	src input.Source

	done   chan struct{}
	runErr error

	realtime  bool
	epoch     time.Time
	delivered int64

	closeOnce sync.Once
	closeErr  error
}

// newStream wires the decode chain to a fresh sample queue, binds it to a
// source, and starts the drive goroutine.
func newStream(cfg *streamConfig, bind func(parser.Parser) (input.Source, error)) (*Stream, error) {
	q := queue.New[float64](cfg.queueCapacity)
	chain := parser.NewGzip(parser.NewText(q))

	src, err := bind(chain)
	if err != nil {
		return nil, err
	}

	s := &Stream{
		q:        q,
		src:      src,
		done:     make(chan struct{}),
		realtime: cfg.realtime,
	}
	go s.run(cfg.runOptions())

	return s, nil
}

func (s *Stream) run(opts []input.RunOption) {
	err := input.Run(s.src, opts...)
	if errors.Is(err, input.ErrSinkClosed) || errors.Is(err, queue.ErrClosed) {
		// Only Close closes the sample queue, so either way the consumer
		// shut the stream down; not a decode failure.
		err = nil
	}

	s.runErr = err
	s.q.Close()
	close(s.done)
}

// Next returns the next sample. It blocks while the decoder is behind, and
// with realtime pacing it also holds each sample until its slot on the
// 250 Hz cadence. After the last sample it returns io.EOF on a clean end of
// stream, or the error that stopped decoding.
func (s *Stream) Next() (float64, error) {
	v, err := s.q.Pop()
	if err == nil {
		s.pace()
		return v, nil
	}

	// The queue is closed and drained, so the run goroutine has finished
	// or is about to; wait for its verdict.
	<-s.done
	if s.runErr != nil {
		return 0, s.runErr
	}

	return 0, io.EOF
}

// Read fills dst with decoded samples and returns how many it wrote. It
// blocks for the first sample, then takes whatever else is already queued.
// At the end of the stream it returns 0 and io.EOF, or the error that
// stopped decoding.
func (s *Stream) Read(dst []float64) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}

	v, err := s.Next()
	if err != nil {
		return 0, err
	}
	dst[0] = v

	n := 1
	for n < len(dst) {
		v, ok := s.q.TryPop()
		if !ok {
			break
		}
		dst[n] = v
		n++
		s.pace()
	}

	return n, nil
}

// Err reports how decoding ended: nil while it is still running or after a
// clean end of stream, otherwise the failure.
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.runErr
	default:
		return nil
	}
}

// pace holds the consumer to the 250 Hz cadence. The first delivered sample
// anchors the epoch; every later sample waits for its absolute slot, so
// scheduling jitter does not accumulate.
func (s *Stream) pace() {
	if !s.realtime {
		return
	}

	if s.delivered == 0 {
		s.epoch = time.Now()
		s.delivered = 1
		return
	}

	due := s.epoch.Add(time.Duration(s.delivered) * SampleInterval)
	s.delivered++
	if d := time.Until(due); d > 0 {
		time.Sleep(d)
	}
}

// Close stops the decode goroutine, discards undelivered samples, and
// releases the source. It is idempotent and safe to call while another
// goroutine is blocked in Next.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.src.StopWait()
		s.q.Close()
		<-s.done
		s.closeErr = s.src.Close()
	})

	return s.closeErr
}

// PushStream is a Stream fed by the caller instead of a file or reader.
type PushStream struct {
	*Stream
	push *input.PushSource
}

// Push hands a chunk of capture bytes to the decoder. It never blocks; it
// returns false once the stream has ended or been closed.
func (s *PushStream) Push(data []byte) bool {
	return s.push.Push(data)
}

// PushEnd marks the end of the pushed byte stream. Pending bytes still
// decode and then the stream ends cleanly.
func (s *PushStream) PushEnd() {
	s.push.StopWait()
}

// OpenFile opens a capture file and starts decoding it.
func OpenFile(path string, opts ...StreamOption) (*Stream, error) {
	cfg := defaultStreamConfig()
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}

	return newStream(cfg, func(chain parser.Parser) (input.Source, error) {
		return input.NewFile(path, chain)
	})
}

// OpenReader starts decoding capture bytes from r. The stream owns r's
// read position until it is closed; reopen options are not supported.
func OpenReader(r io.Reader, opts ...StreamOption) (*Stream, error) {
	cfg := defaultStreamConfig()
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}

	return newStream(cfg, func(chain parser.Parser) (input.Source, error) {
		return input.NewReaderSource(r, chain), nil
	})
}

// OpenPush starts a stream whose bytes the caller supplies with Push.
func OpenPush(opts ...StreamOption) (*PushStream, error) {
	cfg := defaultStreamConfig()
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}

	var push *input.PushSource
	s, err := newStream(cfg, func(chain parser.Parser) (input.Source, error) {
		push = input.NewPush(chain)
		return push, nil
	})
	if err != nil {
		return nil, err
	}

	return &PushStream{Stream: s, push: push}, nil
}
