package parser

import (
	"bytes"
	"fmt"

	"github.com/pulseio/pulseio/appendbuf"
)

const (
	// maxLineLen bounds the per-line scratch. Longer lines are truncated
	// to this many bytes for scanning and the surplus is discarded.
	maxLineLen = 64

	// tickMillis is the output cadence: one sample every 4 ms (250 Hz).
	tickMillis = 4

	// timeEpsilon absorbs float fuzz when comparing tick times against
	// source timestamps. Far below half a tick.
	timeEpsilon = 1e-4

	// DeltaMarker switches the stream into delta decoding when a line
	// before grammar lock-in is exactly this marker.
	DeltaMarker = "#deltaenc"
)

type textState int

const (
	// textStateFirstLine probes a candidate first line with delta mode
	// cleared; textStateFirstLineDelta keeps delta mode armed, entered
	// after a marker line.
	textStateFirstLine textState = iota
	textStateFirstLineDelta
	textStateSteady
)

// textGrammar identifies which line shape the steady state scans with.
type textGrammar int

const (
	grammarNone     textGrammar = iota
	grammarMinSec               // "M:SS.sss V": minutes, seconds, value
	grammarFloatSec             // "T.ttt V": seconds, value
	grammarBare                 // "V": value only, one sample per line
)

// TextParser is the terminal decode stage: it splits its input into lines,
// locks onto one of three line grammars, and emits a uniform stream of
// float64 samples at the 4 ms cadence into its sink.
//
// Timestamped grammars anchor on the first parsed pair without emitting,
// then linearly interpolate between consecutive pairs, one sample per tick
// from the previous timestamp through the new one. The bare grammar emits
// each value directly. A line reading exactly "#deltaenc" before a grammar
// locks arms delta decoding: every later scanned field is added to the
// previously decoded one, with the anchor pair taken raw.
//
// A line the locked grammar cannot scan restarts detection from scratch:
// delta mode and the anchor are dropped and the line is re-interpreted as
// a candidate first line, marker check included, so the next matching pair
// re-anchors without emitting. Lines that match no grammar are skipped.
//
// Emission is non-blocking: a full sink parks the sample and Parse returns
// QueueFull with all decode state intact. WaitQueue delivers the parked
// sample with a blocking push, after which Parse resumes where it stopped.
// A final Parse flushes with blocking pushes instead and therefore never
// returns QueueFull.
type TextParser struct {
	sink Sink

	state   textState
	grammar textGrammar
	delta   bool

	line    [maxLineLen]byte
	lineLen int

	haveAnchor bool
	prevTime   float64
	prevValue  float64

	// Tick clock. curTime is recomputed from startTime and the integer
	// tick count so cadence never drifts.
	startTime float64
	tickMs    int
	curTime   float64

	interpActive bool
	interpTime   float64
	interpValue  float64

	pending    float64
	hasPending bool
}

// NewText creates the terminal text stage emitting into sink.
func NewText(sink Sink) *TextParser {
	return &TextParser{sink: sink}
}

// Parse implements Parser.
func (p *TextParser) Parse(buf *appendbuf.Buffer, final bool) (Result, error) {
	if p.hasPending {
		ok, err := p.deliverPending(final)
		if err != nil {
			return Continue, err
		}
		if !ok {
			return QueueFull, nil
		}
	}
	if p.interpActive {
		res, err := p.runInterp(final)
		if err != nil || res == QueueFull {
			return res, err
		}
	}

	for buf.Len() > 0 {
		i := buf.IndexByte(0, '\n')
		if i < 0 {
			p.absorb(buf, buf.Len())
			break
		}
		p.absorb(buf, i)
		buf.MoveHead(1)

		ln := p.line[:p.lineLen]
		p.lineLen = 0
		res, err := p.processLine(ln, final)
		if err != nil || res == QueueFull {
			return res, err
		}
	}

	if final && p.lineLen > 0 {
		ln := p.line[:p.lineLen]
		p.lineLen = 0
		return p.processLine(ln, true)
	}

	return Continue, nil
}

// absorb consumes n bytes from buf into the line scratch, truncating once
// the scratch is full.
func (p *TextParser) absorb(buf *appendbuf.Buffer, n int) {
	take := min(n, maxLineLen-p.lineLen)
	if take > 0 {
		buf.Copy(0, p.line[p.lineLen:p.lineLen+take])
		p.lineLen += take
	}
	buf.MoveHead(n)
}

func (p *TextParser) processLine(ln []byte, blocking bool) (Result, error) {
	for {
		switch p.state {
		case textStateFirstLine:
			p.delta = false
			fallthrough

		case textStateFirstLineDelta:
			p.haveAnchor = false
			g, t, v, ok := probeLine(string(ln))
			if !ok {
				if bytes.Equal(ln, []byte(DeltaMarker)) {
					p.delta = true
					p.state = textStateFirstLineDelta
				} else {
					p.state = textStateFirstLine
				}
				return Continue, nil
			}
			p.state = textStateSteady
			p.grammar = g
			return p.apply(t, v, blocking)

		case textStateSteady:
			t, v, ok := scanLine(p.grammar, string(ln))
			if !ok {
				// The grammar lost the stream; reread this line from
				// scratch.
				p.state = textStateFirstLine
				continue
			}
			return p.apply(t, v, blocking)
		}
	}
}

// probeLine tries the grammars most-specific first and reports the one
// that scans the line in full.
func probeLine(ln string) (textGrammar, float64, float64, bool) {
	var (
		mins   int
		sec, v float64
	)
	if n, _ := fmt.Sscanf(ln, "%d:%g %g", &mins, &sec, &v); n == 3 {
		return grammarMinSec, float64(mins)*60 + sec, v, true
	}
	if n, _ := fmt.Sscanf(ln, "%g %g", &sec, &v); n == 2 {
		return grammarFloatSec, sec, v, true
	}
	if n, _ := fmt.Sscanf(ln, "%g", &v); n == 1 {
		return grammarBare, 0, v, true
	}

	return grammarNone, 0, 0, false
}

// scanLine scans ln with a locked grammar.
func scanLine(g textGrammar, ln string) (float64, float64, bool) {
	var (
		mins   int
		sec, v float64
	)
	switch g {
	case grammarMinSec:
		if n, _ := fmt.Sscanf(ln, "%d:%g %g", &mins, &sec, &v); n == 3 {
			return float64(mins)*60 + sec, v, true
		}
	case grammarFloatSec:
		if n, _ := fmt.Sscanf(ln, "%g %g", &sec, &v); n == 2 {
			return sec, v, true
		}
	case grammarBare:
		if n, _ := fmt.Sscanf(ln, "%g", &v); n == 1 {
			return 0, v, true
		}
	}

	return 0, 0, false
}

func (p *TextParser) apply(t, v float64, blocking bool) (Result, error) {
	if p.grammar == grammarBare {
		if !p.haveAnchor {
			p.haveAnchor = true
			p.prevValue = 0
		}
		if p.delta {
			v += p.prevValue
		}
		p.prevValue = v

		ok, err := p.emit(v, blocking)
		if err != nil {
			return Continue, err
		}
		if !ok {
			return QueueFull, nil
		}
		return Continue, nil
	}

	if !p.haveAnchor {
		// The anchor pair is taken raw even in delta mode.
		p.haveAnchor = true
		p.prevTime = t
		p.prevValue = v
		p.startTime = t
		p.tickMs = 0
		p.curTime = t
		return Continue, nil
	}

	if p.delta {
		t += p.prevTime
		v += p.prevValue
	}

	p.interpTime = t
	p.interpValue = v
	p.interpActive = true

	return p.runInterp(blocking)
}

// runInterp emits one sample per tick from the previous anchor through the
// pending timestamp, then advances the anchor. The tick clock moves before
// each emission attempt so a parked sample is never produced twice.
func (p *TextParser) runInterp(blocking bool) (Result, error) {
	for p.curTime <= p.interpTime+timeEpsilon {
		span := p.interpTime - p.prevTime
		frac := 0.0
		if span != 0 {
			frac = (p.curTime - p.prevTime) / span
		}
		v := p.prevValue + (p.interpValue-p.prevValue)*frac

		p.tickMs += tickMillis
		p.curTime = p.startTime + float64(p.tickMs)/1000.0

		ok, err := p.emit(v, blocking)
		if err != nil {
			return Continue, err
		}
		if !ok {
			return QueueFull, nil
		}
	}

	p.interpActive = false
	p.prevTime = p.interpTime
	p.prevValue = p.interpValue

	return Continue, nil
}

// emit pushes one sample. Non-blocking failure parks the sample for
// WaitQueue or the next Parse to deliver.
func (p *TextParser) emit(v float64, blocking bool) (bool, error) {
	if blocking {
		if err := p.sink.Push(v); err != nil {
			return false, fmt.Errorf("push sample failed: %w", err)
		}
		return true, nil
	}
	if p.sink.TryPush(v) {
		return true, nil
	}
	p.pending = v
	p.hasPending = true

	return false, nil
}

func (p *TextParser) deliverPending(blocking bool) (bool, error) {
	if blocking {
		if err := p.sink.Push(p.pending); err != nil {
			return false, fmt.Errorf("push sample failed: %w", err)
		}
		p.hasPending = false
		return true, nil
	}
	if p.sink.TryPush(p.pending) {
		p.hasPending = false
		return true, nil
	}

	return false, nil
}

// WaitQueue implements Parser: it delivers the parked sample with a
// blocking push. A sink that is gone reports false.
func (p *TextParser) WaitQueue() bool {
	if !p.hasPending {
		return true
	}
	if err := p.sink.Push(p.pending); err != nil {
		return false
	}
	p.hasPending = false

	return true
}

// Reset implements Parser, returning the stage to first-line state with
// detection, delta mode and anchors cleared.
func (p *TextParser) Reset() error {
	p.state = textStateFirstLine
	p.grammar = grammarNone
	p.delta = false
	p.lineLen = 0
	p.haveAnchor = false
	p.prevTime = 0
	p.prevValue = 0
	p.startTime = 0
	p.tickMs = 0
	p.curTime = 0
	p.interpActive = false
	p.interpTime = 0
	p.interpValue = 0
	p.hasPending = false
	p.pending = 0

	return nil
}

// Close implements Parser. The sink is owned by the pipeline, not the
// stage, so there is nothing to release.
func (p *TextParser) Close() error {
	return nil
}
