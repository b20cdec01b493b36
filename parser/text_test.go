package parser

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pulseio/pulseio/appendbuf"
	"github.com/pulseio/pulseio/queue"
)

// stubSink collects emitted samples. TryPush succeeds while fewer than room
// samples are stored; Push always stores unless the sink is closed.
type stubSink struct {
	samples []float64
	room    int
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{room: math.MaxInt}
}

func (s *stubSink) TryPush(v float64) bool {
	if s.closed || len(s.samples) >= s.room {
		return false
	}
	s.samples = append(s.samples, v)

	return true
}

func (s *stubSink) Push(v float64) error {
	if s.closed {
		return queue.ErrClosed
	}
	s.samples = append(s.samples, v)

	return nil
}

// parseText feeds data through p in one call and requires clean completion.
func parseText(t *testing.T, p *TextParser, data string, final bool) {
	t.Helper()

	var buf appendbuf.Buffer
	buf.Append([]byte(data))

	res, err := p.Parse(&buf, final)
	require.NoError(t, err)
	require.Equal(t, Continue, res)
	require.Equal(t, 0, buf.Len())
}

func TestTextParser_FloatSecondsInterpolation(t *testing.T) {
	sink := newStubSink()
	p := NewText(sink)

	parseText(t, p, "0.000 10.0\n1.000 20.0\n", false)

	// One second at 4 ms per sample, both endpoints included.
	require.Len(t, sink.samples, 251)
	require.InDelta(t, 10.0, sink.samples[0], 1e-9)
	require.InDelta(t, 15.0, sink.samples[125], 1e-9)
	require.InDelta(t, 20.0, sink.samples[250], 1e-9)
}

func TestTextParser_MinutesSecondsGrammar(t *testing.T) {
	sink := newStubSink()
	p := NewText(sink)

	parseText(t, p, "1:00.000 1.0\n1:01.000 2.0\n", false)

	require.Len(t, sink.samples, 251)
	require.InDelta(t, 1.0, sink.samples[0], 1e-9)
	require.InDelta(t, 2.0, sink.samples[250], 1e-9)
}

func TestTextParser_BareValues(t *testing.T) {
	sink := newStubSink()
	p := NewText(sink)

	parseText(t, p, "1.5\n2.5\n-3.25\n", true)

	require.Equal(t, []float64{1.5, 2.5, -3.25}, sink.samples)
}

func TestTextParser_DeltaEncodedBare(t *testing.T) {
	sink := newStubSink()
	p := NewText(sink)

	parseText(t, p, "#deltaenc\n1.000\n1.000\n", true)

	require.Len(t, sink.samples, 2)
	require.InDelta(t, 1.0, sink.samples[0], 1e-9)
	require.InDelta(t, 2.0, sink.samples[1], 1e-9)
}

func TestTextParser_DeltaTimestamped(t *testing.T) {
	sink := newStubSink()
	p := NewText(sink)

	parseText(t, p, "#deltaenc\n0.0 10\n1.0 10\n", false)

	// Values decode to 10 then 20; interpolation runs between them.
	require.Len(t, sink.samples, 251)
	require.InDelta(t, 10.0, sink.samples[0], 1e-9)
	require.InDelta(t, 20.0, sink.samples[250], 1e-9)
}

func TestTextParser_DeltaTimestampedNonzeroAnchor(t *testing.T) {
	sink := newStubSink()
	p := NewText(sink)

	parseText(t, p, "#deltaenc\n10.0 1.0\n0.5 1.0\n", false)

	// The anchor pair is raw; the next line decodes both fields against
	// it, reaching 10.5 s and 2.0. Half a second of ticks spans 1.0→2.0.
	require.Len(t, sink.samples, 126)
	require.InDelta(t, 1.0, sink.samples[0], 1e-9)
	require.InDelta(t, 1.504, sink.samples[63], 1e-9)
	require.InDelta(t, 2.0, sink.samples[125], 1e-9)
}

func TestTextParser_MarkerHonoredAfterRestart(t *testing.T) {
	sink := newStubSink()
	p := NewText(sink)

	parseText(t, p, "1.0\n#deltaenc\n2.0\n0.5\n", true)

	// The marker fails the locked bare grammar, which restarts detection
	// from scratch; re-read as a first line it arms delta decoding, so the
	// values after it accumulate.
	require.Len(t, sink.samples, 3)
	require.InDelta(t, 1.0, sink.samples[0], 1e-9)
	require.InDelta(t, 2.0, sink.samples[1], 1e-9)
	require.InDelta(t, 2.5, sink.samples[2], 1e-9)
}

func TestTextParser_RestartClearsDeltaMode(t *testing.T) {
	sink := newStubSink()
	p := NewText(sink)

	parseText(t, p, "#deltaenc\n1.0\n1.0\nnoise\n5.0\n", true)

	// Detection restarts at the noise line, dropping delta mode, so the
	// value after it is absolute again.
	require.Len(t, sink.samples, 3)
	require.InDelta(t, 1.0, sink.samples[0], 1e-9)
	require.InDelta(t, 2.0, sink.samples[1], 1e-9)
	require.InDelta(t, 5.0, sink.samples[2], 1e-9)
}

func TestTextParser_NoiseRestartsDetection(t *testing.T) {
	sink := newStubSink()
	p := NewText(sink)

	parseText(t, p, "0.0 10\n1.0 20\nnoise here\n2.0 30\n3.0 40\n", false)

	// The noise line drops the grammar lock, the anchor and the cadence.
	// "2.0 30" then re-anchors without emitting and interpolation resumes
	// from there.
	require.Len(t, sink.samples, 502)
	require.InDelta(t, 10.0, sink.samples[0], 1e-9)
	require.InDelta(t, 20.0, sink.samples[250], 1e-9)
	require.InDelta(t, 30.0, sink.samples[251], 1e-9)
	require.InDelta(t, 40.0, sink.samples[501], 1e-9)
}

func TestTextParser_GrammarSwitchToBare(t *testing.T) {
	sink := newStubSink()
	p := NewText(sink)

	parseText(t, p, "1.0 10\n2.0 20\n5.5\n", true)

	require.Len(t, sink.samples, 252)
	require.InDelta(t, 10.0, sink.samples[0], 1e-9)
	require.InDelta(t, 20.0, sink.samples[250], 1e-9)
	require.InDelta(t, 5.5, sink.samples[251], 1e-9)
}

func TestTextParser_SplitAcrossFills(t *testing.T) {
	sink := newStubSink()
	p := NewText(sink)

	parseText(t, p, "1.", false)
	parseText(t, p, "5\n2", false)
	parseText(t, p, ".5\n", false)

	require.Equal(t, []float64{1.5, 2.5}, sink.samples)
}

func TestTextParser_ManyLinesAcrossPieces(t *testing.T) {
	sink := newStubSink()
	p := NewText(sink)

	var sb strings.Builder
	for range 200 {
		sb.WriteString("7.25\n")
	}
	parseText(t, p, sb.String(), true)

	require.Len(t, sink.samples, 200)
	require.InDelta(t, 7.25, sink.samples[0], 1e-9)
	require.InDelta(t, 7.25, sink.samples[199], 1e-9)
}

func TestTextParser_LongLineTruncated(t *testing.T) {
	sink := newStubSink()
	p := NewText(sink)

	long := "1.0" + strings.Repeat(" ", 70) + "9.9"
	parseText(t, p, long+"\n2.0\n", true)

	// Only the first 64 bytes are scanned, so the trailing 9.9 is gone and
	// the line reads as a bare value.
	require.Equal(t, []float64{1.0, 2.0}, sink.samples)
}

func TestTextParser_FinalFlushesUnterminatedLine(t *testing.T) {
	sink := newStubSink()
	p := NewText(sink)

	parseText(t, p, "7.25", true)

	require.Equal(t, []float64{7.25}, sink.samples)
}

func TestTextParser_SkipsEmptyAndNoiseLines(t *testing.T) {
	sink := newStubSink()
	p := NewText(sink)

	parseText(t, p, "\n\n# comment text\n4.5\n", true)

	require.Equal(t, []float64{4.5}, sink.samples)
}

func TestTextParser_SameTimestampPair(t *testing.T) {
	sink := newStubSink()
	p := NewText(sink)

	parseText(t, p, "1.0 5\n1.0 7\n", true)

	// Zero span emits the previous value once instead of dividing by zero.
	require.Len(t, sink.samples, 1)
	require.InDelta(t, 5.0, sink.samples[0], 1e-9)
}

func TestTextParser_TimeGoingBackward(t *testing.T) {
	sink := newStubSink()
	p := NewText(sink)

	parseText(t, p, "5.0 1\n4.0 9\n6.0 3\n", false)

	// The backward pair emits nothing but replaces the anchor; the tick
	// clock never rewinds, so emission resumes at 5.0 seconds.
	require.Len(t, sink.samples, 251)
	require.InDelta(t, 6.0, sink.samples[0], 1e-9)
	require.InDelta(t, 3.0, sink.samples[250], 1e-9)
}

func TestTextParser_BackpressureParksAndResumes(t *testing.T) {
	sink := newStubSink()
	sink.room = 1
	p := NewText(sink)

	var buf appendbuf.Buffer
	buf.Append([]byte("0.0 0\n1.0 250\n"))

	res, err := p.Parse(&buf, false)
	require.NoError(t, err)

	for i := 0; res == QueueFull; i++ {
		require.Less(t, i, 300)
		require.True(t, p.WaitQueue())

		res, err = p.Parse(&buf, false)
		require.NoError(t, err)
	}

	// Every sample arrives exactly once and in order despite the parking.
	require.Len(t, sink.samples, 251)
	for i, v := range sink.samples {
		require.InDelta(t, float64(i), v, 1e-9)
	}
}

func TestTextParser_WaitQueueFalseWhenSinkClosed(t *testing.T) {
	sink := newStubSink()
	sink.room = 0
	p := NewText(sink)

	var buf appendbuf.Buffer
	buf.Append([]byte("1\n"))

	res, err := p.Parse(&buf, false)
	require.NoError(t, err)
	require.Equal(t, QueueFull, res)

	sink.closed = true
	require.False(t, p.WaitQueue())
}

func TestTextParser_PushErrorSurfacesOnFinal(t *testing.T) {
	sink := newStubSink()
	sink.closed = true
	p := NewText(sink)

	var buf appendbuf.Buffer
	buf.Append([]byte("1.0\n"))

	_, err := p.Parse(&buf, true)
	require.Error(t, err)
	require.ErrorIs(t, err, queue.ErrClosed)
}

func TestTextParser_ResetClearsState(t *testing.T) {
	sink := newStubSink()
	p := NewText(sink)

	parseText(t, p, "#deltaenc\n1\n1\n", true)
	require.Len(t, sink.samples, 2)
	require.InDelta(t, 2.0, sink.samples[1], 1e-9)

	require.NoError(t, p.Reset())
	sink.samples = nil

	// Delta mode is gone and line one is the marker slot again.
	parseText(t, p, "1\n1\n", true)
	require.Len(t, sink.samples, 2)
	require.InDelta(t, 1.0, sink.samples[0], 1e-9)
	require.InDelta(t, 1.0, sink.samples[1], 1e-9)
}
