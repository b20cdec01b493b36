package input

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pushContents(t *testing.T, s *PushSource) string {
	t.Helper()

	buf := s.Buffer()
	dst := make([]byte, buf.Len())
	require.Equal(t, buf.Len(), buf.Copy(0, dst))

	return string(dst)
}

func TestPushSource_RoundTrip(t *testing.T) {
	s := NewPush(newScriptParser())
	defer s.Close()

	require.True(t, s.Push([]byte("abc")))
	require.Equal(t, WaitNew, s.Wait())

	n, err := s.Read()
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "abc", pushContents(t, s))

	// Nothing new; a fresh read reports would-block.
	n, err = s.Read()
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestPushSource_WaitBlocksUntilPush(t *testing.T) {
	s := NewPush(newScriptParser())
	defer s.Close()

	statusCh := make(chan WaitStatus, 1)
	go func() { statusCh <- s.Wait() }()

	time.Sleep(20 * time.Millisecond)
	require.True(t, s.Push([]byte("x")))

	select {
	case st := <-statusCh:
		require.Equal(t, WaitNew, st)
	case <-time.After(2 * time.Second):
		t.Fatal("wait not woken by push")
	}
}

func TestPushSource_StopBeforeWaitIsSticky(t *testing.T) {
	s := NewPush(newScriptParser())
	defer s.Close()

	s.StopWait()
	require.Equal(t, WaitStopped, s.Wait())
	require.False(t, s.Push([]byte("late")))
}

func TestPushSource_StopWaitUnblocksWait(t *testing.T) {
	s := NewPush(newScriptParser())
	defer s.Close()

	statusCh := make(chan WaitStatus, 1)
	go func() { statusCh <- s.Wait() }()

	time.Sleep(20 * time.Millisecond)
	s.StopWait()

	select {
	case st := <-statusCh:
		require.Equal(t, WaitStopped, st)
	case <-time.After(2 * time.Second):
		t.Fatal("wait not woken by stop")
	}
}

func TestPushSource_DataPushedBeforeStopIsDelivered(t *testing.T) {
	s := NewPush(newScriptParser())
	defer s.Close()

	require.True(t, s.Push([]byte("tail")))
	s.StopWait()

	require.Equal(t, WaitNew, s.Wait())
	n, err := s.Read()
	require.NoError(t, err)
	require.Equal(t, 4, n)

	require.Equal(t, WaitStopped, s.Wait())
}

func TestPushSource_ReadAppendsBehindRemainder(t *testing.T) {
	s := NewPush(newScriptParser())
	defer s.Close()

	// A parser left an unconsumed tail in the parse buffer.
	s.Buffer().Append([]byte("rem"))

	require.True(t, s.Push([]byte("new")))
	require.Equal(t, WaitNew, s.Wait())

	n, err := s.Read()
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "remnew", pushContents(t, s))
}

func TestPushSource_ReopenUnsupported(t *testing.T) {
	s := NewPush(newScriptParser())
	defer s.Close()

	require.ErrorIs(t, s.Reopen(), ErrReopenUnsupported)
}

func TestPushSource_CloseIdempotent(t *testing.T) {
	chain := newScriptParser()
	s := NewPush(chain)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Equal(t, 1, chain.closes)
	require.False(t, s.Push([]byte("x")))
}
