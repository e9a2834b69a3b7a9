package shm

import (
	"os"
	"path"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/livekit/darkcyan/pkg/errors"
)

func TestStatusRoundTrip(t *testing.T) {
	s := NewStatus(make([]byte, 100))
	require.Equal(t, 98, s.MaxLen())
	require.Equal(t, "", s.Read())

	for l := 0; l <= 98; l++ {
		msg := strings.Repeat("a", l)
		s.Write(msg)
		require.Equal(t, msg, s.Read())
	}

	t.Run("truncates", func(t *testing.T) {
		long := strings.Repeat("0123456789", 15)
		s.Write(long)
		require.Equal(t, long[:98], s.Read())

		// deterministic
		s.Write(long)
		require.Equal(t, long[:98], s.Read())
	})

	t.Run("keeps runes whole", func(t *testing.T) {
		msg := strings.Repeat("a", 97) + "é"
		s.Write(msg)
		got := s.Read()
		require.Equal(t, strings.Repeat("a", 97), got)
		require.True(t, utf8.ValidString(got))
	})

	t.Run("torn read", func(t *testing.T) {
		s.Write("Initialising Front Door...")
		s.buf[99] = 250
		got := s.Read()
		require.Len(t, got, 98)
		require.True(t, strings.HasPrefix(got, "Initialising Front Door..."))

		s.buf[0] = 0xff
		require.True(t, utf8.ValidString(s.Read()))
	})
}

func TestAllocate(t *testing.T) {
	dir := path.Join(t.TempDir(), "run")
	m, err := NewManager(dir)
	require.NoError(t, err)

	keys := []string{"front", "yard", "garage"}
	handles, err := m.Allocate(keys, 64*48*3, 100)
	require.NoError(t, err)
	require.Len(t, handles, len(keys))

	control := m.Control()
	require.NotNil(t, control)
	require.True(t, control.KeepRunning.IsSet())

	for i, h := range handles {
		require.Equal(t, keys[i], h.Key)
		require.Equal(t, 64*48*3, h.Frame.Capacity())
		require.Equal(t, 98, h.Status.MaxLen())
		require.Same(t, control, h.Control)

		m.WriteInitialStatus(h, "Initialising "+h.Key+"...")
		require.Equal(t, "Initialising "+h.Key+"...", h.Status.Read())

		for _, name := range []string{h.Names.Frame, h.Names.Status, h.Names.Gauges} {
			_, err = os.Stat(path.Join(dir, name))
			require.NoError(t, err)
		}
	}

	t.Run("worker view", func(t *testing.T) {
		w, err := Open(dir, "yard", handles[1].Names)
		require.NoError(t, err)
		defer func() {
			require.NoError(t, w.Close())
		}()

		require.Equal(t, "Initialising yard...", w.Status.Read())

		w.Status.Write("Running")
		w.SourceFPS.Set(29.97)
		w.InferenceFPS.Set(4.5)
		require.Equal(t, "Running", handles[1].Status.Read())
		require.InDelta(t, 29.97, handles[1].SourceFPS.Load(), 0.001)
		require.InDelta(t, 4.5, handles[1].InferenceFPS.Load(), 0.001)

		require.True(t, w.Control.KeepRunning.IsSet())
		control.KeepRunning.Set(false)
		require.False(t, w.Control.KeepRunning.IsSet())

		require.False(t, handles[1].Exited.IsSet())
		w.Exited.Set(true)
		require.True(t, handles[1].Exited.IsSet())
	})

	require.NoError(t, m.Release())
	require.True(t, m.Released())
	require.ErrorIs(t, m.Release(), errors.ErrReleased)

	_, err = os.Stat(dir)
	require.True(t, os.IsNotExist(err))

	_, err = m.Allocate(keys, 16, 100)
	require.ErrorIs(t, err, errors.ErrReleased)
}

func TestAllocateFailure(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	_, err = m.Allocate([]string{"a", "b"}, 1<<50, 100)
	require.ErrorIs(t, err, errors.ErrAllocationFailed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)

	_, err = m.Allocate([]string{"a"}, 16, 300)
	require.Error(t, err)
}

func TestFrameBuffer(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)
	defer func() {
		_ = m.Release()
	}()

	handles, err := m.Allocate([]string{"cam"}, 16, 100)
	require.NoError(t, err)
	fb := handles[0].Frame

	w, err := Open(dir, "cam", handles[0].Names)
	require.NoError(t, err)
	defer func() {
		_ = w.Close()
	}()

	frame := []byte("0123456789abcdef")
	require.NoError(t, w.Frame.Write(frame))

	dst := make([]byte, 16)
	n, err := fb.Read(dst)
	require.NoError(t, err)
	require.Equal(t, 16, n)
	require.Equal(t, frame, dst)

	require.Error(t, w.Frame.Write(make([]byte, 17)))

	// the worker holds the lock, the supervisor view has to wait
	require.NoError(t, w.Frame.Lock().Lock())
	ok, err := fb.Lock().TryLock()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, w.Frame.Lock().Unlock())
	ok, err = fb.Lock().TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, fb.Lock().Unlock())
}
