package results

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livekit/darkcyan/pkg/errors"
)

func record(i int) *Record {
	return &Record{
		Source:     "front",
		Categories: []string{fmt.Sprintf("cat-%d", i)},
		Boxes:      [][]float64{{float64(i), float64(i), 50, 50}},
	}
}

func TestChannelFIFO(t *testing.T) {
	c := NewChannel(5)
	ctx := context.Background()

	_, ok := c.TryPop()
	require.False(t, ok)

	for i := 1; i <= 3; i++ {
		require.NoError(t, c.Push(ctx, record(i)))
	}
	require.Equal(t, 3, c.Len())

	for i := 1; i <= 3; i++ {
		r, ok := c.TryPop()
		require.True(t, ok)
		require.Equal(t, []string{fmt.Sprintf("cat-%d", i)}, r.Categories)
	}

	_, ok = c.TryPop()
	require.False(t, ok)
}

func TestChannelBackpressure(t *testing.T) {
	c := NewChannel(5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Push(ctx, record(i)))
	}

	pushed := make(chan error, 1)
	go func() {
		pushed <- c.Push(ctx, record(5))
	}()

	select {
	case <-pushed:
		t.Fatal("sixth push should block")
	case <-time.After(100 * time.Millisecond):
	}

	r, ok := c.TryPop()
	require.True(t, ok)
	require.Equal(t, []string{"cat-0"}, r.Categories)

	select {
	case err := <-pushed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("push should complete after a pop")
	}
	require.Equal(t, 5, c.Len())
}

func TestChannelCancel(t *testing.T) {
	c := NewChannel(1)
	require.NoError(t, c.Push(context.Background(), record(0)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.Push(ctx, record(1)), context.DeadlineExceeded)
}

func TestChannelClose(t *testing.T) {
	c := NewChannel(1)
	require.NoError(t, c.Push(context.Background(), record(0)))

	pushed := make(chan error, 1)
	go func() {
		pushed <- c.Push(context.Background(), record(1))
	}()

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, c.Close())

	select {
	case err := <-pushed:
		require.ErrorIs(t, err, errors.ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatal("close should release blocked producers")
	}

	_, ok := c.TryPop()
	require.False(t, ok)
	require.ErrorIs(t, c.Push(context.Background(), record(2)), errors.ErrChannelClosed)
}
