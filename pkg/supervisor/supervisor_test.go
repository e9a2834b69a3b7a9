package supervisor

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/livekit/darkcyan/pkg/config"
	"github.com/livekit/darkcyan/pkg/errors"
	"github.com/livekit/darkcyan/pkg/logging"
	"github.com/livekit/darkcyan/pkg/shm"
	"github.com/livekit/darkcyan/pkg/types"
)

const helperEnv = "DARKCYAN_HELPER_PROCESS"

// TestHelperProcess is the worker binary used by these tests.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv(helperEnv)
	if mode == "" {
		return
	}

	switch mode {
	case "exit":
		os.Exit(0)
	case "block":
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT)
		<-sig
		os.Exit(0)
	case "stubborn":
		signal.Ignore(syscall.SIGINT)
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	os.Exit(2)
}

type testLauncher struct {
	*ExecLauncher
	broken string
}

func (l *testLauncher) Command(ctx context.Context, conf *config.WorkerConfig) (*exec.Cmd, error) {
	if conf.SourceKey == l.broken {
		return exec.Command("/nonexistent/darkcyan-worker"), nil
	}
	return l.ExecLauncher.Command(ctx, conf)
}

func newTestLauncher(mode, broken string) *testLauncher {
	return &testLauncher{
		ExecLauncher: &ExecLauncher{
			Binary: os.Args[0],
			Args:   []string{"-test.run=TestHelperProcess", "--"},
			Env:    []string{helperEnv + "=" + mode},
		},
		broken: broken,
	}
}

func newTestSources(t *testing.T, keys ...string) []*types.SourceDescriptor {
	m, err := shm.NewManager(t.TempDir())
	require.NoError(t, err)
	segments, err := m.Allocate(keys, 64, 100)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Release() })

	sources := make([]*types.SourceDescriptor, 0, len(keys))
	for i, key := range keys {
		sources = append(sources, types.NewSourceDescriptor(key, &config.SourceConfig{
			Name:           "Camera " + key,
			ConnectionPath: "testsrc://",
			Width:          4,
			Height:         4,
		}, segments[i]))
	}
	return sources
}

func newTestSupervisor(launcher Launcher) (*Supervisor, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	conf := &config.ServiceConfig{Frame: config.FrameConfig{Width: 4, Height: 4, Channels: 1}}
	conf.NodeID = "DC_test"
	return NewSupervisor(conf, launcher, logging.NewEventLogFromCore(core)), logs
}

func TestStartAll(t *testing.T) {
	s, logs := newTestSupervisor(newTestLauncher("block", ""))
	sources := newTestSources(t, "front", "back")

	started := s.StartAll(context.Background(), sources)
	require.Len(t, started, 2)
	require.Empty(t, s.Failed())
	require.Equal(t, 2, logs.FilterMessage("starting process").Len())
	require.Equal(t, 2, logs.FilterMessage("started process").Len())

	for _, p := range started {
		require.True(t, p.IsAlive())
		require.False(t, p.Join(50*time.Millisecond))
	}

	p, err := s.Process("back")
	require.NoError(t, err)
	require.Equal(t, "Camera back", p.Source.Name)
	_, err = s.Process("side")
	require.ErrorIs(t, err, errors.ErrSourceNotFound)

	s.TerminateAll()
	for _, p := range started {
		require.True(t, p.Join(time.Second))
		require.False(t, p.IsAlive())
	}
	require.Empty(t, s.Running())

	require.Eventually(t, func() bool {
		return logs.FilterMessage("process exited").Len() == 2
	}, time.Second, 10*time.Millisecond)
}

func TestStartFailureIsolated(t *testing.T) {
	s, logs := newTestSupervisor(newTestLauncher("exit", "back"))
	sources := newTestSources(t, "front", "back", "side")

	started := s.StartAll(context.Background(), sources)
	require.Len(t, started, 2)
	require.Equal(t, "front", started[0].Source.Key)
	require.Equal(t, "side", started[1].Source.Key)

	failed := s.Failed()
	require.Len(t, failed, 1)
	require.ErrorIs(t, failed["back"], errors.ErrWorkerStartFailed)
	require.Equal(t, 1, logs.FilterMessage("failed to start process").Len())

	for _, p := range started {
		select {
		case <-p.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("worker should have exited")
		}
	}
}

func TestTerminateKillsStubbornProcess(t *testing.T) {
	s, _ := newTestSupervisor(newTestLauncher("stubborn", ""))
	started := s.StartAll(context.Background(), newTestSources(t, "front"))
	require.Len(t, started, 1)

	// give the helper time to ignore SIGINT
	time.Sleep(200 * time.Millisecond)

	p := started[0]
	p.Terminate()
	require.False(t, p.IsAlive())
	require.Error(t, p.ExitErr())
}

func TestSourcesAndIsRunning(t *testing.T) {
	s, _ := newTestSupervisor(newTestLauncher("block", "back"))
	started := s.StartAll(context.Background(), newTestSources(t, "front", "back"))
	require.Len(t, started, 1)

	sources := s.Sources()
	require.Len(t, sources, 1)
	require.Equal(t, "front", sources[0].Key)
	require.True(t, s.IsRunning("front"))
	require.False(t, s.IsRunning("back"))

	s.TerminateAll()
	require.False(t, s.IsRunning("front"))
}
