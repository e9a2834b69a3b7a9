package server

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/livekit/darkcyan/pkg/config"
	"github.com/livekit/darkcyan/pkg/display"
	"github.com/livekit/darkcyan/pkg/ipc"
	"github.com/livekit/darkcyan/pkg/logging"
	"github.com/livekit/darkcyan/pkg/results"
	"github.com/livekit/darkcyan/pkg/supervisor"
	"github.com/livekit/darkcyan/pkg/worker"
)

const (
	helperEnv     = "DARKCYAN_HELPER_PROCESS"
	shutdownSlack = 750 * time.Millisecond
)

// TestHelperProcess runs a real worker when launched by the supervisor.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) == "" {
		return
	}

	var body string
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			body = os.Args[i+1]
		}
	}

	conf, err := config.NewWorkerConfig(body)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	w, err := worker.New(conf)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT)
	defer cancel()

	err = w.Run(ctx)
	_ = w.Close()
	if err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func newTestServer(t *testing.T, sources string, runFor time.Duration) (*Server, *display.Recorder, *observer.ObservedLogs) {
	// unix socket paths are limited in length
	tmp, err := os.MkdirTemp("", "dcsrv")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(tmp) })

	conf, err := config.NewServiceConfig(fmt.Sprintf(`
run_for: %s
grace_period: 2s
idle_sleep: 10ms
shm_dir: %s
tmp_dir: %s
log_file:
  disabled: true
frame:
  width: 8
  height: 6
  channels: 3
archive:
  filename: results.csv
sources:
%s`, runFor, path.Join(t.TempDir(), "shm"), tmp, sources))
	require.NoError(t, err)

	core, logs := observer.New(zapcore.DebugLevel)
	recorder := display.NewRecorder()
	s, err := NewServer(conf, Options{
		Launcher: &supervisor.ExecLauncher{
			Binary: os.Args[0],
			Args:   []string{"-test.run=TestHelperProcess", "--"},
			Env:    []string{helperEnv + "=1"},
		},
		Display: recorder,
		Events:  logging.NewEventLogFromCore(core),
	})
	require.NoError(t, err)

	return s, recorder, logs
}

func TestServerRun(t *testing.T) {
	s, recorder, logs := newTestServer(t, `
  front:
    name: Front Door
    connection_path: testsrc://?fps=50&detect_every=5
  back:
    name: Back Yard
    connection_path: testsrc://?fps=50&detect_every=5
`, 2*time.Second)

	// every status region starts out initialised
	for _, src := range s.Sources() {
		require.Equal(t, "Initialising "+src.Name+"...", src.Status().Read())
	}
	shmDir := s.Manager().Dir()

	start := time.Now()
	require.NoError(t, s.Run(context.Background()))
	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, s.conf.RunFor)
	require.Less(t, elapsed, s.conf.RunFor+s.conf.GracePeriod+shutdownSlack)

	loop := s.Loop()
	require.Equal(t, StateStopped, loop.State())
	require.Equal(t, StopReasonRunFor, loop.StopReason())
	require.Greater(t, loop.Consumed(), uint64(0))
	require.EqualValues(t, loop.Consumed(), logs.FilterMessage("result").Len())

	require.Equal(t, 2, logs.FilterMessage("started process").Len())
	require.Equal(t, 2, logs.FilterMessage("worker ready").Len())
	require.Equal(t, 2, logs.FilterMessage("worker finished").Len())
	require.Zero(t, logs.FilterMessage("worker still running after grace period").Len())

	// workers stopped through the shared flag
	snapshot := loop.Snapshot()
	require.Equal(t, "Stopped", snapshot["front"].Status)
	require.Equal(t, "Stopped", snapshot["back"].Status)
	line, ok := recorder.Line("back")
	require.True(t, ok)
	require.Equal(t, "Back Yard", line.Name)

	require.True(t, s.Manager().Released())
	_, err := os.Stat(shmDir)
	require.True(t, os.IsNotExist(err))

	stored := logs.FilterMessage("results archive stored").All()
	require.Len(t, stored, 1)
	b, err := os.ReadFile(stored[0].ContextMap()["location"].(string))
	require.NoError(t, err)
	require.Contains(t, string(b), "Timestamp,Source,Categories,Boxes\n")

	b, err = s.Status()
	require.NoError(t, err)
	status := &Status{}
	require.NoError(t, json.Unmarshal(b, status))
	require.Equal(t, "stopped", status.State)
	require.Len(t, status.Sources, 2)
	require.Empty(t, status.Failed)
}

func TestServerStartFailureIsolated(t *testing.T) {
	s, recorder, logs := newTestServer(t, `
  front:
    name: Front Door
    connection_path: testsrc://?fps=50
  broken:
    name: Broken
    connection_path: rtsp://camera.local/stream
`, time.Second)

	require.NoError(t, s.Run(context.Background()))

	// the broken worker exits on its own; its sibling runs until the end
	snapshot := s.Loop().Snapshot()
	require.Equal(t, "Stopped", snapshot["front"].Status)
	require.Equal(t, "Initialising Broken...", snapshot["broken"].Status)
	line, ok := recorder.Line("broken")
	require.True(t, ok)
	require.Equal(t, "Initialising Broken... (process exited)", line.Status)
	require.Eventually(t, func() bool {
		return logs.FilterMessage("process exited").Len() == 2
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, StopReasonRunFor, s.Loop().StopReason())
}

func TestServerRunWithoutResults(t *testing.T) {
	s, _, logs := newTestServer(t, `
  front:
    name: Front Door
    connection_path: testsrc://?fps=30&detect_every=0
  back:
    name: Back Yard
    connection_path: testsrc://?fps=30&detect_every=0
`, 2*time.Second)

	start := time.Now()
	require.NoError(t, s.Run(context.Background()))
	elapsed := time.Since(start)

	require.GreaterOrEqual(t, elapsed, s.conf.RunFor)
	require.Less(t, elapsed, s.conf.RunFor+s.conf.GracePeriod+shutdownSlack)
	require.Zero(t, s.Loop().Consumed())
	require.Zero(t, logs.FilterMessage("result").Len())
	require.Equal(t, StopReasonRunFor, s.Loop().StopReason())
	require.True(t, s.Manager().Released())
}

func TestServerPushResult(t *testing.T) {
	s, _, logs := newTestServer(t, `
  front:
    name: Front Door
    connection_path: testsrc://
`, time.Minute)
	t.Cleanup(s.cleanup)

	client, err := ipc.NewSupervisorClient(s.conf.IPCDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = client.PushResult(ctx, &ipc.PushResultRequest{
		WorkerID: "DCW_test",
		Record: &results.Record{
			Source:     "front",
			Categories: []string{"person"},
			Boxes:      [][]float64{{10, 10, 50, 50}},
		},
	})
	require.NoError(t, err)

	// no workers are started, the loop consumes the pushed record and stops
	s.loop.Abort = abortFunc(func() bool { return s.loop.Consumed() > 0 })
	require.NoError(t, s.loop.Run(ctx))

	logged := logs.FilterMessage("result").All()
	require.Len(t, logged, 1)
	fields := logged[0].ContextMap()
	require.Equal(t, "front", fields["source"])
	require.Equal(t, []interface{}{"person"}, fields["categories"])
	require.Equal(t, [][]float64{{10, 10, 50, 50}}, fields["boxes"])

	// the channel is closed once the loop has stopped
	_, err = client.PushResult(ctx, &ipc.PushResultRequest{Record: &results.Record{Source: "front"}})
	require.Equal(t, codes.Unavailable, status.Code(err))
	_, err = client.PushResult(ctx, &ipc.PushResultRequest{})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}
