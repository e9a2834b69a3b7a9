package logging

import (
	"bytes"
	"os"
	"path"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/livekit/darkcyan/pkg/config"
	"github.com/livekit/darkcyan/pkg/errors"
)

func TestEventLogObserved(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e := NewEventLogFromCore(core)

	e.Infow("result", "source", "front", "categories", []string{"person"})
	e.Warnw("worker still running after grace period", errors.New("timeout"), "source", "back")

	require.Equal(t, 1, logs.FilterMessage("result").Len())
	entry := logs.FilterMessage("result").All()[0]
	require.Equal(t, "front", entry.ContextMap()["source"])
	require.Equal(t, []interface{}{"person"}, entry.ContextMap()["categories"])

	warn := logs.FilterMessage("worker still running after grace period").All()
	require.Len(t, warn, 1)
	require.Equal(t, zapcore.WarnLevel, warn[0].Level)
	require.Equal(t, "timeout", warn[0].ContextMap()["error"])
	require.NoError(t, e.Close())
}

func TestEventLogFile(t *testing.T) {
	filename := path.Join(t.TempDir(), "events", "vision.log")
	e, err := NewEventLog(&config.LogFileConfig{Filename: filename})
	require.NoError(t, err)

	e.Infow("started process", "source", "front")
	require.NoError(t, e.Close())

	b, err := os.ReadFile(filename)
	require.NoError(t, err)
	require.Contains(t, string(b), `"msg":"started process"`)
	require.Contains(t, string(b), `"source":"front"`)

	disabled, err := NewEventLog(&config.LogFileConfig{Disabled: true})
	require.NoError(t, err)
	disabled.Infow("ignored")
	require.NoError(t, disabled.Close())
}

func TestWorkerLogger(t *testing.T) {
	var out bytes.Buffer
	l := NewWorkerLogger("DCW_1", "front")
	l.out = &out

	_, err := l.Write([]byte(`{"level":"info","msg":"opened segments"}` + "\n" + `{"level":"info",`))
	require.NoError(t, err)
	require.Equal(t, `{"level":"info","msg":"opened segments"}`+"\n", out.String())

	_, err = l.Write([]byte(`"msg":"ready"}` + "\n"))
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(out.String(), `{"level":"info","msg":"ready"}`+"\n"))

	_, err = l.Write([]byte("trailing"))
	require.NoError(t, err)
	require.Equal(t, "trailing", l.partial)
	l.Flush()
	require.Empty(t, l.partial)
}

func TestWorkerLoggerLongLine(t *testing.T) {
	var out bytes.Buffer
	l := NewWorkerLogger("DCW_1", "front")
	l.out = &out

	_, err := l.Write([]byte(strings.Repeat("x", maxLineLength+10)))
	require.NoError(t, err)
	require.Len(t, l.partial, 10)

	for i := 0; i < 4; i++ {
		_, err = l.Write([]byte(strings.Repeat("y", maxLineLength/2)))
		require.NoError(t, err)
		require.Less(t, len(l.partial), maxLineLength)
	}

	_, err = l.Write([]byte(`{"msg":"after"}` + "\n"))
	require.NoError(t, err)
	require.Empty(t, l.partial)
}

type row struct {
	Source     string
	Categories string
	Count      int
}

func TestCSVLogger(t *testing.T) {
	dir := t.TempDir()
	l, err := NewCSVLogger[row](dir, "results")
	require.NoError(t, err)
	require.Equal(t, path.Join(dir, "results.csv"), l.Filename())

	require.NoError(t, l.Write(&row{Source: "front", Categories: "person,car", Count: 2}))
	require.NoError(t, l.Write(&row{Source: "back", Categories: "", Count: 0}))
	require.Equal(t, 2, l.Rows())
	require.NoError(t, l.Close())

	b, err := os.ReadFile(l.Filename())
	require.NoError(t, err)
	require.Equal(t, "Source,Categories,Count\nfront,\"person,car\",2\nback,,0\n", string(b))
}
