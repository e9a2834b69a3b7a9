package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livekit/darkcyan/pkg/errors"
)

const testConfig = `
logging:
  level: debug
run_for: 2s
sources:
  front:
    name: Front Door
    connection_path: testsrc://?fps=15
  yard:
    name: Yard
    cv2_connection_string: rtsp://10.0.0.2/stream1
    width: 640
    height: 480
`

func TestNewServiceConfig(t *testing.T) {
	conf, err := NewServiceConfig(testConfig)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(conf.NodeID, "DC_"))
	require.Equal(t, 2*time.Second, conf.RunFor)
	require.Equal(t, 2*time.Second, conf.GracePeriod)
	require.Equal(t, 100*time.Millisecond, conf.IdleSleep)
	require.Equal(t, 5, conf.ResultQueueSize)
	require.Equal(t, 100, conf.StatusCapacity)
	require.Equal(t, 1280*960*3, conf.Frame.Capacity())
	require.Equal(t, []string{"front", "yard"}, conf.SourceKeys())

	front := conf.Sources["front"]
	require.Equal(t, "Front Door", front.Name)
	require.Equal(t, 1280, front.Width)
	require.Equal(t, 960, front.Height)

	yard := conf.Sources["yard"]
	require.Equal(t, "rtsp://10.0.0.2/stream1", yard.ConnectionPath)
	require.Equal(t, 640*480*3, yard.FrameSize(conf.Frame.Channels))

	require.True(t, strings.HasSuffix(conf.RunShmDir(), conf.NodeID))
	require.True(t, strings.HasSuffix(conf.IPCDir(), conf.NodeID))
}

func TestNewServiceConfigErrors(t *testing.T) {
	for name, body := range map[string]string{
		"no sources": `run_for: 1s`,
		"missing name": `
sources:
  a:
    connection_path: testsrc://`,
		"missing connection": `
sources:
  a:
    name: A`,
		"duplicate name": `
sources:
  a:
    name: Same
    connection_path: testsrc://
  b:
    name: Same
    connection_path: testsrc://`,
		"frame too large": `
frame:
  width: 320
  height: 240
sources:
  a:
    name: A
    connection_path: testsrc://
    width: 1920
    height: 1080`,
		"connection path frame too large": `
sources:
  a:
    name: A
    connection_path: testsrc://?width=4000&height=4000`,
		"bad connection path geometry": `
sources:
  a:
    name: A
    connection_path: testsrc://?width=-1`,
		"bad key": `
sources:
  "../a":
    name: A
    connection_path: testsrc://`,
		"status too large": `
status_capacity: 300
sources:
  a:
    name: A
    connection_path: testsrc://`,
		"bad yaml": `sources: [`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewServiceConfig(body)
			require.Error(t, err)
			require.True(t, errors.IsFatal(err), err.Error())
		})
	}
}

func TestWorkerConfigRoundTrip(t *testing.T) {
	w := &WorkerConfig{
		BaseConfig: BaseConfig{
			NodeID: "DC_test",
			ShmDir: t.TempDir(),
			TmpDir: t.TempDir(),
		},
		WorkerID:       "DCW_1",
		SourceKey:      "front",
		Name:           "Front Door",
		ConnectionPath: "testsrc://",
		Width:          64,
		Height:         48,
		Channels:       3,
		Segments: SegmentNames{
			Frame:   "front.frame",
			Status:  "front.status",
			Gauges:  "front.gauges",
			Control: "control",
		},
	}

	body, err := w.Marshal()
	require.NoError(t, err)

	parsed, err := NewWorkerConfig(body)
	require.NoError(t, err)
	require.Equal(t, w.SourceKey, parsed.SourceKey)
	require.Equal(t, w.Segments, parsed.Segments)
	require.Equal(t, w.RunShmDir(), parsed.RunShmDir())

	_, err = NewWorkerConfig("")
	require.ErrorIs(t, err, errors.ErrNoConfig)
}

func TestConnectionGeometry(t *testing.T) {
	conf, err := NewServiceConfig(`
sources:
  front:
    name: Front Door
    connection_path: testsrc://?fps=15&width=640&height=480
  side:
    name: Side
    connection_path: /dev/video0
    width: 320
    height: 240
`)
	require.NoError(t, err)
	require.Equal(t, 640, conf.Sources["front"].Width)
	require.Equal(t, 480, conf.Sources["front"].Height)
	require.Equal(t, 320, conf.Sources["side"].Width)

	_, err = NewServiceConfig(`
sources:
  front:
    name: Front Door
    connection_path: testsrc://?width=4000&height=4000
`)
	require.ErrorContains(t, err, "exceeds buffer capacity")
	require.True(t, errors.IsFatal(err))
}
