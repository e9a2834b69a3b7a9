package uploader

import (
	"context"
	"os"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livekit/darkcyan/pkg/config"
	"github.com/livekit/darkcyan/pkg/errors"
)

type testMonitor struct {
	storageType string
	err         error
	calls       int
}

func (m *testMonitor) UploadCompleted(storageType string, _ time.Duration, err error) {
	m.storageType = storageType
	m.err = err
	m.calls++
}

func TestLocalUpload(t *testing.T) {
	dir := t.TempDir()
	src := path.Join(dir, "results.csv")
	require.NoError(t, os.WriteFile(src, []byte("Source\nfront\n"), 0644))

	monitor := &testMonitor{}
	u, err := New(&config.StorageConfig{Prefix: path.Join(dir, "archive")}, monitor)
	require.NoError(t, err)
	require.Equal(t, TypeLocal, u.Type())

	location, size, err := u.Upload(context.Background(), src, "run/results.csv", "text/csv")
	require.NoError(t, err)
	require.Equal(t, path.Join(dir, "archive", "run", "results.csv"), location)
	require.Equal(t, int64(13), size)

	b, err := os.ReadFile(location)
	require.NoError(t, err)
	require.Equal(t, "Source\nfront\n", string(b))
	require.Equal(t, 1, monitor.calls)
	require.NoError(t, monitor.err)

	_, _, err = u.Upload(context.Background(), path.Join(dir, "missing.csv"), "missing.csv", "text/csv")
	require.Error(t, err)
	require.Equal(t, 2, monitor.calls)
	require.Equal(t, TypeLocal, monitor.storageType)
	require.Error(t, monitor.err)
}

func TestBackendSelection(t *testing.T) {
	u, err := New(&config.StorageConfig{
		S3: &config.S3Config{
			AccessKey:  "key",
			Secret:     "secret",
			Region:     "us-west-2",
			Bucket:     "frames",
			MaxRetries: 1,
		},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, TypeS3, u.Type())

	u, err = New(&config.StorageConfig{
		Azure: &config.AzureConfig{AccountName: "acct", AccountKey: "a2V5", ContainerName: "results"},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, TypeAzure, u.Type())
	require.Equal(t, "https://acct.blob.core.windows.net/results", u.backend.(*azureUploader).container)
}

func TestS3Location(t *testing.T) {
	u := &s3Uploader{conf: &config.S3Config{Bucket: "frames"}}
	require.Equal(t, "https://frames.s3.amazonaws.com/a/b.csv", u.location("a/b.csv"))

	u.conf.Endpoint = "https://minio.local:9000"
	u.conf.ForcePathStyle = true
	require.Equal(t, "https://minio.local:9000/frames/a/b.csv", u.location("a/b.csv"))
}

func TestUploadFailureWrapped(t *testing.T) {
	u := &localUploader{prefix: t.TempDir()}
	_, _, err := u.upload(context.Background(), "/nonexistent/results.csv", "results.csv", "")
	require.Error(t, err)
	require.False(t, errors.IsFatal(err))
	require.Contains(t, err.Error(), "local upload failed")
}
