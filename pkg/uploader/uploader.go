// Copyright 2026 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package uploader

import (
	"context"
	"time"

	"github.com/livekit/darkcyan/pkg/config"
	"github.com/livekit/protocol/logger"
)

const (
	maxRetries = 5
	minDelay   = time.Millisecond * 100
	maxDelay   = time.Second * 5

	TypeS3    = "s3"
	TypeGCP   = "gcp"
	TypeAzure = "azure"
	TypeLocal = "local"
)

type uploader interface {
	upload(ctx context.Context, localFilepath, storageFilepath, contentType string) (string, int64, error)
}

// Monitor records upload outcomes.
type Monitor interface {
	UploadCompleted(storageType string, elapsed time.Duration, err error)
}

// Uploader copies a finished local file to the configured storage.
type Uploader struct {
	backend     uploader
	storageType string
	monitor     Monitor
}

// New picks the backend from conf. Without a cloud backend the file is copied
// under conf.Prefix on the local filesystem.
func New(conf *config.StorageConfig, monitor Monitor) (*Uploader, error) {
	if conf == nil {
		conf = &config.StorageConfig{}
	}

	var (
		backend     uploader
		storageType string
		err         error
	)
	switch {
	case conf.S3 != nil:
		storageType = TypeS3
		backend, err = newS3Uploader(conf.S3, conf.Prefix)
	case conf.GCP != nil:
		storageType = TypeGCP
		backend, err = newGCPUploader(conf.GCP, conf.Prefix)
	case conf.Azure != nil:
		storageType = TypeAzure
		backend, err = newAzureUploader(conf.Azure, conf.Prefix)
	default:
		storageType = TypeLocal
		backend, err = newLocalUploader(conf.Prefix)
	}
	if err != nil {
		return nil, err
	}

	return &Uploader{
		backend:     backend,
		storageType: storageType,
		monitor:     monitor,
	}, nil
}

func (u *Uploader) Type() string {
	return u.storageType
}

// Upload returns the location of the stored file and its size.
func (u *Uploader) Upload(ctx context.Context, localFilepath, storageFilepath, contentType string) (string, int64, error) {
	start := time.Now()
	location, size, err := u.backend.upload(ctx, localFilepath, storageFilepath, contentType)
	elapsed := time.Since(start)

	if u.monitor != nil {
		u.monitor.UploadCompleted(u.storageType, elapsed, err)
	}
	if err != nil {
		return "", 0, err
	}

	logger.Debugw("upload complete", "type", u.storageType, "location", location, "size", size, "elapsed", elapsed)
	return location, size, nil
}
