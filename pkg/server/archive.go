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

package server

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/livekit/darkcyan/pkg/config"
	"github.com/livekit/darkcyan/pkg/logging"
	"github.com/livekit/darkcyan/pkg/results"
	"github.com/livekit/darkcyan/pkg/uploader"
	"github.com/livekit/protocol/logger"
)

const csvContentType = "text/csv"

type resultRow struct {
	Timestamp  string
	Source     string
	Categories string
	Boxes      string
}

// archive appends every consumed result to a csv file, uploaded at shutdown.
type archive struct {
	conf     *config.ArchiveConfig
	csv      *logging.CSVLogger[resultRow]
	uploader *uploader.Uploader
}

func newArchive(conf *config.ArchiveConfig, dir string, monitor uploader.Monitor) (*archive, error) {
	csv, err := logging.NewCSVLogger[resultRow](dir, conf.Filename)
	if err != nil {
		return nil, err
	}

	a := &archive{
		conf: conf,
		csv:  csv,
	}
	if conf.Storage != nil {
		if a.uploader, err = uploader.New(conf.Storage, monitor); err != nil {
			_ = csv.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *archive) Consume(r *results.Record) {
	boxes, _ := json.Marshal(r.Boxes)
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	if err := a.csv.Write(&resultRow{
		Timestamp:  ts.UTC().Format(time.RFC3339Nano),
		Source:     r.Source,
		Categories: strings.Join(r.Categories, ";"),
		Boxes:      string(boxes),
	}); err != nil {
		logger.Warnw("failed to archive result", err, "source", r.Source)
	}
}

// finish closes the file and uploads it. Without storage the local file is
// the archive.
func (a *archive) finish(ctx context.Context) (string, error) {
	if err := a.csv.Close(); err != nil {
		return "", err
	}
	if a.uploader == nil {
		return a.csv.Filename(), nil
	}

	location, _, err := a.uploader.Upload(ctx, a.csv.Filename(), a.conf.Filename, csvContentType)
	return location, err
}
