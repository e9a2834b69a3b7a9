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
package pprof

import (
	"bytes"
	"context"
	"net/http"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/livekit/darkcyan/pkg/errors"
	"github.com/livekit/protocol/logger"
)

const (
	cpuProfileName = "cpu"
	defaultTimeout = 30
	maxTimeout     = 120

	PathPrefix = "/debug/pprof/"
)

func GetProfileData(ctx context.Context, profileName string, timeout int, debug int) (b []byte, err error) {
	switch profileName {
	case cpuProfileName:
		return GetCpuProfileData(ctx, timeout)
	default:
		return GetGenericProfileData(profileName, debug)
	}
}

func GetCpuProfileData(ctx context.Context, timeout int) (b []byte, err error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	timeout = min(timeout, maxTimeout)

	buf := &bytes.Buffer{}
	if err = pprof.StartCPUProfile(buf); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		// finish async in order not to block, since we will not use the results
		go pprof.StopCPUProfile()
		return nil, context.Canceled
	case <-time.After(time.Duration(timeout) * time.Second):
	}

	pprof.StopCPUProfile()
	return buf.Bytes(), nil
}

func GetGenericProfileData(profileName string, debug int) (b []byte, err error) {
	pp := pprof.Lookup(profileName)
	if pp == nil {
		return nil, errors.ErrProfileNotFound
	}

	buf := &bytes.Buffer{}
	if err = pp.WriteTo(buf, debug); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Handler serves /debug/pprof/<name>?seconds=<n>&debug=<n> from the
// supervisor process.
type Handler struct{}

func (Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, PathPrefix)
	seconds, _ := strconv.Atoi(r.URL.Query().Get("seconds"))
	debug, _ := strconv.Atoi(r.URL.Query().Get("debug"))

	b, err := GetProfileData(r.Context(), name, seconds, debug)
	switch {
	case errors.Is(err, errors.ErrProfileNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		logger.Warnw("failed to read profile", err, "profile", name)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if debug > 0 {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	_, _ = w.Write(b)
}
