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
package main

import (
	"net/http"

	"github.com/livekit/darkcyan/pkg/pprof"
	"github.com/livekit/darkcyan/pkg/server"
	"github.com/livekit/protocol/logger"
)

func newHealthMux(svc *server.Server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/", &httpHandler{svc: svc})
	mux.Handle(pprof.PathPrefix, pprof.Handler{})
	return mux
}

type httpHandler struct {
	svc *server.Server
}

func (h *httpHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	status, err := h.svc.Status()
	if err != nil {
		logger.Errorw("failed to read status", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(status)
}
