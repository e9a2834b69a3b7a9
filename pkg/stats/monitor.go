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

package stats

import (
	"net/http"
	"runtime"
	"time"

	"github.com/mackerelio/go-osstat/cpu"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/livekit/protocol/logger"
)

const (
	namespace = "livekit"
	subsystem = "darkcyan"
)

type Monitor struct {
	registry *prometheus.Registry

	promCPULoad     prometheus.Gauge
	promRunning     prometheus.Gauge
	promFailed      *prometheus.GaugeVec
	promSourceFPS   *prometheus.GaugeVec
	promInferFPS    *prometheus.GaugeVec
	promResults     *prometheus.CounterVec
	promAbandoned   prometheus.Counter
	promUploads     *prometheus.CounterVec
	promUploadTimes *prometheus.HistogramVec

	idleCPUs        atomic.Float64
	numCPUs         float64
	warningThrottle rate.Sometimes
}

func NewMonitor(nodeID string) *Monitor {
	labels := prometheus.Labels{"node_id": nodeID}

	m := &Monitor{
		registry:        prometheus.NewRegistry(),
		numCPUs:         float64(runtime.NumCPU()),
		warningThrottle: rate.Sometimes{Interval: time.Minute},
	}
	m.idleCPUs.Store(m.numCPUs)

	m.promCPULoad = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "node",
		Name:        "cpu_load",
		ConstLabels: prometheus.Labels{"node_id": nodeID, "node_type": "DARKCYAN"},
	})
	m.promRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        "workers_running",
		Help:        "number of worker processes that have not exited",
		ConstLabels: labels,
	})
	m.promFailed = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        "worker_start_failed",
		Help:        "1 for every source whose worker could not start",
		ConstLabels: labels,
	}, []string{"source"})
	m.promSourceFPS = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        "source_fps",
		Help:        "capture frame rate reported by the worker",
		ConstLabels: labels,
	}, []string{"source"})
	m.promInferFPS = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        "inference_fps",
		Help:        "inference rate reported by the worker",
		ConstLabels: labels,
	}, []string{"source"})
	m.promResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        "results_consumed",
		Help:        "results taken off the result channel",
		ConstLabels: labels,
	}, []string{"source"})
	m.promAbandoned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        "results_abandoned",
		Help:        "results still queued when the channel was closed",
		ConstLabels: labels,
	})
	m.promUploads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        "archive_uploads",
		Help:        "result archive uploads by storage type and status",
		ConstLabels: labels,
	}, []string{"type", "status"})
	m.promUploadTimes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        "archive_upload_response_time_ms",
		Help:        "archive upload latency in milliseconds",
		Buckets:     []float64{10, 20, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000},
		ConstLabels: labels,
	}, []string{"type", "status"})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.promCPULoad,
		m.promRunning,
		m.promFailed,
		m.promSourceFPS,
		m.promInferFPS,
		m.promResults,
		m.promAbandoned,
		m.promUploads,
		m.promUploadTimes,
	)

	return m
}

// RegisterQueueDepth exposes the number of results waiting to be consumed.
func (m *Monitor) RegisterQueueDepth(f func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "result_queue_depth",
		Help:      "results waiting on the result channel",
	}, f))
}

// Start samples cpu load until closed fires.
func (m *Monitor) Start(closed <-chan struct{}) {
	go m.monitorCPULoad(closed)
}

func (m *Monitor) monitorCPULoad(closed <-chan struct{}) {
	prev, err := cpu.Get()
	if err != nil {
		logger.Warnw("cpu stats unavailable", err)
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			next, err := cpu.Get()
			if err != nil || next.Total == prev.Total {
				continue
			}

			idlePercent := float64(next.Idle-prev.Idle) / float64(next.Total-prev.Total)
			m.idleCPUs.Store(m.numCPUs * idlePercent)
			m.promCPULoad.Set(1 - idlePercent)

			if idlePercent < 0.1 {
				m.warningThrottle.Do(func() { logger.Infow("high cpu load", "load", 100-idlePercent*100) })
			}

			prev = next
		}
	}
}

func (m *Monitor) GetCPULoad() float64 {
	return (m.numCPUs - m.idleCPUs.Load()) / m.numCPUs * 100
}

func (m *Monitor) WorkersRunning(n int) {
	m.promRunning.Set(float64(n))
}

func (m *Monitor) WorkerFailed(source string) {
	m.promFailed.With(prometheus.Labels{"source": source}).Set(1)
}

func (m *Monitor) SourceTelemetry(source string, sourceFPS, inferenceFPS float64) {
	m.promSourceFPS.With(prometheus.Labels{"source": source}).Set(sourceFPS)
	m.promInferFPS.With(prometheus.Labels{"source": source}).Set(inferenceFPS)
}

func (m *Monitor) ResultConsumed(source string) {
	m.promResults.With(prometheus.Labels{"source": source}).Inc()
}

func (m *Monitor) ResultsAbandoned(n int) {
	m.promAbandoned.Add(float64(n))
}

func (m *Monitor) UploadCompleted(storageType string, elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	labels := prometheus.Labels{"type": storageType, "status": status}
	m.promUploads.With(labels).Inc()
	m.promUploadTimes.With(labels).Observe(float64(elapsed.Milliseconds()))
}

func (m *Monitor) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
