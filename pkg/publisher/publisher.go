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

package publisher

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/frostbyte73/core"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/livekit/darkcyan/pkg/config"
	"github.com/livekit/darkcyan/pkg/results"
	"github.com/livekit/protocol/logger"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	queueSize      = 256
)

// client is the part of mqtt.Client used here.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher forwards consumed results to MQTT. Publish never blocks the
// caller; when the broker falls behind, results are dropped and counted.
type Publisher struct {
	conf   *config.MQTTConfig
	client client

	queue   chan *results.Record
	closed  core.Fuse
	done    core.Fuse
	dropped atomic.Uint64
	sent    atomic.Uint64
	warn    rate.Sometimes
}

func New(conf *config.MQTTConfig) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", conf.Host, conf.Port))
	opts.SetClientID(conf.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	if conf.Username != "" {
		opts.SetUsername(conf.Username)
		opts.SetPassword(conf.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warnw("mqtt connection lost", err)
	})

	cli := mqtt.NewClient(opts)
	token := cli.Connect()
	if ok := token.WaitTimeout(connectTimeout); !ok {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect error: %w", err)
	}

	logger.Infow("mqtt connected", "host", conf.Host, "port", conf.Port, "clientID", conf.ClientID)
	return newPublisher(conf, cli), nil
}

func newPublisher(conf *config.MQTTConfig, c client) *Publisher {
	p := &Publisher{
		conf:   conf,
		client: c,
		queue:  make(chan *results.Record, queueSize),
		warn:   rate.Sometimes{Interval: 10 * time.Second},
	}
	go p.run()
	return p
}

func (p *Publisher) Topic(source string) string {
	return fmt.Sprintf("%s/%s/results", p.conf.BaseTopic, source)
}

func (p *Publisher) Publish(r *results.Record) {
	if p.closed.IsBroken() {
		return
	}

	select {
	case p.queue <- r:
	default:
		n := p.dropped.Inc()
		p.warn.Do(func() { logger.Warnw("mqtt publisher falling behind, dropping results", nil, "dropped", n) })
	}
}

func (p *Publisher) run() {
	defer p.done.Break()

	for {
		select {
		case r := <-p.queue:
			p.send(r)
		case <-p.closed.Watch():
			// drain what was queued before close
			for {
				select {
				case r := <-p.queue:
					p.send(r)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) send(r *results.Record) {
	payload, err := json.Marshal(r)
	if err != nil {
		logger.Warnw("failed to marshal result", err, "source", r.Source)
		return
	}

	token := p.client.Publish(p.Topic(r.Source), p.conf.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.warn.Do(func() { logger.Warnw("mqtt publish timeout", nil, "source", r.Source) })
		return
	}
	if err = token.Error(); err != nil {
		p.warn.Do(func() { logger.Warnw("mqtt publish failed", err, "source", r.Source) })
		return
	}
	p.sent.Inc()
}

func (p *Publisher) Sent() uint64 {
	return p.sent.Load()
}

func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Close flushes queued results, then disconnects.
func (p *Publisher) Close() {
	p.closed.Break()
	<-p.done.Watch()
	p.client.Disconnect(250)
}
