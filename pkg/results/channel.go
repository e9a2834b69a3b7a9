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

package results

import (
	"context"
	"time"

	"github.com/frostbyte73/core"

	"github.com/livekit/darkcyan/pkg/errors"
)

// Record is one finished inference result.
type Record struct {
	Source     string      `json:"source"`
	Categories []string    `json:"categories"`
	Boxes      [][]float64 `json:"boxes"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Channel is a bounded queue with many producers and one consumer.
// Producers block while it is full; records are never dropped, except that
// whatever is still queued when the channel closes is abandoned.
type Channel struct {
	records chan *Record
	closed  core.Fuse
}

func NewChannel(capacity int) *Channel {
	return &Channel{
		records: make(chan *Record, capacity),
	}
}

// Push enqueues r, blocking while the channel is full.
func (c *Channel) Push(ctx context.Context, r *Record) error {
	if c.closed.IsBroken() {
		return errors.ErrChannelClosed
	}

	select {
	case c.records <- r:
		return nil
	case <-c.closed.Watch():
		return errors.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPop never blocks. Ownership of the record moves to the caller.
func (c *Channel) TryPop() (*Record, bool) {
	if c.closed.IsBroken() {
		return nil, false
	}

	select {
	case r := <-c.records:
		return r, true
	default:
		return nil, false
	}
}

func (c *Channel) Len() int {
	return len(c.records)
}

func (c *Channel) Cap() int {
	return cap(c.records)
}

// Close wakes blocked producers and returns how many records were abandoned.
func (c *Channel) Close() int {
	c.closed.Break()
	return len(c.records)
}
