package publisher

import (
	"encoding/json"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/linkdata/deadlock"
	"github.com/stretchr/testify/require"

	"github.com/livekit/darkcyan/pkg/config"
	"github.com/livekit/darkcyan/pkg/results"
)

type doneToken struct {
	err error
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Error() error                   { return t.err }
func (t *doneToken) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

type message struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	mu           deadlock.Mutex
	messages     []message
	disconnected bool
	block        chan struct{}
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message{topic: topic, qos: qos, payload: payload.([]byte)})
	return &doneToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func TestPublish(t *testing.T) {
	c := &fakeClient{}
	p := newPublisher(&config.MQTTConfig{BaseTopic: "darkcyan/sources", QoS: 1}, c)

	p.Publish(&results.Record{Source: "front", Categories: []string{"person"}, Boxes: [][]float64{{1, 2, 3, 4}}})
	p.Publish(&results.Record{Source: "back", Categories: []string{"car"}})
	p.Close()

	require.True(t, c.disconnected)
	require.Len(t, c.messages, 2)
	require.Equal(t, "darkcyan/sources/front/results", c.messages[0].topic)
	require.Equal(t, byte(1), c.messages[0].qos)
	require.Equal(t, "darkcyan/sources/back/results", c.messages[1].topic)

	var r results.Record
	require.NoError(t, json.Unmarshal(c.messages[0].payload, &r))
	require.Equal(t, []string{"person"}, r.Categories)
	require.Equal(t, [][]float64{{1, 2, 3, 4}}, r.Boxes)
	require.Equal(t, uint64(2), p.Sent())

	// publishing after close is a no-op
	p.Publish(&results.Record{Source: "front"})
	require.Len(t, c.messages, 2)
}

func TestPublishNeverBlocks(t *testing.T) {
	c := &fakeClient{block: make(chan struct{})}
	p := newPublisher(&config.MQTTConfig{BaseTopic: "dc"}, c)

	done := make(chan struct{})
	go func() {
		for i := 0; i < queueSize+10; i++ {
			p.Publish(&results.Record{Source: "front"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
	require.NotZero(t, p.Dropped())

	close(c.block)
	p.Close()
	require.Equal(t, uint64(queueSize+10)-p.Dropped(), p.Sent())
}
