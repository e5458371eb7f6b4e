// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package feed_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loadgrid/weighcore/errors"
	"github.com/loadgrid/weighcore/feed"
	"github.com/loadgrid/weighcore/mqtt"
	"github.com/loadgrid/weighcore/scale"
)

type (
	fakeClient struct {
		mu       sync.Mutex
		handlers map[string]mqtt.MessageHandler
		pubs     []fakePublish
	}

	fakePublish struct {
		topic   string
		payload []byte
		options mqtt.PublishOptions
	}

	fakeSub struct {
		client *fakeClient
		filter string
	}

	captureSink struct {
		mu      sync.Mutex
		samples []scale.RawSample
		err     error
	}
)

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: map[string]mqtt.MessageHandler{}}
}

func (c *fakeClient) Subscribe(
	_ context.Context,
	topic string,
	handler mqtt.MessageHandler,
	_ ...mqtt.SubscribeOption,
) (mqtt.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler
	return &fakeSub{client: c, filter: topic}, nil
}

func (c *fakeClient) Publish(
	_ context.Context,
	topic string,
	payload []byte,
	opts ...mqtt.PublishOption,
) error {
	var options mqtt.PublishOptions
	options.Apply(opts)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pubs = append(c.pubs, fakePublish{topic, payload, options})
	return nil
}

func (c *fakeClient) ClientID() string {
	return "fake-client"
}

func (c *fakeClient) published() []fakePublish {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]fakePublish{}, c.pubs...)
}

// deliver routes a message to the handler whose filter matches the topic.
func (c *fakeClient) deliver(t *testing.T, topic string, msg *mqtt.Message) {
	t.Helper()

	c.mu.Lock()
	var handler mqtt.MessageHandler
	for filter, h := range c.handlers {
		if mqtt.IsTopicFilterMatch(filter, topic) {
			handler = h
		}
	}
	c.mu.Unlock()

	require.NotNil(t, handler, "no subscription matching %s", topic)
	msg.Topic = topic
	require.NoError(t, handler(context.Background(), msg))
}

func (s *fakeSub) Unsubscribe(
	context.Context,
	...mqtt.UnsubscribeOption,
) error {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	delete(s.client.handlers, s.filter)
	return nil
}

func (s *captureSink) Ingest(_ context.Context, sample scale.RawSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.samples = append(s.samples, sample)
	return nil
}

func (s *captureSink) all() []scale.RawSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scale.RawSample{}, s.samples...)
}

func jsonMessage(t *testing.T, payload any, acks *atomic.Int32) *mqtt.Message {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &mqtt.Message{
		Payload: data,
		PublishOptions: mqtt.PublishOptions{
			QoS:         mqtt.QoS1,
			ContentType: "application/json",
		},
		Ack: func() error {
			acks.Add(1)
			return nil
		},
	}
}

func TestSampleFeedDeliversSamples(t *testing.T) {
	client := newFakeClient()
	sink := &captureSink{}

	f, err := feed.NewSampleFeed(client, sink, "yard-a")
	require.NoError(t, err)

	done, err := f.Listen(context.Background())
	require.NoError(t, err)
	defer done()

	ts := time.Date(2026, 8, 23, 10, 0, 0, 123456700, time.UTC)
	var acks atomic.Int32
	client.deliver(t,
		feed.SampleTopic("yard-a", 11111),
		jsonMessage(t, feed.NewSamplePayload("ch1", scale.RawSample{
			NodeID:    11111,
			Timestamp: ts,
			Value:     163.2,
			RSSI:      -61,
		}), &acks),
	)

	samples := sink.all()
	require.Len(t, samples, 1)
	require.Equal(t, scale.NodeID(11111), samples[0].NodeID)
	require.Equal(t, 163.2, samples[0].Value)
	require.Equal(t, -61, samples[0].RSSI)
	require.True(t, ts.Equal(samples[0].Timestamp))
	require.Equal(t, int32(1), acks.Load())
	require.Zero(t, f.Dropped())
}

func TestSampleFeedDropsBadPayload(t *testing.T) {
	client := newFakeClient()
	sink := &captureSink{}

	f, err := feed.NewSampleFeed(client, sink, "yard-a")
	require.NoError(t, err)

	done, err := f.Listen(context.Background())
	require.NoError(t, err)
	defer done()

	var acks atomic.Int32
	client.deliver(t, feed.SampleTopic("yard-a", 11111), &mqtt.Message{
		Payload: []byte(`{"node_id":`),
		PublishOptions: mqtt.PublishOptions{
			QoS:         mqtt.QoS1,
			ContentType: "application/json",
		},
		Ack: func() error {
			acks.Add(1)
			return nil
		},
	})

	require.Empty(t, sink.all())
	require.Equal(t, uint64(1), f.Dropped())

	// A dropped message is still acked; redelivery cannot fix the payload.
	require.Equal(t, int32(1), acks.Load())
}

func TestSampleFeedDropsContentTypeMismatch(t *testing.T) {
	client := newFakeClient()
	sink := &captureSink{}

	f, err := feed.NewSampleFeed(client, sink, "yard-a")
	require.NoError(t, err)

	done, err := f.Listen(context.Background())
	require.NoError(t, err)
	defer done()

	var acks atomic.Int32
	msg := jsonMessage(t, feed.NewSamplePayload("ch1", scale.RawSample{
		NodeID: 11111,
		Value:  163.2,
	}), &acks)
	msg.ContentType = "text/plain"
	client.deliver(t, feed.SampleTopic("yard-a", 11111), msg)

	require.Empty(t, sink.all())
	require.Equal(t, uint64(1), f.Dropped())
	require.Equal(t, int32(1), acks.Load())
}

func TestSampleFeedAcksRejectedSamples(t *testing.T) {
	client := newFakeClient()
	sink := &captureSink{err: &errors.Error{
		Message: "sample value outside valid range",
		Kind:    errors.SampleOutOfRange,
	}}

	f, err := feed.NewSampleFeed(client, sink, "yard-a")
	require.NoError(t, err)

	done, err := f.Listen(context.Background())
	require.NoError(t, err)
	defer done()

	var acks atomic.Int32
	client.deliver(t,
		feed.SampleTopic("yard-a", 11111),
		jsonMessage(t, feed.NewSamplePayload("ch1", scale.RawSample{
			NodeID: 11111,
			Value:  99999.0,
		}), &acks),
	)

	// The ingestor counts the rejection; the feed only acks.
	require.Equal(t, int32(1), acks.Load())
	require.Zero(t, f.Dropped())
}

func TestSampleFeedStopsListening(t *testing.T) {
	client := newFakeClient()
	sink := &captureSink{}

	f, err := feed.NewSampleFeed(client, sink, "yard-a")
	require.NoError(t, err)

	done, err := f.Listen(context.Background())
	require.NoError(t, err)
	done()

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Empty(t, client.handlers)
}

func TestSampleFeedValidation(t *testing.T) {
	client := newFakeClient()
	sink := &captureSink{}

	_, err := feed.NewSampleFeed(nil, sink, "yard-a")
	var argErr *errors.Error
	require.ErrorAs(t, err, &argErr)
	require.Equal(t, errors.ArgumentInvalid, argErr.Kind)

	_, err = feed.NewSampleFeed(client, nil, "yard-a")
	require.ErrorAs(t, err, &argErr)
	require.Equal(t, errors.ArgumentInvalid, argErr.Kind)

	for _, site := range []string{"", "yard/a", "yard+", "#"} {
		_, err = feed.NewSampleFeed(client, sink, site)
		require.ErrorAs(t, err, &argErr, "site %q", site)
		require.Equal(t, errors.ConfigurationInvalid, argErr.Kind)
	}
}

func TestOutputPublisherPublish(t *testing.T) {
	client := newFakeClient()

	p, err := feed.NewOutputPublisher(client, "yard-a")
	require.NoError(t, err)

	ts := time.Date(2026, 8, 23, 10, 0, 1, 0, time.UTC)
	out := scale.Output{
		FrameTimestamp: ts,
		PerNode: map[scale.NodeID]scale.NodeNet{
			11111: {
				Name:     "front-left",
				Smoothed: 163.06,
				Net:      12.56,
				Health:   scale.Online,
			},
			22222: {
				Name:     "front-right",
				Smoothed: 161.72,
				Net:      13.52,
				Health:   scale.Stale,
				Missing:  true,
			},
		},
		TotalNet:   12.56,
		StaleNodes: []scale.NodeID{22222},
		Complete:   false,
	}
	require.NoError(t, p.Publish(context.Background(), out))

	pubs := client.published()
	require.Len(t, pubs, 1)
	require.Equal(t, "weigh/yard-a/weight", pubs[0].topic)
	require.Equal(t, mqtt.QoS0, pubs[0].options.QoS)
	require.Equal(t, "application/json", pubs[0].options.ContentType)
	require.Equal(t, mqtt.PayloadFormat1, pubs[0].options.PayloadFormat)
	require.Equal(t, uint32(1), pubs[0].options.MessageExpiry)
	require.Len(t, pubs[0].options.CorrelationData, 16)

	var payload feed.WeightPayload
	require.NoError(t, json.Unmarshal(pubs[0].payload, &payload))
	require.True(t, ts.Equal(time.Time(payload.Timestamp)))
	require.Equal(t, 12.56, payload.TotalKg)
	require.False(t, payload.Complete)
	require.Equal(t, []uint32{22222}, payload.Stale)

	front := payload.Nodes["11111"]
	require.Equal(t, "front-left", front.Name)
	require.Equal(t, 12.56, front.NetKg)
	require.Equal(t, 163.06, front.SmoothedKg)
	require.True(t, front.Online)
	require.False(t, front.Missing)

	right := payload.Nodes["22222"]
	require.False(t, right.Online)
	require.True(t, right.Missing)
}

func TestOutputPublisherCorrelationUnique(t *testing.T) {
	client := newFakeClient()

	p, err := feed.NewOutputPublisher(client, "yard-a")
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), scale.Output{}))
	require.NoError(t, p.Publish(context.Background(), scale.Output{}))

	pubs := client.published()
	require.Len(t, pubs, 2)
	require.NotEqual(t,
		pubs[0].options.CorrelationData,
		pubs[1].options.CorrelationData,
	)
}

func TestOutputPublisherExpiryOption(t *testing.T) {
	client := newFakeClient()

	p, err := feed.NewOutputPublisher(client, "yard-a", feed.WithExpiry(5))
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), scale.Output{}))

	pubs := client.published()
	require.Len(t, pubs, 1)
	require.Equal(t, uint32(5), pubs[0].options.MessageExpiry)
}

func TestOutputPublisherRun(t *testing.T) {
	client := newFakeClient()

	p, err := feed.NewOutputPublisher(client, "yard-a")
	require.NoError(t, err)

	outputs := make(chan scale.Output, 2)
	outputs <- scale.Output{TotalNet: 49.31}
	outputs <- scale.Output{TotalNet: 49.32}
	close(outputs)

	require.NoError(t, p.Run(context.Background(), outputs))
	require.Len(t, client.published(), 2)
}

func TestOutputPublisherRunCanceled(t *testing.T) {
	client := newFakeClient()

	p, err := feed.NewOutputPublisher(client, "yard-a")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = p.Run(ctx, make(chan scale.Output))
	var runErr *errors.Error
	require.ErrorAs(t, err, &runErr)
	require.Equal(t, errors.Cancellation, runErr.Kind)
}
