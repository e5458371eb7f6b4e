// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/loadgrid/weighcore/errors"
	"github.com/loadgrid/weighcore/internal/log"
	"github.com/loadgrid/weighcore/mqtt"
	"github.com/loadgrid/weighcore/scale"
)

type (
	// Ingestor consumes decoded node samples. It is satisfied by
	// *scale.WeighingEngine.
	Ingestor interface {
		Ingest(context.Context, scale.RawSample) error
	}

	// SampleFeed subscribes to a site's node sample streams and forwards the
	// decoded samples into an ingestor.
	//
	// Samples are live telemetry. Redelivery cannot improve on the next
	// reading, so every message is acked exactly once regardless of its
	// decode or ingest outcome; failures surface through Dropped and the
	// engine's own counters instead.
	SampleFeed struct {
		client mqtt.Client
		sink   Ingestor
		site   string
		log    log.Logger

		dropped atomic.Uint64
	}
)

const contentTypeJSON = "application/json"

// NewSampleFeed creates a sample feed for one site.
func NewSampleFeed(
	client mqtt.Client,
	sink Ingestor,
	site string,
	opt ...SampleFeedOption,
) (*SampleFeed, error) {
	var opts SampleFeedOptions
	opts.Apply(opt)

	if client == nil {
		return nil, &errors.Error{
			Message:      "client cannot be nil",
			Kind:         errors.ArgumentInvalid,
			PropertyName: "client",
		}
	}
	if sink == nil {
		return nil, &errors.Error{
			Message:      "sink cannot be nil",
			Kind:         errors.ArgumentInvalid,
			PropertyName: "sink",
		}
	}
	if err := checkSite(site); err != nil {
		return nil, err
	}

	return &SampleFeed{
		client: client,
		sink:   sink,
		site:   site,
		log:    log.Wrap(opts.Logger),
	}, nil
}

// Listen subscribes to the site's sample streams. It returns a function to
// stop listening. Note that canceling this context will cause the
// unsubscribe call to fail.
func (f *SampleFeed) Listen(ctx context.Context) (func(), error) {
	filter := SampleFilter(f.site)

	sub, err := f.client.Subscribe(ctx, filter, f.handle, mqtt.WithQoS(1))
	if err != nil {
		return nil, &errors.Error{
			Message:     "sample subscribe failed",
			Kind:        errors.MqttError,
			NestedError: err,
		}
	}

	f.log.Info(ctx, "sample feed listening", slog.String("filter", filter))

	return func() {
		if err := sub.Unsubscribe(ctx); err != nil {
			f.log.Err(ctx, err)
		}
	}, nil
}

// Dropped reports how many messages were discarded before reaching the
// ingestor due to an undecodable payload or a mismatched content type.
func (f *SampleFeed) Dropped() uint64 {
	return f.dropped.Load()
}

func (f *SampleFeed) handle(ctx context.Context, msg *mqtt.Message) error {
	defer f.ack(ctx, msg)

	if msg.ContentType != "" && msg.ContentType != contentTypeJSON {
		f.drop(ctx, &errors.Error{
			Message:       "unexpected sample content type",
			Kind:          errors.PayloadInvalid,
			PropertyName:  "ContentType",
			PropertyValue: msg.ContentType,
		})
		return nil
	}

	var p SamplePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		f.drop(ctx, &errors.Error{
			Message:     "cannot decode sample payload",
			Kind:        errors.PayloadInvalid,
			NestedError: err,
		})
		return nil
	}

	// Rejections are counted and logged by the ingestor itself.
	_ = f.sink.Ingest(ctx, p.Sample())
	return nil
}

func (f *SampleFeed) ack(ctx context.Context, msg *mqtt.Message) {
	// The broker downgrades delivery to QoS 0 when the publisher sent it
	// that way; there is nothing to ack then.
	if msg.QoS == 0 {
		return
	}
	if err := msg.Ack(); err != nil {
		f.log.Err(ctx, err)
	}
}

func (f *SampleFeed) drop(ctx context.Context, err *errors.Error) {
	f.dropped.Add(1)
	f.log.Err(ctx, err)
}
