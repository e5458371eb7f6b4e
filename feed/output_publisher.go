// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package feed

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/loadgrid/weighcore/errors"
	"github.com/loadgrid/weighcore/internal/log"
	"github.com/loadgrid/weighcore/mqtt"
	"github.com/loadgrid/weighcore/scale"
)

// OutputPublisher publishes weighing outputs on a site's weight topic.
//
// Weights are live display data: they go out at QoS 0 with a short message
// expiry, so a missed frame is simply superseded by the next one rather
// than retried.
type OutputPublisher struct {
	client mqtt.Client
	topic  string
	expiry uint32
	log    log.Logger
}

const defaultExpirySeconds = 1

// NewOutputPublisher creates an output publisher for one site.
func NewOutputPublisher(
	client mqtt.Client,
	site string,
	opt ...OutputPublisherOption,
) (*OutputPublisher, error) {
	var opts OutputPublisherOptions
	opts.Apply(opt)

	if client == nil {
		return nil, &errors.Error{
			Message:      "client cannot be nil",
			Kind:         errors.ArgumentInvalid,
			PropertyName: "client",
		}
	}
	if err := checkSite(site); err != nil {
		return nil, err
	}

	expiry := opts.Expiry
	if expiry == 0 {
		expiry = defaultExpirySeconds
	}

	return &OutputPublisher{
		client: client,
		topic:  WeightTopic(site),
		expiry: expiry,
		log:    log.Wrap(opts.Logger),
	}, nil
}

// Publish emits one output on the weight topic. Each publish carries a
// fresh UUID as correlation data so downstream consumers can trace a
// displayed weight back to its frame.
func (p *OutputPublisher) Publish(ctx context.Context, out scale.Output) error {
	payload, err := json.Marshal(NewWeightPayload(out))
	if err != nil {
		return &errors.Error{
			Message:     "cannot encode weight payload",
			Kind:        errors.PayloadInvalid,
			NestedError: err,
		}
	}

	correlation := uuid.New()
	err = p.client.Publish(ctx, p.topic, payload,
		mqtt.WithQoS(0),
		mqtt.WithContentType(contentTypeJSON),
		mqtt.WithPayloadFormat(mqtt.PayloadFormat1),
		mqtt.WithMessageExpiry(p.expiry),
		mqtt.WithCorrelationData(correlation[:]),
	)
	if err != nil {
		return &errors.Error{
			Message:     "weight publish failed",
			Kind:        errors.MqttError,
			NestedError: err,
		}
	}
	return nil
}

// Run pumps outputs into the broker until the channel closes or ctx is
// canceled. Publish failures are logged and skipped; the next frame
// supersedes the lost one.
func (p *OutputPublisher) Run(
	ctx context.Context,
	outputs <-chan scale.Output,
) error {
	for {
		select {
		case out, ok := <-outputs:
			if !ok {
				return nil
			}
			if err := p.Publish(ctx, out); err != nil {
				p.log.Err(ctx, err)
				continue
			}
			p.log.Debug(ctx, "weight published", out.Attrs()...)
		case <-ctx.Done():
			return &errors.Error{
				Message:     "output pump canceled",
				Kind:        errors.Cancellation,
				NestedError: ctx.Err(),
			}
		}
	}
}
