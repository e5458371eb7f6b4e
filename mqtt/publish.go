// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"context"
	"errors"

	"github.com/eclipse/paho.golang/paho"
)

type queuedPublish struct {
	packet *paho.Publish
	errC   chan error
}

// Publish sends a publish request to the MQTT broker. The publish is queued
// and sent in order once a connection is live; for QoS 1 the call blocks
// until the PUBACK arrives or the context is canceled. A canceled context
// abandons the wait but does not withdraw the queued publish.
func (c *SessionClient) Publish(
	ctx context.Context,
	topic string,
	payload []byte,
	opts ...PublishOption,
) error {
	if err := c.prepare(); err != nil {
		return err
	}

	var opt PublishOptions
	opt.Apply(opts)

	packet, err := buildPublishPacket(topic, payload, &opt)
	if err != nil {
		return err
	}

	queued := &queuedPublish{packet: packet, errC: make(chan error, 1)}
	select {
	case c.outgoing <- queued:
	default:
		return &PublishQueueFullError{}
	}

	select {
	case err := <-queued.errC:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stop:
		return &ClientStateError{State: ShutDown}
	}
}

func buildPublishPacket(
	topic string,
	payload []byte,
	opt *PublishOptions,
) (*paho.Publish, error) {
	if opt.QoS >= 2 {
		return nil, &InvalidArgumentError{message: "unsupported QoS"}
	}
	if opt.PayloadFormat >= 2 {
		return nil, &InvalidArgumentError{message: "invalid payload format"}
	}
	if !isValidTopicName(topic) {
		return nil, &InvalidArgumentError{message: "invalid topic name"}
	}

	payloadFormat := byte(opt.PayloadFormat)
	packet := &paho.Publish{
		QoS:     byte(opt.QoS),
		Retain:  opt.Retain,
		Topic:   topic,
		Payload: payload,
		Properties: &paho.PublishProperties{
			ContentType:     opt.ContentType,
			CorrelationData: opt.CorrelationData,
			PayloadFormat:   &payloadFormat,
			ResponseTopic:   opt.ResponseTopic,
			User:            mapToUserProperties(opt.UserProperties),
		},
	}

	if opt.MessageExpiry > 0 {
		packet.Properties.MessageExpiry = &opt.MessageExpiry
	}

	return packet, nil
}

// processOutgoing delivers queued publishes in order, holding each until a
// connection is live and moving it to the next connection if one drops
// mid-send.
func (c *SessionClient) processOutgoing(ctx context.Context) {
	for {
		select {
		case queued := <-c.outgoing:
			queued.errC <- c.sendPublish(ctx, queued.packet)
		case <-ctx.Done():
			c.drainOutgoing()
			return
		}
	}
}

// drainOutgoing fails all queued publishes once the client shuts down.
func (c *SessionClient) drainOutgoing() {
	for {
		select {
		case queued := <-c.outgoing:
			queued.errC <- &ClientStateError{State: ShutDown}
		default:
			return
		}
	}
}

// sendPublish runs in the lifetime of the client, so context cancellation
// here always means shutdown.
func (c *SessionClient) sendPublish(
	ctx context.Context,
	packet *paho.Publish,
) error {
	for {
		client, _, down, err := c.awaitConnection(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return &ClientStateError{State: ShutDown}
			}
			return err
		}

		pubCtx, cancel := connContext(ctx, down)
		c.log.Packet(pubCtx, "publish", packet)
		resp, err := client.Publish(pubCtx, packet)
		dropped := errors.Is(context.Cause(pubCtx), errConnectionDropped)
		cancel()

		switch {
		case err == nil:
			// Paho may return (nil, nil) for a successful QoS 0 publish.
			if resp != nil && resp.ReasonCode >= 0x80 {
				return &PubackError{ReasonCode: resp.ReasonCode}
			}
			return nil
		case ctx.Err() != nil:
			return &ClientStateError{State: ShutDown}
		case dropped || connIsDown(down):
			// The connection dropped out from under the publish; send it
			// again on the next one.
		default:
			return err
		}
	}
}

func connIsDown(down <-chan struct{}) bool {
	select {
	case <-down:
		return true
	default:
		return false
	}
}
