// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"context"
	"errors"
	"log/slog"

	"github.com/eclipse/paho.golang/paho"
)

type subscription struct {
	client  *SessionClient
	topic   string
	handler MessageHandler
	options SubscribeOptions
}

// Subscribe sends a subscription request to the MQTT broker, waiting for a
// connection if none is live. The subscription is re-established
// automatically whenever the server did not retain session state across a
// reconnection.
func (c *SessionClient) Subscribe(
	ctx context.Context,
	topic string,
	handler MessageHandler,
	opts ...SubscribeOption,
) (Subscription, error) {
	if err := c.prepare(); err != nil {
		return nil, err
	}

	var opt SubscribeOptions
	opt.Apply(opts)

	if opt.QoS >= 2 {
		return nil, &InvalidArgumentError{message: "unsupported QoS"}
	}
	if !isValidTopicFilter(topic) {
		return nil, &InvalidArgumentError{message: "invalid topic filter"}
	}
	if handler == nil {
		return nil, &InvalidArgumentError{message: "nil message handler"}
	}

	s := &subscription{client: c, topic: topic, handler: handler, options: opt}

	// Register before sending so a delivery racing the SUBACK is not lost.
	c.subscriptions.Lock()
	if _, ok := c.subscriptions.m[topic]; ok {
		c.subscriptions.Unlock()
		return nil, &InvalidArgumentError{
			message: "already subscribed to topic " + topic,
		}
	}
	c.subscriptions.m[topic] = s
	c.subscriptions.Unlock()

	if err := c.sendSubscribe(ctx, buildSubscribePacket(topic, &opt)); err != nil {
		c.subscriptions.Lock()
		if c.subscriptions.m[topic] == s {
			delete(c.subscriptions.m, topic)
		}
		c.subscriptions.Unlock()
		return nil, err
	}

	return s, nil
}

// Unsubscribe removes this subscription from the broker and stops delivering
// its messages.
func (s *subscription) Unsubscribe(
	ctx context.Context,
	opts ...UnsubscribeOption,
) error {
	c := s.client
	if err := c.prepare(); err != nil {
		return err
	}

	var opt UnsubscribeOptions
	opt.Apply(opts)

	c.subscriptions.RLock()
	current := c.subscriptions.m[s.topic] == s
	c.subscriptions.RUnlock()
	if !current {
		return &InvalidArgumentError{
			message: "not subscribed to topic " + s.topic,
		}
	}

	err := c.sendUnsubscribe(ctx, buildUnsubscribePacket(s.topic, &opt))
	if err != nil {
		return err
	}

	c.subscriptions.Lock()
	if c.subscriptions.m[s.topic] == s {
		delete(c.subscriptions.m, s.topic)
	}
	c.subscriptions.Unlock()
	return nil
}

func buildSubscribePacket(
	topic string,
	opt *SubscribeOptions,
) *paho.Subscribe {
	packet := &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{
			Topic:             topic,
			QoS:               byte(opt.QoS),
			NoLocal:           opt.NoLocal,
			RetainAsPublished: opt.Retain,
			RetainHandling:    byte(opt.RetainHandling),
		}},
	}
	if len(opt.UserProperties) > 0 {
		packet.Properties = &paho.SubscribeProperties{
			User: mapToUserProperties(opt.UserProperties),
		}
	}
	return packet
}

func buildUnsubscribePacket(
	topic string,
	opt *UnsubscribeOptions,
) *paho.Unsubscribe {
	packet := &paho.Unsubscribe{
		Topics: []string{topic},
	}
	if len(opt.UserProperties) > 0 {
		packet.Properties = &paho.UnsubscribeProperties{
			User: mapToUserProperties(opt.UserProperties),
		}
	}
	return packet
}

func (c *SessionClient) sendSubscribe(
	ctx context.Context,
	packet *paho.Subscribe,
) error {
	for {
		client, _, down, err := c.awaitConnection(ctx)
		if err != nil {
			return err
		}

		subCtx, cancel := connContext(ctx, down)
		c.log.Packet(subCtx, "subscribe", packet)
		suback, err := client.Subscribe(subCtx, packet)
		dropped := errors.Is(context.Cause(subCtx), errConnectionDropped)
		cancel()

		switch {
		case suback != nil:
			if suback.Reasons[0] >= 0x80 {
				return &SubackError{ReasonCode: suback.Reasons[0]}
			}
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case dropped || connIsDown(down):
			// Try again on the next connection.
		default:
			return err
		}
	}
}

func (c *SessionClient) sendUnsubscribe(
	ctx context.Context,
	packet *paho.Unsubscribe,
) error {
	for {
		client, _, down, err := c.awaitConnection(ctx)
		if err != nil {
			return err
		}

		unsubCtx, cancel := connContext(ctx, down)
		c.log.Packet(unsubCtx, "unsubscribe", packet)
		unsuback, err := client.Unsubscribe(unsubCtx, packet)
		dropped := errors.Is(context.Cause(unsubCtx), errConnectionDropped)
		cancel()

		switch {
		case unsuback != nil:
			if unsuback.Reasons[0] >= 0x80 {
				return &UnsubackError{ReasonCode: unsuback.Reasons[0]}
			}
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case dropped || connIsDown(down):
			// Try again on the next connection.
		default:
			return err
		}
	}
}

// resubscribe restores registered subscriptions on a connection for which
// the server reported no existing session. It is bounded to that connection;
// failures are logged and retried on the next fresh session.
func (c *SessionClient) resubscribe(ctx context.Context) {
	client, _, down := c.conn.current()
	if client == nil {
		return
	}

	c.subscriptions.RLock()
	subs := make([]*subscription, 0, len(c.subscriptions.m))
	for _, s := range c.subscriptions.m {
		subs = append(subs, s)
	}
	c.subscriptions.RUnlock()

	if len(subs) == 0 {
		return
	}

	rctx, cancel := connContext(ctx, down)
	defer cancel()

	for _, s := range subs {
		packet := buildSubscribePacket(s.topic, &s.options)
		c.log.Packet(rctx, "subscribe", packet)
		suback, err := client.Subscribe(rctx, packet)
		if err == nil && suback.Reasons[0] >= 0x80 {
			err = &SubackError{ReasonCode: suback.Reasons[0]}
		}
		if err != nil {
			c.log.Warn(ctx, "failed to restore subscription",
				slog.String("topic", s.topic),
				slog.Any("error", err),
			)
		}
		if rctx.Err() != nil {
			return
		}
	}
}

// onPublishReceived dispatches an incoming publish to every registered
// subscription whose filter matches its topic.
func (c *SessionClient) onPublishReceived(
	client PahoClient,
	attempt uint64,
	p *paho.Publish,
) (bool, error) {
	c.subscriptions.RLock()
	var matched []*subscription
	for _, s := range c.subscriptions.m {
		if IsTopicFilterMatch(s.topic, p.Topic) {
			matched = append(matched, s)
		}
	}
	c.subscriptions.RUnlock()

	c.log.Packet(c.lifetime, "received", p)

	if len(matched) == 0 {
		// Nothing will ack this message; ack it here so the server's flow
		// window keeps moving.
		if p.QoS > 0 {
			_ = client.Ack(p)
		}
		return false, nil
	}

	msg := c.buildMessage(client, attempt, p)
	for _, s := range matched {
		if err := s.handler(c.lifetime, msg); err != nil {
			c.log.Warn(c.lifetime, "message handler failed",
				slog.String("topic", p.Topic),
				slog.Any("error", err),
			)
		}
	}
	return true, nil
}

func (c *SessionClient) buildMessage(
	client PahoClient,
	attempt uint64,
	p *paho.Publish,
) *Message {
	var acked bool
	msg := &Message{
		Topic:   p.Topic,
		Payload: p.Payload,
		PublishOptions: PublishOptions{
			ContentType:     p.Properties.ContentType,
			CorrelationData: p.Properties.CorrelationData,
			QoS:             QoS(p.QoS),
			ResponseTopic:   p.Properties.ResponseTopic,
			Retain:          p.Retain,
			UserProperties:  userPropertiesToMap(p.Properties.User),
		},
		Ack: func() error {
			// More than one ack is a no-op.
			if acked {
				return nil
			}

			if p.QoS == 0 {
				return &InvalidArgumentError{
					message: "cannot ack a QoS 0 message",
				}
			}

			if c.conn.currentAttempt() != attempt {
				return &ConnectionError{
					message: "connection lost before ack",
				}
			}

			c.log.Packet(c.lifetime, "ack", p)
			if err := client.Ack(p); err != nil {
				return err
			}

			acked = true
			return nil
		},
	}
	if p.Properties.MessageExpiry != nil {
		msg.MessageExpiry = *p.Properties.MessageExpiry
	}
	if p.Properties.PayloadFormat != nil {
		msg.PayloadFormat = PayloadFormat(*p.Properties.PayloadFormat)
	}
	return msg
}
