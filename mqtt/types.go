// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import "context"

type (
	QoS            byte
	RetainHandling byte
	PayloadFormat  byte
)

// Quality of Service levels.
const (
	// QoS0 indicates at most once delivery, a.k.a. "fire and forget".
	QoS0 QoS = iota

	// QoS1 indicates at least once delivery, which ensures the message is
	// delivered at least one time to the receiver.
	QoS1

	// QoS2 indicates exactly once delivery. The session client does not
	// support it; the constant exists only to name the wire value.
	QoS2
)

// Retain Handling options.
const (
	// RetainHandling0 indicates that the Server MUST send the retained
	// messages matching the Topic Filter of the subscription to the Client.
	RetainHandling0 RetainHandling = iota

	// RetainHandling1 indicates that if the subscription did not already
	// exist, the Server MUST send all retained messages matching the Topic
	// Filter of the subscription to the Client, and if the subscription did
	// exist the Server MUST NOT send the retained messages.
	RetainHandling1

	// RetainHandling2 indicates that the Server MUST NOT send the retained
	// messages.
	RetainHandling2
)

// Payload Format indicators.
const (
	// PayloadFormat0 indicates that the payload is unspecified bytes.
	PayloadFormat0 PayloadFormat = iota

	// PayloadFormat1 indicates that the payload is UTF-8 encoded character
	// data.
	PayloadFormat1
)

type (
	// Client represents the MQTT client utilized by the transports in this
	// module.
	Client interface {
		// Subscribe sends a subscription request to the MQTT broker. It
		// returns a subscription object which can be used to unsubscribe.
		Subscribe(
			ctx context.Context,
			topic string,
			handler MessageHandler,
			opts ...SubscribeOption,
		) (Subscription, error)

		// Publish sends a publish request to the MQTT broker.
		Publish(
			ctx context.Context,
			topic string,
			payload []byte,
			opts ...PublishOption,
		) error

		// ClientID returns the identifier used by this client. If one is not
		// provided, a random ID must be generated for reconnection purposes.
		ClientID() string
	}

	// Message represents a received message. The client implementation must
	// support manual ack, since acks are managed by the receivers.
	Message struct {
		Topic   string
		Payload []byte
		PublishOptions
		Ack func() error
	}

	// MessageHandler is a user-defined callback function used to handle
	// messages received on the subscribed topic.
	MessageHandler func(context.Context, *Message) error

	// Subscription represents an open subscription.
	Subscription interface {
		// Unsubscribe this subscription.
		Unsubscribe(context.Context, ...UnsubscribeOption) error
	}

	// ConnectEvent contains the relevant metadata provided to the handler
	// when the MQTT client connects to the broker.
	ConnectEvent struct {
		// SessionPresent is true when the broker resumed an existing session.
		SessionPresent bool
	}

	// ConnectEventHandler is a user-defined callback function used to respond
	// to connection notifications from the MQTT client.
	ConnectEventHandler func(*ConnectEvent)

	// DisconnectEvent contains the relevant metadata provided to the handler
	// when the MQTT client disconnects from the broker.
	DisconnectEvent struct {
		Error error
	}

	// DisconnectEventHandler is a user-defined callback function used to
	// respond to disconnection notifications from the MQTT client.
	DisconnectEventHandler func(*DisconnectEvent)

	// SubscribeOptions are the resolved subscribe options.
	SubscribeOptions struct {
		NoLocal        bool
		QoS            QoS
		Retain         bool
		RetainHandling RetainHandling
		UserProperties map[string]string
	}

	// SubscribeOption represents a single subscribe option.
	SubscribeOption interface{ subscribe(*SubscribeOptions) }

	// UnsubscribeOptions are the resolved unsubscribe options.
	UnsubscribeOptions struct {
		UserProperties map[string]string
	}

	// UnsubscribeOption represents a single unsubscribe option.
	UnsubscribeOption interface{ unsubscribe(*UnsubscribeOptions) }

	// PublishOptions are the resolved publish options.
	PublishOptions struct {
		ContentType     string
		CorrelationData []byte
		MessageExpiry   uint32
		PayloadFormat   PayloadFormat
		QoS             QoS
		ResponseTopic   string
		Retain          bool
		UserProperties  map[string]string
	}

	// PublishOption represents a single publish option.
	PublishOption interface{ publish(*PublishOptions) }
)
