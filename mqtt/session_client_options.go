// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"log/slog"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/loadgrid/weighcore/mqtt/retry"
)

type (
	// SessionClientOptions are the resolved options for a session client.
	SessionClientOptions struct {
		// ClientID is the MQTT client ID. Generated randomly if unset.
		ClientID string

		// Username and Password are called on each connection attempt, so
		// rotating credentials are picked up on reconnection.
		Username UsernameProvider
		Password PasswordProvider

		// KeepAlive is the MQTT keep-alive interval in seconds.
		KeepAlive uint16

		// SessionExpiry is the requested session expiry interval in seconds.
		// Defaults to the maximum so the server keeps session state across
		// long outages.
		SessionExpiry uint32

		// ReceiveMaximum limits concurrent unacknowledged QoS 1 deliveries
		// from the server.
		ReceiveMaximum uint16

		// CleanStart requests a fresh session on the first connection.
		CleanStart bool

		// ConnectTimeout bounds each individual connection attempt.
		ConnectTimeout time.Duration

		// ConnectionRetry controls reconnection pacing.
		ConnectionRetry retry.Policy

		Logger *slog.Logger
	}

	// SessionClientOption represents a single option for the session client.
	SessionClientOption func(*SessionClient)
)

// WithClientID sets the MQTT client ID.
func WithClientID(clientID string) SessionClientOption {
	return func(c *SessionClient) {
		c.options.ClientID = clientID
	}
}

// WithUsername sets the provider called for the MQTT username on each
// connection attempt.
func WithUsername(provider UsernameProvider) SessionClientOption {
	return func(c *SessionClient) {
		c.options.Username = provider
	}
}

// WithPassword sets the provider called for the MQTT password on each
// connection attempt.
func WithPassword(provider PasswordProvider) SessionClientOption {
	return func(c *SessionClient) {
		c.options.Password = provider
	}
}

// WithKeepAlive sets the MQTT keep-alive interval in seconds.
func WithKeepAlive(seconds uint16) SessionClientOption {
	return func(c *SessionClient) {
		c.options.KeepAlive = seconds
	}
}

// WithSessionExpiry sets the requested session expiry interval in seconds.
func WithSessionExpiry(seconds uint32) SessionClientOption {
	return func(c *SessionClient) {
		c.options.SessionExpiry = seconds
	}
}

// WithReceiveMaximum sets the maximum number of concurrent unacknowledged
// QoS 1 deliveries from the server.
func WithReceiveMaximum(maximum uint16) SessionClientOption {
	return func(c *SessionClient) {
		c.options.ReceiveMaximum = maximum
	}
}

// WithCleanStart requests a fresh session on the first connection.
func WithCleanStart(cleanStart bool) SessionClientOption {
	return func(c *SessionClient) {
		c.options.CleanStart = cleanStart
	}
}

// WithConnectTimeout bounds each individual connection attempt.
func WithConnectTimeout(timeout time.Duration) SessionClientOption {
	return func(c *SessionClient) {
		c.options.ConnectTimeout = timeout
	}
}

// WithConnectionRetry sets the retry policy for reconnection.
func WithConnectionRetry(policy retry.Policy) SessionClientOption {
	return func(c *SessionClient) {
		c.options.ConnectionRetry = policy
	}
}

// WithLogger sets the logger for the session client.
func WithLogger(logger *slog.Logger) SessionClientOption {
	return func(c *SessionClient) {
		c.options.Logger = logger
	}
}

// WithPahoClientFactory replaces the underlying MQTT client, intended for
// testing against a stub.
func WithPahoClientFactory(
	factory func(*paho.ClientConfig) PahoClient,
) SessionClientOption {
	return func(c *SessionClient) {
		c.pahoClientFactory = factory
	}
}
