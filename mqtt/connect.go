// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/eclipse/paho.golang/paho"
)

// Start spins up the session client's background routines. The connection is
// established and maintained asynchronously; operations issued before the
// first connection succeeds are held until it does.
func (c *SessionClient) Start() error {
	select {
	case <-c.stop:
		return &ClientStateError{State: ShutDown}
	default:
	}

	if !c.started.CompareAndSwap(false, true) {
		return &ClientStateError{State: Started}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.lifetime = ctx
	go func() {
		<-c.stop
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.manageConnection(ctx)
	}()
	go func() {
		defer wg.Done()
		c.processOutgoing(ctx)
	}()
	go func() {
		wg.Wait()
		close(c.done)
	}()

	return nil
}

// Stop shuts down the session client, sending a DISCONNECT if a connection
// is live and failing any queued operations. It blocks until the background
// routines have wound down. A stopped session client cannot be restarted.
func (c *SessionClient) Stop() error {
	if !c.started.Load() {
		return &ClientStateError{State: NotStarted}
	}
	c.shutdown()
	<-c.done
	return nil
}

// shutdown terminates the session client, from Stop or from a fatal error.
func (c *SessionClient) shutdown() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// manageConnection maintains the connection until shutdown, reconnecting
// under the retry policy whenever it drops for a non-fatal reason.
func (c *SessionClient) manageConnection(ctx context.Context) {
	defer c.forceDisconnect()

	for ctx.Err() == nil {
		connack, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Err(ctx, err)
			c.notifyFatalError(err)
			c.shutdown()
			return
		}

		c.log.Info(ctx, "connected",
			slog.String("client_id", c.options.ClientID),
			slog.Bool("session_present", connack.SessionPresent),
		)
		c.notifyConnect(&ConnectEvent{SessionPresent: connack.SessionPresent})

		if !connack.SessionPresent {
			c.resubscribe(ctx)
		}

		_, _, down := c.conn.current()
		select {
		case <-ctx.Done():
			return
		case <-down:
		}

		err = c.conn.lastError()
		c.log.Warn(ctx, "connection lost", slog.Any("error", err))

		var fatal *FatalDisconnectError
		if errors.As(err, &fatal) {
			c.notifyFatalError(err)
			c.shutdown()
			return
		}
		c.notifyDisconnect(&DisconnectEvent{Error: err})
	}
}

// connect runs connection attempts under the configured retry policy until
// one succeeds, a fatal error occurs, or the context is canceled.
func (c *SessionClient) connect(ctx context.Context) (*paho.Connack, error) {
	var connack *paho.Connack
	err := c.options.ConnectionRetry.Start(ctx, "connect",
		func(ctx context.Context) (bool, error) {
			var err error
			connack, err = c.attemptConnect(ctx)
			if err != nil {
				return isRetryableConnectError(err), err
			}
			return false, nil
		},
	)
	if err != nil {
		return nil, err
	}
	return connack, nil
}

// Connection failures are retried unless the server's reason code indicates
// that no future attempt can succeed.
func isRetryableConnectError(err error) bool {
	var fatal *FatalConnackError
	return !errors.As(err, &fatal)
}

func (c *SessionClient) attemptConnect(
	ctx context.Context,
) (*paho.Connack, error) {
	attempt := c.conn.nextAttempt()

	ctx, cancel := context.WithTimeout(ctx, c.options.ConnectTimeout)
	defer cancel()

	packet, err := c.buildConnectPacket(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := c.connectionProvider(ctx)
	if err != nil {
		return nil, &ConnectionError{
			message: "failed to open connection",
			wrapped: err,
		}
	}

	// The callbacks close over the client so message acks go to the
	// connection that delivered the message. Paho only invokes them once
	// Connect is underway, after the assignment below.
	var client PahoClient
	client = c.pahoClientFactory(&paho.ClientConfig{
		ClientID:                   c.options.ClientID,
		Conn:                       conn,
		Session:                    c.session,
		EnableManualAcknowledgment: true,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pb paho.PublishReceived) (bool, error) {
				return c.onPublishReceived(client, attempt, pb.Packet)
			},
		},
		OnClientError: func(err error) {
			c.conn.disconnected(attempt, &ConnectionError{
				message: "connection lost",
				wrapped: err,
			})
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			c.conn.disconnected(attempt, disconnectError(d))
		},
	})

	c.log.Packet(ctx, "connect", packet)
	connack, err := client.Connect(ctx, packet)
	if connack != nil {
		c.log.Packet(ctx, "connack", connack)
	}
	switch {
	case connack == nil:
		return nil, &ConnectionError{
			message: "CONNECT failed",
			wrapped: err,
		}
	case connack.ReasonCode >= 0x80:
		if isFatalConnackReasonCode(connack.ReasonCode) {
			return nil, &FatalConnackError{ReasonCode: connack.ReasonCode}
		}
		return nil, &ConnackError{ReasonCode: connack.ReasonCode}
	}

	if _, _, err := c.conn.connected(client); err != nil {
		return nil, err
	}
	return connack, nil
}

func (c *SessionClient) buildConnectPacket(
	ctx context.Context,
) (*paho.Connect, error) {
	sessionExpiry := c.options.SessionExpiry
	receiveMaximum := c.options.ReceiveMaximum

	// Clean start applies only to the first connection; reconnections always
	// resume the session the server kept for us.
	_, count, _ := c.conn.current()
	packet := &paho.Connect{
		ClientID:   c.options.ClientID,
		KeepAlive:  c.options.KeepAlive,
		CleanStart: c.options.CleanStart && count == 0,
		Properties: &paho.ConnectProperties{
			SessionExpiryInterval: &sessionExpiry,
			ReceiveMaximum:        &receiveMaximum,
		},
	}

	if c.options.Username != nil {
		username, err := c.options.Username(ctx)
		if err != nil {
			return nil, &InvalidArgumentError{
				message: "error reading MQTT username",
				wrapped: err,
			}
		}
		packet.Username = username
		packet.UsernameFlag = true
	}

	if c.options.Password != nil {
		password, err := c.options.Password(ctx)
		if err != nil {
			return nil, &InvalidArgumentError{
				message: "error reading MQTT password",
				wrapped: err,
			}
		}
		packet.Password = password
		packet.PasswordFlag = true
	}

	return packet, nil
}

// forceDisconnect sends a best-effort DISCONNECT on the live connection, if
// any, and drops it.
func (c *SessionClient) forceDisconnect() {
	client := c.conn.clear()
	if client == nil {
		return
	}
	_ = client.Disconnect(&paho.Disconnect{
		ReasonCode: disconnectNormalDisconnection,
	})
}

func disconnectError(d *paho.Disconnect) error {
	if d == nil {
		return &ConnectionError{message: "server closed the connection"}
	}
	if isFatalDisconnectReasonCode(d.ReasonCode) {
		return &FatalDisconnectError{ReasonCode: d.ReasonCode}
	}
	return &DisconnectError{ReasonCode: d.ReasonCode}
}

// awaitConnection blocks until a connection is live, returning the client,
// its connection count, and the channel that closes when it drops.
func (c *SessionClient) awaitConnection(
	ctx context.Context,
) (PahoClient, uint64, <-chan struct{}, error) {
	for {
		client, count, up, down := c.conn.snapshot()
		if client != nil {
			return client, count, down, nil
		}

		select {
		case <-ctx.Done():
			return nil, 0, nil, ctx.Err()
		case <-c.stop:
			return nil, 0, nil, &ClientStateError{State: ShutDown}
		case <-up:
		}
	}
}
