// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/eclipse/paho.golang/paho/session"
	"github.com/eclipse/paho.golang/paho/session/state"

	"github.com/loadgrid/weighcore/internal/log"
	"github.com/loadgrid/weighcore/mqtt/retry"
)

// Size of the outgoing publish queue. Publishes beyond this fail fast rather
// than accumulating unbounded behind a dead connection.
const maxPublishQueueSize = 1024

type (
	// SessionClient implements an MQTT session client supporting MQTT v5
	// with QoS 0 and QoS 1. It maintains the connection in the background,
	// resuming the MQTT session where the server kept it and re-establishing
	// subscriptions where it did not.
	SessionClient struct {
		options            SessionClientOptions
		connectionProvider ConnectionProvider

		// Paho's session tracker, persisting QoS 1 delivery state across
		// reconnections.
		session session.SessionManager

		started  atomic.Bool
		stop     chan struct{}
		stopOnce sync.Once
		done     chan struct{}

		// lifetime is valid once started; it parents handler invocations and
		// background sends.
		lifetime context.Context

		conn connectionTracker

		subscriptions struct {
			sync.RWMutex
			m map[string]*subscription
		}

		handlers struct {
			sync.Mutex
			nextID     uint64
			connect    map[uint64]ConnectEventHandler
			disconnect map[uint64]DisconnectEventHandler
			fatal      map[uint64]func(error)
		}

		// outgoing serializes publishes through a single sender so ordering
		// survives reconnection.
		outgoing chan *queuedPublish

		pahoClientFactory func(*paho.ClientConfig) PahoClient

		log logger
	}

	// PahoClient is the interface for the underlying MQTTv5 client, intended
	// for client swapping in tests. The Paho client serves as the core
	// implementation.
	PahoClient interface {
		Connect(ctx context.Context, packet *paho.Connect) (*paho.Connack, error)
		Disconnect(packet *paho.Disconnect) error
		Subscribe(ctx context.Context, packet *paho.Subscribe) (*paho.Suback, error)
		Unsubscribe(ctx context.Context, packet *paho.Unsubscribe) (*paho.Unsuback, error)
		Publish(ctx context.Context, packet *paho.Publish) (*paho.PublishResponse, error)
		Ack(pb *paho.Publish) error
	}
)

// NewSessionClient constructs a new session client with user options.
func NewSessionClient(
	connectionProvider ConnectionProvider,
	opts ...SessionClientOption,
) *SessionClient {
	c := &SessionClient{
		connectionProvider: connectionProvider,

		session: state.NewInMemory(),

		stop: make(chan struct{}),
		done: make(chan struct{}),

		outgoing: make(chan *queuedPublish, maxPublishQueueSize),
	}
	c.conn.init()
	c.subscriptions.m = map[string]*subscription{}
	c.handlers.connect = map[uint64]ConnectEventHandler{}
	c.handlers.disconnect = map[uint64]DisconnectEventHandler{}
	c.handlers.fatal = map[uint64]func(error){}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.options.ClientID == "" {
		c.options.ClientID = RandomClientID()
	}

	if c.options.KeepAlive == 0 {
		c.options.KeepAlive = 60
	}

	if c.options.SessionExpiry == 0 {
		c.options.SessionExpiry = math.MaxUint32
	}

	if c.options.ReceiveMaximum == 0 {
		c.options.ReceiveMaximum = math.MaxUint16
	}

	if c.options.ConnectTimeout == 0 {
		c.options.ConnectTimeout = 30 * time.Second
	}

	if c.options.ConnectionRetry == nil {
		c.options.ConnectionRetry = &retry.ExponentialBackoff{
			Logger: c.options.Logger,
		}
	}

	if c.pahoClientFactory == nil {
		c.pahoClientFactory = func(config *paho.ClientConfig) PahoClient {
			return paho.NewClient(*config)
		}
	}

	c.log = logger{log.Wrap(c.options.Logger)}

	return c
}

// ClientID returns the MQTT client ID for this session client.
func (c *SessionClient) ClientID() string {
	return c.options.ClientID
}

// prepare checks that the session client is in a state where user operations
// may be issued.
func (c *SessionClient) prepare() error {
	select {
	case <-c.stop:
		return &ClientStateError{State: ShutDown}
	default:
	}
	if !c.started.Load() {
		return &ClientStateError{State: NotStarted}
	}
	return nil
}

// RegisterConnectEventHandler registers a handler called on every successful
// connection. The returned function removes the handler.
func (c *SessionClient) RegisterConnectEventHandler(
	handler ConnectEventHandler,
) func() {
	c.handlers.Lock()
	defer c.handlers.Unlock()

	id := c.handlers.nextID
	c.handlers.nextID++
	c.handlers.connect[id] = handler
	return func() {
		c.handlers.Lock()
		defer c.handlers.Unlock()
		delete(c.handlers.connect, id)
	}
}

// RegisterDisconnectEventHandler registers a handler called on every
// disconnection. The returned function removes the handler.
func (c *SessionClient) RegisterDisconnectEventHandler(
	handler DisconnectEventHandler,
) func() {
	c.handlers.Lock()
	defer c.handlers.Unlock()

	id := c.handlers.nextID
	c.handlers.nextID++
	c.handlers.disconnect[id] = handler
	return func() {
		c.handlers.Lock()
		defer c.handlers.Unlock()
		delete(c.handlers.disconnect, id)
	}
}

// RegisterFatalErrorHandler registers a handler called in a goroutine when
// the session client terminates due to a fatal error. The returned function
// removes the handler.
func (c *SessionClient) RegisterFatalErrorHandler(
	handler func(error),
) func() {
	c.handlers.Lock()
	defer c.handlers.Unlock()

	id := c.handlers.nextID
	c.handlers.nextID++
	c.handlers.fatal[id] = handler
	return func() {
		c.handlers.Lock()
		defer c.handlers.Unlock()
		delete(c.handlers.fatal, id)
	}
}

func (c *SessionClient) notifyConnect(event *ConnectEvent) {
	for _, handler := range c.connectHandlers() {
		handler(event)
	}
}

func (c *SessionClient) notifyDisconnect(event *DisconnectEvent) {
	for _, handler := range c.disconnectHandlers() {
		handler(event)
	}
}

func (c *SessionClient) notifyFatalError(err error) {
	c.handlers.Lock()
	defer c.handlers.Unlock()

	for _, handler := range c.handlers.fatal {
		go handler(err)
	}
}

// Handlers are snapshotted before invocation so a handler may register or
// remove handlers without deadlocking.
func (c *SessionClient) connectHandlers() []ConnectEventHandler {
	c.handlers.Lock()
	defer c.handlers.Unlock()

	handlers := make([]ConnectEventHandler, 0, len(c.handlers.connect))
	for _, handler := range c.handlers.connect {
		handlers = append(handlers, handler)
	}
	return handlers
}

func (c *SessionClient) disconnectHandlers() []DisconnectEventHandler {
	c.handlers.Lock()
	defer c.handlers.Unlock()

	handlers := make([]DisconnectEventHandler, 0, len(c.handlers.disconnect))
	for _, handler := range c.handlers.disconnect {
		handlers = append(handlers, handler)
	}
	return handlers
}
