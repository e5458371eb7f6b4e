// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/eclipse/paho.golang/packets"
	"github.com/gorilla/websocket"
)

// ConnectionProvider is a function that returns a net.Conn connected to an
// MQTT server that is ready to read to and write from. Note that the returned
// net.Conn must be thread-safe (i.e., concurrent Write calls must not
// interleave).
type ConnectionProvider func(context.Context) (net.Conn, error)

// TCPConnection is a ConnectionProvider that connects to an MQTT server over
// TCP.
func TCPConnection(hostname string, port int) ConnectionProvider {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(
			ctx,
			"tcp",
			fmt.Sprintf("%s:%d", hostname, port),
		)
		if err != nil {
			return nil, &ConnectionError{
				message: "error opening TCP connection",
				wrapped: err,
			}
		}
		return conn, nil
	}
}

// TLSOption modifies the *tls.Config used when opening a TLS connection to an
// MQTT server. Options are applied in order on every connection attempt, so
// certificate files are re-read when the client reconnects.
type TLSOption func(context.Context, *tls.Config) error

// TLSConnection is a ConnectionProvider that connects to an MQTT server with
// TLS over TCP.
func TLSConnection(
	hostname string,
	port int,
	opts ...TLSOption,
) ConnectionProvider {
	return func(ctx context.Context) (net.Conn, error) {
		config := &tls.Config{MinVersion: tls.VersionTLS12}
		for _, opt := range opts {
			if err := opt(ctx, config); err != nil {
				return nil, &ConnectionError{
					message: "error building TLS configuration",
					wrapped: err,
				}
			}
		}

		d := tls.Dialer{Config: config}
		conn, err := d.DialContext(
			ctx,
			"tcp",
			fmt.Sprintf("%s:%d", hostname, port),
		)
		if err != nil {
			return nil, &ConnectionError{
				message: "error opening TLS connection",
				wrapped: err,
			}
		}
		return packets.NewThreadSafeConn(conn), nil
	}
}

// WebSocketConnection is a ConnectionProvider that connects to an MQTT server
// over a WebSocket, e.g. "ws://broker:8083/mqtt". A wss URL uses the given
// TLS options.
func WebSocketConnection(url string, opts ...TLSOption) ConnectionProvider {
	return func(ctx context.Context) (net.Conn, error) {
		config := &tls.Config{MinVersion: tls.VersionTLS12}
		for _, opt := range opts {
			if err := opt(ctx, config); err != nil {
				return nil, &ConnectionError{
					message: "error building TLS configuration",
					wrapped: err,
				}
			}
		}

		d := websocket.Dialer{
			TLSClientConfig:  config,
			Subprotocols:     []string{"mqtt"},
			HandshakeTimeout: 30 * time.Second,
		}
		ws, resp, err := d.DialContext(ctx, url, http.Header{})
		if err != nil {
			if resp != nil {
				resp.Body.Close()
			}
			return nil, &ConnectionError{
				message: "error opening WebSocket connection",
				wrapped: err,
			}
		}
		return packets.NewThreadSafeConn(&websocketConn{Conn: ws}), nil
	}
}

// websocketConn adapts a WebSocket connection to net.Conn. MQTT packets are
// carried in binary messages; a packet may span messages and a message may
// carry several packets, so reads stream across message boundaries.
type websocketConn struct {
	*websocket.Conn
	reader io.Reader
}

func (c *websocketConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			_, reader, err := c.NextReader()
			if err != nil {
				return 0, err
			}
			c.reader = reader
		}

		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *websocketConn) Write(p []byte) (int, error) {
	if err := c.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *websocketConn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}
