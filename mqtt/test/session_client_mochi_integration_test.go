// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package test

import (
	"context"
	"fmt"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"

	"github.com/loadgrid/weighcore/mqtt"
)

const (
	mochiTCPPort  = 1884
	mochiUsername = "bridge"
	mochiPassword = "forty-tonnes"

	topicName      = "weigh/yard-a/weight"
	publishMessage = `{"total_net_kg":49.31}`
)

func newMochiSessionClient(t *testing.T) *mqtt.SessionClient {
	t.Helper()
	client := mqtt.NewSessionClient(
		mqtt.TCPConnection("localhost", mochiTCPPort),
		mqtt.WithUsername(mqtt.ConstantUsername(mochiUsername)),
		mqtt.WithPassword(mqtt.ConstantPassword([]byte(mochiPassword))),
	)
	require.NoError(t, client.Start())
	t.Cleanup(func() { _ = client.Stop() })
	return client
}

func TestWithMochi(t *testing.T) {
	ledger := &auth.Ledger{
		// Auth disallows all by default.
		Auth: auth.AuthRules{
			{
				Username: auth.RString(mochiUsername),
				Password: auth.RString(mochiPassword),
				Allow:    true,
			},
		},
	}

	server := mochi.New(nil)
	err := server.AddHook(
		new(auth.Hook),
		&auth.Options{
			Ledger: ledger,
		},
	)
	require.NoError(t, err)

	cfg := listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		Address: fmt.Sprintf("localhost:%d", mochiTCPPort),
	})
	require.NoError(t, server.AddListener(cfg))

	require.NoError(t, server.Serve())

	t.Cleanup(func() { server.Close() })

	t.Run("TestConnect", func(t *testing.T) {
		client := mqtt.NewSessionClient(
			mqtt.TCPConnection("localhost", mochiTCPPort),
			mqtt.WithUsername(mqtt.ConstantUsername(mochiUsername)),
			mqtt.WithPassword(mqtt.ConstantPassword([]byte(mochiPassword))),
		)

		connected := make(chan struct{}, 1)
		client.RegisterConnectEventHandler(func(*mqtt.ConnectEvent) {
			select {
			case connected <- struct{}{}:
			default:
			}
		})

		require.NoError(t, client.Start())
		t.Cleanup(func() { _ = client.Stop() })

		select {
		case <-connected:
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for connection")
		}
	})

	t.Run("TestSubscribeUnsubscribe", func(t *testing.T) {
		client := newMochiSessionClient(t)

		sub, err := client.Subscribe(
			context.Background(),
			topicName,
			func(_ context.Context, msg *mqtt.Message) error {
				return msg.Ack()
			},
			mqtt.WithQoS(1),
		)
		require.NoError(t, err)

		require.NoError(t, sub.Unsubscribe(context.Background()))
	})

	t.Run("TestSubscribePublish", func(t *testing.T) {
		client := newMochiSessionClient(t)

		received := make(chan *mqtt.Message, 1)
		_, err := client.Subscribe(
			context.Background(),
			topicName,
			func(_ context.Context, msg *mqtt.Message) error {
				if err := msg.Ack(); err != nil {
					return err
				}
				received <- msg
				return nil
			},
			mqtt.WithQoS(1),
		)
		require.NoError(t, err)

		require.NoError(t, client.Publish(
			context.Background(),
			topicName,
			[]byte(publishMessage),
			mqtt.WithQoS(1),
		))

		select {
		case msg := <-received:
			require.Equal(t, topicName, msg.Topic)
			require.Equal(t, []byte(publishMessage), msg.Payload)
			require.Equal(t, mqtt.QoS1, msg.QoS)
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for message")
		}
	})
}
