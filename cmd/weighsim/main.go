// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/loadgrid/weighcore/feed"
	"github.com/loadgrid/weighcore/mqtt"
	"github.com/loadgrid/weighcore/scale"
	"github.com/loadgrid/weighcore/simulate"
)

// logEvery thins the per-frame weight stream down to roughly two log lines
// per second at the default sample rate.
const logEvery = 16

func main() {
	configPath := flag.String("config", "", "JSON config file (defaults apply when empty)")
	site := flag.String("site", "yard-a", "site segment used in MQTT topic names")
	scenario := flag.String("scenario", "normal",
		"fault scenario: "+strings.Join(simulate.PresetNames(), ", "))
	broker := flag.Bool("broker", false,
		"route samples and weights over MQTT (WEIGH_BROKER_HOSTNAME, default localhost:1883)")
	tareAfter := flag.Duration("tare-after", 5*time.Second,
		"capture a tare once readings settle (0 disables)")
	seed := flag.Int64("seed", 0, "simulator seed (0 seeds from the current time)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: level}))

	cfg := scale.DefaultConfig()
	if *configPath != "" {
		cfg = must(scale.LoadConfig(*configPath))
	}

	run, ok := simulate.Preset(*scenario, cfg.Nodes)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown scenario %q; have: %s\n",
			*scenario, strings.Join(simulate.PresetNames(), ", "))
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := must(scale.NewWeighingEngine(cfg, scale.WithLogger(log)))
	check(engine.Start(ctx))
	defer engine.Close()

	var sink simulate.Sink
	if *broker {
		sink = startBridge(ctx, log, engine, cfg, *site)
	} else {
		sink = engine.Ingest
		go logOutputs(ctx, log, engine.Outputs())
	}

	fleet := must(simulate.NewFleet(cfg.Nodes, sink,
		simulate.WithRate(cfg.SampleRate),
		simulate.WithSeed(*seed),
		simulate.WithLogger(log),
	))
	check(fleet.Start(ctx))
	defer fleet.Close()

	if *tareAfter > 0 {
		go captureTare(ctx, log, engine, *tareAfter)
	}

	go func() {
		run(ctx, fleet)
		if ctx.Err() == nil {
			log.Info("scenario finished", "scenario", *scenario)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down...")
	log.LogAttrs(ctx, slog.LevelInfo, "pipeline stats", engine.Stats().Attrs()...)
	cancel()
}

// startBridge routes the pipeline over MQTT instead of in-process: the
// returned sink publishes raw samples, a sample feed delivers them back into
// the engine, and the engine's outputs are published and logged from a
// weight subscription.
func startBridge(
	ctx context.Context,
	log *slog.Logger,
	engine *scale.WeighingEngine,
	cfg scale.Config,
	site string,
) simulate.Sink {
	client := newMQTTClient(log)
	check(client.Start())

	sampleFeed := must(feed.NewSampleFeed(client, engine, site, feed.WithLogger(log)))
	must(sampleFeed.Listen(ctx))

	publisher := must(feed.NewOutputPublisher(client, site, feed.WithLogger(log)))
	go func() {
		if err := publisher.Run(ctx, engine.Outputs()); err != nil && ctx.Err() == nil {
			log.Error("output pump failed", "error", err)
		}
	}()

	var count int
	must(client.Subscribe(ctx, feed.WeightTopic(site),
		func(ctx context.Context, msg *mqtt.Message) error {
			var p feed.WeightPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				return err
			}
			if count++; count%logEvery == 0 {
				log.Info("weight",
					"total_kg", fmt.Sprintf("%.2f", p.TotalKg),
					"complete", p.Complete,
					"stale", len(p.Stale))
			}
			return nil
		}))

	channels := make(map[scale.NodeID]string, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		channels[n.ID] = n.Channel
	}
	return func(ctx context.Context, s scale.RawSample) error {
		data, err := json.Marshal(feed.NewSamplePayload(channels[s.NodeID], s))
		if err != nil {
			return err
		}
		return client.Publish(ctx, feed.SampleTopic(site, s.NodeID), data,
			mqtt.WithQoS(1),
			mqtt.WithContentType("application/json"))
	}
}

// newMQTTClient connects from the environment when a broker hostname is
// configured and falls back to a local broker otherwise.
func newMQTTClient(log *slog.Logger) *mqtt.SessionClient {
	if os.Getenv("WEIGH_BROKER_HOSTNAME") != "" {
		return must(mqtt.NewSessionClientFromEnv(mqtt.WithLogger(log)))
	}
	return mqtt.NewSessionClient(
		mqtt.TCPConnection("localhost", 1883),
		mqtt.WithLogger(log),
	)
}

func logOutputs(ctx context.Context, log *slog.Logger, outputs <-chan scale.Output) {
	var count int
	for out := range outputs {
		if count++; count%logEvery == 0 {
			log.LogAttrs(ctx, slog.LevelInfo, "weight", out.Attrs()...)
		}
	}
}

func captureTare(
	ctx context.Context,
	log *slog.Logger,
	engine *scale.WeighingEngine,
	after time.Duration,
) {
	select {
	case <-time.After(after):
	case <-ctx.Done():
		return
	}
	tares, err := engine.CaptureTare(ctx)
	if err != nil {
		log.Error("tare capture failed", "error", err)
		return
	}
	log.Info("tare captured", "nodes", len(tares))
}

func check(e error) {
	if e != nil {
		panic(e)
	}
}

func must[T any](t T, e error) T {
	check(e)
	return t
}
