// Package nats implements the dispatch port over NATS JetStream, carrying
// task assignments to worker executors and results back.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/leventea/orchid/internal/port/dispatch"
)

const (
	streamName      = "ORCHID"
	subjectDispatch = "orchid.tasks.dispatch"
	subjectResult   = "orchid.tasks.result"
)

// Dispatcher implements dispatch.Dispatcher using NATS JetStream.
type Dispatcher struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, url string) (*Dispatcher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"orchid.tasks.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Dispatcher{nc: nc, js: js}, nil
}

// Dispatch publishes an assignment for a worker executor to pick up.
func (d *Dispatcher) Dispatch(ctx context.Context, a dispatch.Assignment) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal assignment: %w", err)
	}
	if _, err := d.js.Publish(ctx, subjectDispatch, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subjectDispatch, err)
	}
	return nil
}

// SubscribeResults consumes worker completion reports.
func (d *Dispatcher) SubscribeResults(ctx context.Context, handler dispatch.ResultHandler) (func(), error) {
	consumer, err := d.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: subjectResult,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		var res dispatch.Result
		if err := json.Unmarshal(msg.Data(), &res); err != nil {
			slog.Error("malformed result message", "error", err)
			_ = msg.Term()
			return
		}
		if err := handler(context.Background(), res); err != nil {
			slog.Error("result handler failed", "task_id", res.TaskID, "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				slog.Error("nats nak failed", "error", nakErr)
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Error("nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

// PublishResult reports a completed assignment. Worker executors call this;
// it also backs the loopback path in integration setups.
func (d *Dispatcher) PublishResult(ctx context.Context, res dispatch.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if _, err := d.js.Publish(ctx, subjectResult, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subjectResult, err)
	}
	return nil
}

// KeyValue creates or opens a JetStream KV bucket, used as the remote tier
// of the wave snapshot cache.
func (d *Dispatcher) KeyValue(ctx context.Context, bucket string) (jetstream.KeyValue, error) {
	kv, err := d.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: bucket})
	if err != nil {
		return nil, fmt.Errorf("jetstream kv %s: %w", bucket, err)
	}
	return kv, nil
}

// Close shuts down the NATS connection.
func (d *Dispatcher) Close() error {
	d.nc.Close()
	return nil
}
