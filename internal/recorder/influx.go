package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"arena/netsync/internal/telemetry"
)

const (
	statsMeasurement = "netsync_stats"
	eventMeasurement = "netsync_event"
)

// Influx writes samples and events as points through the client's batching
// write API.
type Influx struct {
	client influxdb2.Client
	writer api.WriteAPI
}

// NewInflux connects to the configured bucket. Write errors are reported to
// logger asynchronously.
func NewInflux(cfg InfluxConfig, logger telemetry.Logger) (*Influx, error) {
	if cfg.URL == "" {
		return nil, errors.New("influx url is required")
	}
	if cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influx org and bucket are required")
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)
	writer := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			logger.Printf("influx write to %s failed: %v", cfg.Bucket, writeErr)
		}
	}(writer.Errors())
	return &Influx{client: client, writer: writer}, nil
}

func (in *Influx) RecordStats(_ context.Context, sample StatsSample) error {
	in.writer.WritePoint(statsPoint(sample))
	return nil
}

func (in *Influx) RecordEvent(_ context.Context, event EventRecord) error {
	point, err := eventPoint(event)
	if err != nil {
		return err
	}
	in.writer.WritePoint(point)
	return nil
}

// Close flushes pending points and releases the client.
func (in *Influx) Close() error {
	in.writer.Flush()
	in.client.Close()
	return nil
}

func statsPoint(sample StatsSample) *write.Point {
	return influxdb2.NewPointWithMeasurement(statsMeasurement).
		AddTag("identity", sample.Identity).
		AddTag("state", sample.State).
		AddField("ping_ms", sample.PingMillis).
		AddField("jitter_ms", sample.JitterMillis).
		AddField("interpolation_delay_ms", sample.InterpolationDelayMillis).
		AddField("messages_received", sample.MessagesReceived).
		AddField("messages_sent", sample.MessagesSent).
		AddField("malformed_messages", sample.MalformedMessages).
		AddField("out_of_order", sample.OutOfOrderSnapshots).
		AddField("stale_acks", sample.StaleAcknowledgments).
		AddField("unknown_updates", sample.UnknownEntityUpdates).
		AddField("pending_inputs", sample.PendingInputs).
		AddField("remote_entities", sample.RemoteEntities).
		AddField("projectiles", sample.Projectiles).
		AddField("correction_m", sample.CorrectionMeters).
		SetTime(sample.At)
}

func eventPoint(event EventRecord) (*write.Point, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event.Kind, err)
	}
	point := influxdb2.NewPointWithMeasurement(eventMeasurement).
		AddTag("identity", event.Identity).
		AddTag("kind", event.Kind).
		AddField("payload", string(payload)).
		SetTime(event.Timestamp)
	if !event.ServerTime.IsZero() {
		point.AddField("server_time_ms", event.ServerTime.UnixMilli())
	}
	return point, nil
}
