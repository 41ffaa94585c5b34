package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const defaultAppTag = "octopus-energy-consumption-metrics"

var errBatchClosed = errors.New("batch already closed")

// pointWriter is the part of api.WriteAPIBlocking the sink needs.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink writes observations to an InfluxDB v2 bucket.
type InfluxSink struct {
	client influxdb2.Client
	writer pointWriter
}

// NewInfluxSink creates a sink writing to org/bucket. Tags are added to every point.
func NewInfluxSink(serverURL, token, org, bucket string, tags map[string]string) *InfluxSink {
	opts := influxdb2.DefaultOptions().SetPrecision(time.Nanosecond)
	for k, v := range tags {
		opts.AddDefaultTag(k, v)
	}

	client := influxdb2.NewClientWithOptions(serverURL, token, opts)
	return &InfluxSink{
		client: client,
		writer: client.WriteAPIBlocking(org, bucket),
	}
}

func (s *InfluxSink) NewBatch() Batch {
	return &influxBatch{writer: s.writer}
}

// Close releases the underlying client.
func (s *InfluxSink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

type influxBatch struct {
	writer pointWriter
	points []*write.Point
	closed bool
}

func (b *influxBatch) Add(obs ...PricedObservation) {
	for _, o := range obs {
		b.points = append(b.points, toPoint(o))
	}
}

// Close writes every buffered point in a single request.
func (b *influxBatch) Close(ctx context.Context) error {
	if b.closed {
		return errBatchClosed
	}
	b.closed = true

	if len(b.points) == 0 {
		return nil
	}
	if err := b.writer.WritePoint(ctx, b.points...); err != nil {
		return fmt.Errorf("failed to write %d points to influxdb: %w", len(b.points), err)
	}
	b.points = nil
	return nil
}

func toPoint(o PricedObservation) *write.Point {
	fields := make(map[string]interface{}, len(o.Fields))
	for k, v := range o.Fields {
		fields[k] = v
	}
	return influxdb2.NewPoint(o.Measurement, nil, fields, o.Time)
}
