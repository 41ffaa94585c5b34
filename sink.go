package main

import (
	"context"
	"errors"
)

// Sink accepts priced observations. Each poll cycle writes through its own Batch.
type Sink interface {
	NewBatch() Batch
}

// Batch buffers observations until Close, which flushes them.
// A Batch must be closed exactly once.
type Batch interface {
	Add(obs ...PricedObservation)
	Close(ctx context.Context) error
}

// multiSink fans every batch out to several sinks.
type multiSink []Sink

func (m multiSink) NewBatch() Batch {
	batches := make(multiBatch, 0, len(m))
	for _, s := range m {
		batches = append(batches, s.NewBatch())
	}
	return batches
}

type multiBatch []Batch

func (m multiBatch) Add(obs ...PricedObservation) {
	for _, b := range m {
		b.Add(obs...)
	}
}

func (m multiBatch) Close(ctx context.Context) error {
	var errs []error
	for _, b := range m {
		if err := b.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
