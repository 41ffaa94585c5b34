package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"
)

var csvHeader = []string{"Timestamp", "Measurement", "Field", "Value"}

// CSVSink appends every observation to a CSV file, one row per field.
type CSVSink struct {
	Filename string
}

func (s *CSVSink) NewBatch() Batch {
	return &csvBatch{filename: s.Filename}
}

type csvBatch struct {
	filename string
	obs      []PricedObservation
	closed   bool
}

func (b *csvBatch) Add(obs ...PricedObservation) {
	b.obs = append(b.obs, obs...)
}

func (b *csvBatch) Close(_ context.Context) error {
	if b.closed {
		return errBatchClosed
	}
	b.closed = true

	if len(b.obs) == 0 {
		return nil
	}
	if err := appendCSV(b.filename, b.obs); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	return nil
}

// Format float64 values at full precision
func formatFloat(val float64) string {
	return strconv.FormatFloat(val, 'f', -1, 64)
}

// Append data to a CSV file, writing the header when the file is new
func appendCSV(filename string, data []PricedObservation) error {
	_, statErr := os.Stat(filename)
	isNew := errors.Is(statErr, os.ErrNotExist)

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if isNew {
		if err := writer.Write(csvHeader); err != nil {
			return err
		}
	}

	for _, o := range data {
		names := make([]string, 0, len(o.Fields))
		for name := range o.Fields {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			record := []string{
				o.Time.UTC().Format(time.RFC3339Nano),
				o.Measurement,
				name,
				formatFloat(o.Fields[name]),
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}
