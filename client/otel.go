package client

import (
	"github.com/netmove/netmove/oerror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/netmove/netmove/client"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

type metrics struct {
	snapshots   metric.Int64Counter
	corrections metric.Int64Counter
	overflow    metric.Int64Counter
	replayed    metric.Int64Histogram
}

func newMetrics() (metrics, error) {
	m := meter()
	var (
		out metrics
		err error
	)
	out.snapshots, err = m.Int64Counter(
		"client.snapshots",
		metric.WithDescription("Snapshots received, by reconciliation result"),
	)
	if err != nil {
		return out, oerror.New("creating snapshot counter: %w", err)
	}
	out.corrections, err = m.Int64Counter(
		"client.corrections",
		metric.WithDescription("Mispredictions corrected by replay"),
	)
	if err != nil {
		return out, oerror.New("creating correction counter: %w", err)
	}
	out.overflow, err = m.Int64Counter(
		"client.buffer.overflow",
		metric.WithDescription("Unacknowledged commands evicted from the prediction buffer"),
	)
	if err != nil {
		return out, oerror.New("creating overflow counter: %w", err)
	}
	out.replayed, err = m.Int64Histogram(
		"client.replay.commands",
		metric.WithDescription("Commands replayed per correction"),
	)
	if err != nil {
		return out, oerror.New("creating replay histogram: %w", err)
	}
	return out, nil
}
