package server

import (
	"github.com/netmove/netmove/oerror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/netmove/netmove/server"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

type metrics struct {
	rejected metric.Int64Counter
	stalls   metric.Int64Counter
	pads     metric.Int64Counter
	clamped  metric.Int64Counter
	ticks    metric.Float64Histogram
}

func newMetrics() (metrics, error) {
	m := meter()
	var (
		out metrics
		err error
	)
	out.rejected, err = m.Int64Counter(
		"server.commands.rejected",
		metric.WithDescription("Commands dropped for arriving stale, duplicated or too far ahead"),
	)
	if err != nil {
		return out, oerror.New("creating rejected counter: %w", err)
	}
	out.stalls, err = m.Int64Counter(
		"server.commands.stalls",
		metric.WithDescription("Entity ticks spent waiting for a missing command"),
	)
	if err != nil {
		return out, oerror.New("creating stall counter: %w", err)
	}
	out.pads, err = m.Int64Counter(
		"server.commands.padded",
		metric.WithDescription("Missing commands replaced by neutral input"),
	)
	if err != nil {
		return out, oerror.New("creating pad counter: %w", err)
	}
	out.clamped, err = m.Int64Counter(
		"server.rewinds.clamped",
		metric.WithDescription("Weapon queries older than the retained history"),
	)
	if err != nil {
		return out, oerror.New("creating clamped rewind counter: %w", err)
	}
	out.ticks, err = m.Float64Histogram(
		"server.tick.duration",
		metric.WithDescription("Wall time spent in one server tick"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return out, oerror.New("creating tick histogram: %w", err)
	}
	return out, nil
}
