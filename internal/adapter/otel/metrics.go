package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "foreman"

// Metrics holds all engine metric instruments.
type Metrics struct {
	RunsStarted    metric.Int64Counter
	RunsCompleted  metric.Int64Counter
	RunsFailed     metric.Int64Counter
	AgentsSpawned  metric.Int64Counter
	AgentTimeouts  metric.Int64Counter
	Merges         metric.Int64Counter
	MergeConflicts metric.Int64Counter
	RunDuration    metric.Float64Histogram
	AgentDuration  metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RunsStarted, err = meter.Int64Counter("foreman.runs.started",
		metric.WithDescription("Number of orchestrator runs started"))
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("foreman.runs.completed",
		metric.WithDescription("Number of orchestrator runs completed"))
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("foreman.runs.failed",
		metric.WithDescription("Number of orchestrator runs failed"))
	if err != nil {
		return nil, err
	}

	m.AgentsSpawned, err = meter.Int64Counter("foreman.agents.spawned",
		metric.WithDescription("Number of agent sessions spawned"))
	if err != nil {
		return nil, err
	}

	m.AgentTimeouts, err = meter.Int64Counter("foreman.agents.timeouts",
		metric.WithDescription("Number of agent sessions that hit the timeout"))
	if err != nil {
		return nil, err
	}

	m.Merges, err = meter.Int64Counter("foreman.merges",
		metric.WithDescription("Number of branch merges attempted"))
	if err != nil {
		return nil, err
	}

	m.MergeConflicts, err = meter.Int64Counter("foreman.merges.conflicts",
		metric.WithDescription("Number of merges halted by conflicts"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("foreman.run.duration_seconds",
		metric.WithDescription("Run duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.AgentDuration, err = meter.Float64Histogram("foreman.agent.duration_seconds",
		metric.WithDescription("Agent session duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
