// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// BatchMetrics tracks creation and use-case outcomes for production monitoring.
type BatchMetrics struct {
	// agentsCreated counts remote agents created, by kind (role, manager).
	agentsCreated metric.Int64Counter

	// useCases counts use-case executions by outcome (success, failure).
	useCases metric.Int64Counter

	// retries counts retry attempts beyond the first, by operation.
	retries metric.Int64Counter
}

// NewBatchMetrics creates a metrics tracker on the global OTEL meter.
func NewBatchMetrics() (*BatchMetrics, error) {
	meter := otel.Meter("stagehand/batch")

	agentsCreated, err := meter.Int64Counter(
		"stagehand.agents.created",
		metric.WithDescription("Remote agents created, by kind"),
	)
	if err != nil {
		return nil, err
	}

	useCases, err := meter.Int64Counter(
		"stagehand.usecases.total",
		metric.WithDescription("Use-case executions, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter(
		"stagehand.retries.total",
		metric.WithDescription("Retry attempts beyond the first, by operation"),
	)
	if err != nil {
		return nil, err
	}

	return &BatchMetrics{
		agentsCreated: agentsCreated,
		useCases:      useCases,
		retries:       retries,
	}, nil
}

// RecordAgentCreated counts one created remote agent.
func (m *BatchMetrics) RecordAgentCreated(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.agentsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordUseCase counts one finished use case.
func (m *BatchMetrics) RecordUseCase(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.useCases.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordRetries counts attempts beyond the first for an operation.
func (m *BatchMetrics) RecordRetries(ctx context.Context, operation string, extraAttempts int) {
	if m == nil || extraAttempts <= 0 {
		return
	}
	m.retries.Add(ctx, int64(extraAttempts), metric.WithAttributes(attribute.String("operation", operation)))
}
