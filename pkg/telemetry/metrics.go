// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/aegis/pkg/errors"
)

// Metrics tracks trust and spawn activity for production monitoring.
// All methods are safe to call on a nil receiver; instrumented code does
// not need to guard against telemetry being disabled.
type Metrics struct {
	// grantCounter counts grants issued, by delegated yes/no.
	grantCounter metric.Int64Counter

	// verificationCounter counts grant and chain verifications, by outcome.
	verificationCounter metric.Int64Counter

	// revocationCounter counts revocations, by reason.
	revocationCounter metric.Int64Counter

	// spawnCounter counts spawned children, by spawn type.
	spawnCounter metric.Int64Counter

	// terminationCounter counts terminations, cascaded ones included.
	terminationCounter metric.Int64Counter

	// receiptCounter counts action receipts, by action type.
	receiptCounter metric.Int64Counter

	// errorCounter counts errors by code and component.
	errorCounter metric.Int64Counter

	// spawnDepthHistogram records the depth at which children are spawned.
	spawnDepthHistogram metric.Int64Histogram
}

// NewMetrics creates the aegis instrument set on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("aegis")

	grantCounter, err := meter.Int64Counter(
		"aegis.grants.issued",
		metric.WithDescription("Trust grants issued, by delegation status"),
	)
	if err != nil {
		return nil, err
	}

	verificationCounter, err := meter.Int64Counter(
		"aegis.verifications.total",
		metric.WithDescription("Grant and chain verifications, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	revocationCounter, err := meter.Int64Counter(
		"aegis.revocations.total",
		metric.WithDescription("Grant revocations, by reason"),
	)
	if err != nil {
		return nil, err
	}

	spawnCounter, err := meter.Int64Counter(
		"aegis.spawns.total",
		metric.WithDescription("Child identities spawned, by spawn type"),
	)
	if err != nil {
		return nil, err
	}

	terminationCounter, err := meter.Int64Counter(
		"aegis.terminations.total",
		metric.WithDescription("Spawned identities terminated, by cascade status"),
	)
	if err != nil {
		return nil, err
	}

	receiptCounter, err := meter.Int64Counter(
		"aegis.receipts.total",
		metric.WithDescription("Action receipts recorded, by action type"),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"aegis.errors.total",
		metric.WithDescription("Errors by code and component"),
	)
	if err != nil {
		return nil, err
	}

	spawnDepthHistogram, err := meter.Int64Histogram(
		"aegis.spawns.depth",
		metric.WithDescription("Spawn depth of newly created children"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		grantCounter:        grantCounter,
		verificationCounter: verificationCounter,
		revocationCounter:   revocationCounter,
		spawnCounter:        spawnCounter,
		terminationCounter:  terminationCounter,
		receiptCounter:      receiptCounter,
		errorCounter:        errorCounter,
		spawnDepthHistogram: spawnDepthHistogram,
	}, nil
}

// RecordGrant counts an issued grant.
func (m *Metrics) RecordGrant(ctx context.Context, delegated bool) {
	if m == nil {
		return
	}
	m.grantCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool(AttrGrantDelegated, delegated)),
	)
}

// RecordVerification counts a grant or chain verification and its outcome.
func (m *Metrics) RecordVerification(ctx context.Context, kind string, valid bool) {
	if m == nil {
		return
	}
	m.verificationCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(AttrVerificationKind, kind),
			attribute.Bool(AttrVerificationValid, valid),
		),
	)
}

// RecordRevocation counts a revocation by reason.
func (m *Metrics) RecordRevocation(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.revocationCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String(AttrRevocationReason, reason)),
	)
}

// RecordSpawn counts a spawned child and records its depth.
func (m *Metrics) RecordSpawn(ctx context.Context, spawnType string, depth uint32) {
	if m == nil {
		return
	}
	m.spawnCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String(AttrSpawnType, spawnType)),
	)
	m.spawnDepthHistogram.Record(ctx, int64(depth),
		metric.WithAttributes(attribute.String(AttrSpawnType, spawnType)),
	)
}

// RecordTermination counts terminated identities. Cascaded descendants are
// counted individually with cascade set.
func (m *Metrics) RecordTermination(ctx context.Context, cascade bool, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.terminationCounter.Add(ctx, count,
		metric.WithAttributes(attribute.Bool(AttrSpawnCascade, cascade)),
	)
}

// RecordReceipt counts a recorded action receipt.
func (m *Metrics) RecordReceipt(ctx context.Context, actionType string) {
	if m == nil {
		return
	}
	m.receiptCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String(AttrReceiptAction, actionType)),
	)
}

// RecordError counts an error by its aegis code. Non-aegis errors are
// counted under INTERNAL_ERROR.
func (m *Metrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	m.errorCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.code", string(errors.CodeOf(err))),
			attribute.String("component", component),
			attribute.Bool("error.structural", errors.IsStructural(err)),
		),
	)
}
