// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/aegis/pkg/spawn"
)

// StartLifetimeSweeper launches the background loop that terminates
// spawn records whose lifetime has lapsed. Expired records still count
// against their parent's fan-out limit until they are terminated, so
// sweeping keeps spawn slots from leaking.
func (r *Runtime) StartLifetimeSweeper(ctx context.Context) {
	if r.sweepInterval <= 0 {
		slog.Info("runtime.lifetime.sweeper.disabled",
			slog.Duration("interval", r.sweepInterval),
		)
		return
	}
	if r.sweepCancel != nil {
		r.StopLifetimeSweeper()
	}
	initSweepMetrics()
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.sweepCancel = cancel
	r.sweepDone = done
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()
		slog.Info("runtime.lifetime.sweeper.start",
			slog.Duration("interval", r.sweepInterval),
		)
		for {
			select {
			case <-ctx.Done():
				slog.Info("runtime.lifetime.sweeper.stop")
				return
			case <-ticker.C:
				sweepCtx := ctx
				var cancel context.CancelFunc
				if r.sweepTimeout > 0 {
					sweepCtx, cancel = context.WithTimeout(ctx, r.sweepTimeout)
				}
				sweepCtx, span := r.tracer.Start(sweepCtx, "runtime.lifetime.sweep")
				start := time.Now()
				expired, err := r.ExpireSpawns(sweepCtx)
				durationMs := float64(time.Since(start).Seconds() * 1000)
				sweepCounter.Add(ctx, 1)
				sweepLatencyMs.Record(ctx, durationMs)
				if err != nil {
					sweepErrorCounter.Add(ctx, 1)
					span.RecordError(err)
					slog.Warn("runtime.lifetime.sweep.error",
						slog.Float64("duration_ms", durationMs),
						slog.String("error", err.Error()),
					)
				} else if expired > 0 {
					expiredCounter.Add(ctx, int64(expired))
					span.SetAttributes(attribute.Int("expired", expired))
					slog.Info("runtime.lifetime.sweep.complete",
						slog.Int("expired", expired),
						slog.Float64("duration_ms", durationMs),
					)
				}
				span.End()
				if cancel != nil {
					cancel()
				}
			}
		}
	}()
}

// StopLifetimeSweeper stops the sweeper and waits for the loop to exit.
func (r *Runtime) StopLifetimeSweeper() {
	if r.sweepCancel == nil {
		return
	}
	r.sweepCancel()
	if r.sweepDone != nil {
		<-r.sweepDone
	}
	r.sweepCancel = nil
	r.sweepDone = nil
}

// ExpireSpawns terminates every non-terminated spawn record whose
// lifetime has lapsed, plus parent-termination children of already
// terminated parents. Records whose parent anchor is not held in the
// store cannot be signed off and are skipped. Returns the number of
// records terminated.
func (r *Runtime) ExpireSpawns(ctx context.Context) (int, error) {
	records, err := r.store.LoadSpawnRecords(ctx)
	if err != nil {
		return 0, err
	}

	terminatedParents := make(map[string]bool)
	for i := range records {
		if records[i].Terminated {
			terminatedParents[string(records[i].ChildID)] = true
		}
	}

	var count int
	for i := range records {
		rec := &records[i]
		if rec.Terminated {
			continue
		}
		var reason string
		switch {
		case rec.Lifetime.Expired(rec.SpawnTimestamp):
			reason = "Lifetime expired"
		case rec.Lifetime.Kind == spawn.LifetimeParentTermination && terminatedParents[string(rec.ParentID)]:
			reason = "Parent terminated"
		default:
			continue
		}

		parentRec, err := r.store.LoadIdentity(ctx, rec.ParentID)
		if err != nil {
			continue
		}
		parent, err := parentRec.Anchor()
		if err != nil {
			continue
		}

		receipt, terminated, err := spawn.Terminate(parent, rec, reason, false, records)
		if err != nil {
			return count, err
		}
		if err := r.store.SaveSpawnRecord(ctx, rec); err != nil {
			return count, err
		}
		if err := r.store.SaveReceipt(ctx, receipt); err != nil {
			return count, err
		}
		terminatedParents[string(rec.ChildID)] = true
		count += len(terminated)
		r.metrics.RecordTermination(ctx, false, int64(len(terminated)))
	}
	return count, nil
}

var (
	sweepMetricsOnce  sync.Once
	sweepCounter      metric.Int64Counter
	sweepErrorCounter metric.Int64Counter
	expiredCounter    metric.Int64Counter
	sweepLatencyMs    metric.Float64Histogram
)

func initSweepMetrics() {
	sweepMetricsOnce.Do(func() {
		meter := otel.Meter("aegis/runtime")
		sweepCounter, _ = meter.Int64Counter("aegis.runtime.lifetime.sweep.count")
		sweepErrorCounter, _ = meter.Int64Counter("aegis.runtime.lifetime.sweep.error.count")
		expiredCounter, _ = meter.Int64Counter("aegis.runtime.lifetime.expired.count")
		sweepLatencyMs, _ = meter.Float64Histogram("aegis.runtime.lifetime.sweep.latency_ms")
	})
}
