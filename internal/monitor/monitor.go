// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

// Package monitor tracks the bytes buffered by in-flight copy batches and
// warns when they exceed a threshold.
package monitor

import (
	"context"
	"time"

	"github.com/toeirei/dbcopier/internal/logging"
	"go.uber.org/atomic"
)

const (
	// DefaultInterval is how often Run samples the gauge.
	DefaultInterval = 5 * time.Second
	// DefaultThresholdMB is the warning threshold in MiB.
	DefaultThresholdMB = 512
)

// Gauge is a lock-free counter of buffered batch bytes shared by all
// copy workers.
type Gauge struct {
	usage       *atomic.Int64
	peak        *atomic.Int64
	interval    time.Duration
	thresholdMB int64
}

// NewGauge returns a Gauge sampled every interval that warns above
// thresholdMB. Non-positive arguments select the defaults.
func NewGauge(interval time.Duration, thresholdMB int64) *Gauge {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if thresholdMB <= 0 {
		thresholdMB = DefaultThresholdMB
	}
	return &Gauge{
		usage:       atomic.NewInt64(0),
		peak:        atomic.NewInt64(0),
		interval:    interval,
		thresholdMB: thresholdMB,
	}
}

// Add adjusts the usage by delta bytes; negative deltas release.
func (g *Gauge) Add(delta int64) {
	if g == nil {
		return
	}
	cur := g.usage.Add(delta)
	for {
		p := g.peak.Load()
		if cur <= p || g.peak.CompareAndSwap(p, cur) {
			return
		}
	}
}

// Current returns the bytes currently accounted, never negative.
func (g *Gauge) Current() uint64 {
	if g == nil {
		return 0
	}
	if v := g.usage.Load(); v > 0 {
		return uint64(v)
	}
	return 0
}

// Peak returns the highest usage seen.
func (g *Gauge) Peak() uint64 {
	if g == nil {
		return 0
	}
	return uint64(g.peak.Load())
}

// Over reports whether current usage exceeds the threshold.
func (g *Gauge) Over() bool {
	return g.Current() > uint64(g.thresholdMB)*1024*1024
}

// Run samples the gauge until ctx is done, logging a warning on every tick
// where usage is over the threshold.
func (g *Gauge) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if g.Over() {
				logging.Warnf("memory usage (%d MB) exceeds threshold (%d MB)", g.Current()/1024/1024, g.thresholdMB)
			}
		}
	}
}
