package monitor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/smallsize-vision/balltrack/internal/timeutil"
	"github.com/smallsize-vision/balltrack/internal/vision"
)

// StatsSnapshot is one sampling interval of pipeline throughput, stored
// for the status page and the stats API.
type StatsSnapshot struct {
	PacketsPerSec   float64   `json:"packets_per_sec"`
	KBPerSec        float64   `json:"kb_per_sec"`
	FramesPerSec    float64   `json:"frames_per_sec"`
	SnapshotsPerSec float64   `json:"snapshots_per_sec"`
	DecodeErrors    int64     `json:"decode_errors"`
	Timestamp       time.Time `json:"timestamp"`
}

// PipelineStats turns the raw vision receive counters and the publish
// counter into rate snapshots. When it owns the sampling loop the
// listener's own periodic logging should be disabled, since both drain
// the same counters.
type PipelineStats struct {
	mu            sync.Mutex
	clock         timeutil.Clock
	startTime     time.Time
	lastSample    time.Time
	snapshotCount int64
	latest        *StatsSnapshot
}

// NewPipelineStats creates a PipelineStats instance. A nil clock uses
// the real one.
func NewPipelineStats(clock timeutil.Clock) *PipelineStats {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &PipelineStats{clock: clock, startTime: clock.Now()}
}

// AddSnapshot records one published world snapshot. Wire it into the
// publish sink.
func (ps *PipelineStats) AddSnapshot() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.snapshotCount++
}

// Sample drains the listener counters into a rate snapshot and stores it
// as the latest. src may be nil when the daemon runs without a listener,
// for example when a tool feeds the manager directly; rates then cover
// published snapshots only. The first call establishes the interval
// baseline and reports zero rates.
func (ps *PipelineStats) Sample(src *vision.PacketStats) *StatsSnapshot {
	var packets, bytes, frames, decodeErrs int64
	if src != nil {
		packets, bytes, frames, decodeErrs, _ = src.GetAndReset()
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := ps.clock.Now()
	var secs float64
	if !ps.lastSample.IsZero() {
		secs = now.Sub(ps.lastSample).Seconds()
	}
	ps.lastSample = now

	snaps := ps.snapshotCount
	ps.snapshotCount = 0

	snap := &StatsSnapshot{DecodeErrors: decodeErrs, Timestamp: now}
	if secs > 0 {
		snap.PacketsPerSec = float64(packets) / secs
		snap.KBPerSec = float64(bytes) / secs / 1024
		snap.FramesPerSec = float64(frames) / secs
		snap.SnapshotsPerSec = float64(snaps) / secs
	}
	ps.latest = snap
	return snap
}

// LogSample takes a sample and logs it when there was any traffic.
func (ps *PipelineStats) LogSample(src *vision.PacketStats) {
	snap := ps.Sample(src)
	if snap.PacketsPerSec == 0 && snap.SnapshotsPerSec == 0 && snap.DecodeErrors == 0 {
		return
	}

	msg := fmt.Sprintf("pipeline (/sec): %.1f packets, %.1f KB, %.1f frames, %.1f snapshots",
		snap.PacketsPerSec, snap.KBPerSec, snap.FramesPerSec, snap.SnapshotsPerSec)
	if snap.DecodeErrors > 0 {
		msg += fmt.Sprintf(", %d decode errors", snap.DecodeErrors)
	}
	log.Printf("[monitor] %s", msg)
}

// GetLatestSnapshot returns a copy of the most recent sample, or nil
// before the first one.
func (ps *PipelineStats) GetLatestSnapshot() *StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.latest == nil {
		return nil
	}
	snapshot := *ps.latest
	return &snapshot
}

// GetUptime returns the time since the stats were created.
func (ps *PipelineStats) GetUptime() time.Duration {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.clock.Now().Sub(ps.startTime)
}

// Run samples and logs at the given interval until ctx is cancelled.
// Always returns the context's error.
func (ps *PipelineStats) Run(ctx context.Context, interval time.Duration, src *vision.PacketStats) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := ps.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			ps.LogSample(src)
		}
	}
}
