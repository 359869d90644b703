package capture

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"settlecam/internal/logging"
)

// snapshotPollInterval bounds how far behind the counter a snapshot can fire.
const snapshotPollInterval = 500 * time.Millisecond

// recordedCounter tracks elapsed recorded footage as it accumulates. The
// committed part covers segments verified by ffprobe; the live part follows
// ffmpeg progress within the current attempt and is discarded when that
// attempt fails. Both sides update atomically, so the snapshot scheduler
// reads it without locking.
type recordedCounter struct {
	committedUS atomic.Int64
	liveUS      atomic.Int64
}

// Seconds returns the recorded footage so far, including the in-flight
// segment's live progress.
func (c *recordedCounter) Seconds() float64 {
	return float64(c.committedUS.Load()+c.liveUS.Load()) / 1e6
}

// SetLive records the current attempt's progress.
func (c *recordedCounter) SetLive(seconds float64) {
	c.liveUS.Store(int64(seconds * 1e6))
}

// Commit folds a verified segment into the total. The live part resets first
// so the counter never double-counts the segment between the two stores.
func (c *recordedCounter) Commit(seconds float64) {
	c.liveUS.Store(0)
	c.committedUS.Add(int64(seconds * 1e6))
}

// Discard drops the live progress of a failed attempt.
func (c *recordedCounter) Discard() {
	c.liveUS.Store(0)
}

// snapshotScheduler grabs the wide-angle stills concurrently with the primary
// recording. It shares nothing with the record loop except the counter.
type snapshotScheduler struct {
	recorder   *Recorder
	stagingDir string
	counter    *recordedCounter
	offsets    []int
	fired      map[int]bool
	snapshots  []Snapshot
	stop       chan struct{}
	done       chan struct{}
}

func (r *Recorder) startSnapshotScheduler(ctx context.Context, stagingDir string, counter *recordedCounter) *snapshotScheduler {
	s := &snapshotScheduler{
		recorder:   r,
		stagingDir: stagingDir,
		counter:    counter,
		offsets:    r.cfg.Capture.SnapshotOffsetsMin,
		fired:      map[int]bool{},
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

// run polls the recorded-footage counter and fires each snapshot as its
// offset is crossed. Offsets are keyed to recorded footage, not wall-clock
// time, so a run that loses stream time still takes its snapshots at the
// right points of the primary video.
func (s *snapshotScheduler) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(snapshotPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			// One last sweep catches offsets crossed since the previous tick.
			s.takeDue(ctx)
			return
		case <-ticker.C:
			s.takeDue(ctx)
		}
	}
}

func (s *snapshotScheduler) takeDue(ctx context.Context) {
	recorded := s.counter.Seconds()
	for _, offset := range s.offsets {
		if s.fired[offset] || recorded < float64(offset*60) {
			continue
		}
		s.fired[offset] = true
		s.take(ctx, offset)
	}
}

func (s *snapshotScheduler) take(ctx context.Context, offset int) {
	r := s.recorder
	label := fmt.Sprintf("t%d", offset)
	path := filepath.Join(s.stagingDir, fmt.Sprintf("cam2_%s.jpg", label))

	snapCtx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.Camera.CheckTimeout)*time.Second)
	err := r.runner.GrabFrame(snapCtx, r.secondary, path)
	cancel()
	if err != nil {
		// A lost snapshot degrades the color record but not the measurement,
		// so recording keeps going.
		r.logger.Warn("snapshot failed",
			logging.String("label", label),
			logging.Error(err),
		)
		return
	}
	s.snapshots = append(s.snapshots, Snapshot{Label: label, OffsetMin: offset, Path: path})
	r.logger.Info("snapshot captured", logging.String("label", label), logging.String("path", path))
}

// stopAndWait shuts the scheduler down and returns the snapshots taken. The
// shutdown sweep fires any offset already covered by recorded footage, so a
// run that completed between polls still ends with the full snapshot set.
func (s *snapshotScheduler) stopAndWait() []Snapshot {
	close(s.stop)
	<-s.done
	return s.snapshots
}
