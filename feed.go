package idtrack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thaqib/go-idtrack/preprocess"
)

const (
	// DefaultDetectionInterval is the time between detector runs
	DefaultDetectionInterval = time.Second
	// DefaultStopTimeout bounds how long Stop waits for the detection
	// goroutine
	DefaultStopTimeout = time.Second
)

// Feed runs a Detector in the background on the most recent frame every
// interval and hands results to the frame loop through a Mailbox.  The frame
// loop never waits on the detector
type Feed struct {
	detector    Detector
	interval    time.Duration
	stopTimeout time.Duration
	log         *slog.Logger

	// want is set when the detector is ready for a new frame, the next
	// SetFrame then fills slot and signals ready
	want    atomic.Bool
	slot    atomic.Pointer[FrameData]
	ready   chan struct{}
	running atomic.Bool

	results Mailbox[DetectionResult]
	runs    atomic.Uint64
	errors  atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFeed returns a Feed for the detector.  Non positive durations use the
// defaults
func NewFeed(detector Detector, interval, stopTimeout time.Duration,
	logger *slog.Logger) *Feed {

	if interval <= 0 {
		interval = DefaultDetectionInterval
	}

	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Feed{
		detector:    detector,
		interval:    interval,
		stopTimeout: stopTimeout,
		log:         logger.With("component", "feed"),
		ready:       make(chan struct{}, 1),
	}
}

// SetFrame offers the latest frame to the detector.  The frame is copied
// only when the detector is waiting for one, so the caller keeps ownership
// of fd.Frame
func (f *Feed) SetFrame(fd FrameData) {

	if !f.want.CompareAndSwap(true, false) {
		return
	}

	if err := preprocess.CheckFrame(fd.Frame); err != nil {
		f.want.Store(true)
		return
	}

	fd.Frame = fd.Frame.Clone()

	if old := f.slot.Swap(&fd); old != nil {
		old.Frame.Close()
	}

	// Stop may have drained the slot between the want check and the swap
	if !f.running.Load() {
		f.drain()
		return
	}

	select {
	case f.ready <- struct{}{}:
	default:
	}
}

// drain closes any frame left in the slot
func (f *Feed) drain() {
	if old := f.slot.Swap(nil); old != nil {
		old.Frame.Close()
	}
}

// Submit hands a detection result produced outside the Feed to the frame
// loop.  It reports whether an unread result was replaced
func (f *Feed) Submit(res DetectionResult) (dropped bool) {
	return f.results.Put(res)
}

// Latest takes the newest unread detection result without blocking
func (f *Feed) Latest() (DetectionResult, bool) {
	return f.results.Take()
}

// Drops returns the number of detection results overwritten before being
// read
func (f *Feed) Drops() uint64 {
	return f.results.Drops()
}

// Runs returns the number of completed detector runs
func (f *Feed) Runs() uint64 {
	return f.runs.Load()
}

// Errors returns the number of failed detector runs
func (f *Feed) Errors() uint64 {
	return f.errors.Load()
}

// Start launches the detection goroutine.  It runs until ctx is cancelled
// or Stop is called
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel != nil {
		return fmt.Errorf("feed: %w", ErrAlreadyStarted)
	}

	if f.detector == nil {
		return fmt.Errorf("feed: %w", ErrNoDetector)
	}

	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})

	f.drain()

	select {
	case <-f.ready:
	default:
	}

	f.running.Store(true)

	// request the first frame straight away
	f.want.Store(true)

	go f.loop(ctx, f.done)

	f.log.Info("feed: started", "interval", f.interval)

	return nil
}

// Stop cancels the detection goroutine and waits up to the stop timeout for
// it to exit.  A detector call still in flight after the timeout is left to
// finish on its own and ErrStopTimeout is returned
func (f *Feed) Stop() error {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil

	if cancel != nil {
		f.running.Store(false)
		f.want.Store(false)
	}

	f.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()

	timer := time.NewTimer(f.stopTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		f.log.Warn("feed: detection goroutine did not exit", "timeout", f.stopTimeout)
		return fmt.Errorf("feed: %w after %s", ErrStopTimeout, f.stopTimeout)
	}

	// the loop may have requested a frame again before it saw the cancel
	f.want.Store(false)
	f.drain()

	f.log.Info("feed: stopped", "runs", f.runs.Load(), "drops", f.results.Drops())

	return nil
}

// loop waits for a frame, runs the detector on it, then sleeps until the
// next interval measured from the end of the run
func (f *Feed) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(f.interval)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.ready:
		}

		fd := f.slot.Swap(nil)

		if fd == nil {
			f.want.Store(true)
			continue
		}

		f.detect(fd)
		fd.Frame.Close()

		timer.Reset(f.interval)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		f.want.Store(true)
	}
}

func (f *Feed) detect(fd *FrameData) {

	start := time.Now()
	res, err := f.detector.Detect(fd.Frame, fd.Index, fd.Timestamp)
	f.runs.Add(1)

	if err != nil {
		f.errors.Add(1)
		f.log.Warn("feed: detector failed", "frame", fd.Index, "error", err)
		return
	}

	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}

	if f.results.Put(res) {
		f.log.Debug("feed: unread detection result replaced", "frame", fd.Index)
	}

	f.log.Debug("feed: detection complete", "frame", fd.Index,
		"count", res.Count(), "duration", res.Duration)
}
