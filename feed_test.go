package idtrack

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thaqib/go-idtrack/tracker"
	"gocv.io/x/gocv"
)

// countingDetector returns one detection per call, failing when err is set
type countingDetector struct {
	calls atomic.Int32
	err   error
	block chan struct{}
}

func (d *countingDetector) Detect(frame gocv.Mat, idx int, ts time.Time) (DetectionResult, error) {
	d.calls.Add(1)

	if d.block != nil {
		<-d.block
	}

	if d.err != nil {
		return DetectionResult{}, d.err
	}

	return DetectionResult{
		FrameIndex: idx,
		Timestamp:  ts,
		Detections: []tracker.Detection{{
			BBox:       tracker.NewBBox(0, 0, frame.Cols(), frame.Rows()),
			Confidence: 0.9,
		}},
	}, nil
}

func TestMailbox(t *testing.T) {

	var m Mailbox[int]

	_, ok := m.Take()
	assert.False(t, ok)

	assert.False(t, m.Put(1))
	assert.True(t, m.Pending())
	assert.True(t, m.Put(2), "unread value is replaced")

	v, ok := m.Take()
	require.True(t, ok)
	assert.Equal(t, 2, v, "latest wins")

	_, ok = m.Take()
	assert.False(t, ok, "take empties the slot")

	assert.Equal(t, uint64(2), m.Puts())
	assert.Equal(t, uint64(1), m.Drops())
}

func TestFeedDetectsLatestFrame(t *testing.T) {

	det := &countingDetector{}
	f := NewFeed(det, 10*time.Millisecond, time.Second, quietLogger())

	require.NoError(t, f.Start(context.Background()))
	assert.ErrorIs(t, f.Start(context.Background()), ErrAlreadyStarted)

	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()

	var res DetectionResult
	var ok bool

	deadline := time.Now().Add(2 * time.Second)

	for i := 1; time.Now().Before(deadline); i++ {
		f.SetFrame(FrameData{Frame: frame, Index: i, Timestamp: epoch})

		if res, ok = f.Latest(); ok {
			break
		}

		time.Sleep(time.Millisecond)
	}

	require.True(t, ok, "no detection within deadline")
	assert.Positive(t, res.FrameIndex)
	require.Len(t, res.Detections, 1)
	assert.Equal(t, tracker.NewBBox(0, 0, 64, 48), res.Detections[0].BBox)

	require.NoError(t, f.Stop())
	require.NoError(t, f.Stop(), "stop is idempotent")
	assert.Positive(t, f.Runs())
}

func TestFeedSkipsDetectorErrors(t *testing.T) {

	det := &countingDetector{err: errors.New("inference failed")}
	f := NewFeed(det, 5*time.Millisecond, time.Second, quietLogger())

	require.NoError(t, f.Start(context.Background()))

	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()

	deadline := time.Now().Add(2 * time.Second)

	for f.Errors() < 2 && time.Now().Before(deadline) {
		f.SetFrame(FrameData{Frame: frame, Index: 1, Timestamp: epoch})
		time.Sleep(time.Millisecond)
	}

	require.NoError(t, f.Stop())

	assert.GreaterOrEqual(t, f.Errors(), uint64(2), "loop keeps running after errors")

	_, ok := f.Latest()
	assert.False(t, ok)
}

func TestFeedStopTimeout(t *testing.T) {

	det := &countingDetector{block: make(chan struct{})}
	defer close(det.block)

	f := NewFeed(det, time.Millisecond, 20*time.Millisecond, quietLogger())
	require.NoError(t, f.Start(context.Background()))

	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()

	deadline := time.Now().Add(2 * time.Second)

	for det.calls.Load() == 0 && time.Now().Before(deadline) {
		f.SetFrame(FrameData{Frame: frame, Index: 1, Timestamp: epoch})
		time.Sleep(time.Millisecond)
	}

	require.Equal(t, int32(1), det.calls.Load())

	start := time.Now()
	err := f.Stop()

	assert.ErrorIs(t, err, ErrStopTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFeedSetFrameAfterStopKeepsNoFrame(t *testing.T) {

	det := &countingDetector{}
	f := NewFeed(det, time.Hour, time.Second, quietLogger())

	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()

	require.NoError(t, f.Start(context.Background()))
	require.NoError(t, f.Stop())

	f.SetFrame(FrameData{Frame: frame, Index: 1, Timestamp: epoch})
	assert.Nil(t, f.slot.Load())

	// a SetFrame that passed the want check before Stop drained the slot
	f.want.Store(true)
	f.SetFrame(FrameData{Frame: frame, Index: 2, Timestamp: epoch})
	assert.Nil(t, f.slot.Load(), "late frame is released, not parked")
}

func TestFeedStartClearsStaleFrame(t *testing.T) {

	det := &countingDetector{}
	f := NewFeed(det, time.Hour, time.Second, quietLogger())

	stale := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	f.slot.Store(&FrameData{Frame: stale, Index: 99, Timestamp: epoch})

	require.NoError(t, f.Start(context.Background()))
	assert.Nil(t, f.slot.Load())
	require.NoError(t, f.Stop())

	assert.Zero(t, det.calls.Load(), "stale frame never reaches the detector")
}

func TestFeedConcurrentStopLeavesNoFrame(t *testing.T) {

	det := &countingDetector{}
	f := NewFeed(det, time.Millisecond, time.Second, quietLogger())

	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()

	stop := make(chan struct{})
	setter := make(chan struct{})

	go func() {
		defer close(setter)

		for i := 1; ; i++ {
			select {
			case <-stop:
				return
			default:
			}

			f.SetFrame(FrameData{Frame: frame, Index: i, Timestamp: epoch})
		}
	}()

	for i := 0; i < 50; i++ {
		require.NoError(t, f.Start(context.Background()))
		time.Sleep(time.Millisecond)
		require.NoError(t, f.Stop())
	}

	close(stop)
	<-setter

	assert.Nil(t, f.slot.Load())
}

func TestFeedWithoutDetector(t *testing.T) {

	f := NewFeed(nil, 0, 0, quietLogger())
	assert.ErrorIs(t, f.Start(context.Background()), ErrNoDetector)

	f.Submit(DetectionResult{FrameIndex: 3})
	assert.True(t, f.Submit(DetectionResult{FrameIndex: 4}))

	res, ok := f.Latest()
	require.True(t, ok)
	assert.Equal(t, 4, res.FrameIndex)
	assert.Equal(t, uint64(1), f.Drops())
}
