package idtrack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"gocv.io/x/gocv"
)

// ErrCameraClosed is returned when reading from a closed or exhausted camera
var ErrCameraClosed = errors.New("camera closed")

// Camera captures frames from a webcam, video file or network stream
type Camera struct {
	cap   *gocv.VideoCapture
	index int
	log   *slog.Logger
}

// OpenCamera opens the configured source.  A numeric source is treated as a
// device index.  Width, height and fps are requested when non zero
func OpenCamera(cfg CameraConfig, logger *slog.Logger) (*Camera, error) {

	if logger == nil {
		logger = slog.Default()
	}

	var source interface{} = cfg.Source

	if idx, err := strconv.Atoi(cfg.Source); err == nil {
		source = idx
	}

	vc, err := gocv.OpenVideoCapture(source)

	if err != nil {
		return nil, fmt.Errorf("opening camera %q: %w", cfg.Source, err)
	}

	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("opening camera %q: %w", cfg.Source, ErrCameraClosed)
	}

	if cfg.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}

	if cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}

	if cfg.FPS > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))
	}

	c := &Camera{
		cap: vc,
		log: logger.With("component", "camera"),
	}

	c.log.Info("camera: opened", "source", cfg.Source,
		"width", vc.Get(gocv.VideoCaptureFrameWidth),
		"height", vc.Get(gocv.VideoCaptureFrameHeight),
		"fps", vc.Get(gocv.VideoCaptureFPS))

	return c, nil
}

// Read captures the next frame into a new Mat owned by the caller
func (c *Camera) Read() (FrameData, error) {

	if c.cap == nil {
		return FrameData{}, ErrCameraClosed
	}

	img := gocv.NewMat()

	if ok := c.cap.Read(&img); !ok || img.Empty() {
		img.Close()
		return FrameData{}, fmt.Errorf("reading frame %d: %w", c.index+1, ErrCameraClosed)
	}

	c.index++

	return FrameData{
		Frame:     img,
		Index:     c.index,
		Timestamp: time.Now(),
	}, nil
}

// Frames reads frames until the source is exhausted or ctx is cancelled.
// Each FrameData holds a Mat the receiver must close
func (c *Camera) Frames(ctx context.Context) <-chan FrameData {

	out := make(chan FrameData)

	go func() {
		defer close(out)

		for {
			fd, err := c.Read()

			if err != nil {
				c.log.Warn("camera: stopped reading", "error", err)
				return
			}

			select {
			case out <- fd:
			case <-ctx.Done():
				fd.Frame.Close()
				return
			}
		}
	}()

	return out
}

// FrameCount returns the number of frames read
func (c *Camera) FrameCount() int {
	return c.index
}

// Close releases the capture device
func (c *Camera) Close() error {

	if c.cap == nil {
		return nil
	}

	err := c.cap.Close()
	c.cap = nil

	return err
}
