package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	idtrack "github.com/thaqib/go-idtrack"
	"github.com/thaqib/go-idtrack/render"
	"github.com/thaqib/go-idtrack/tracker"
	"gocv.io/x/gocv"
)

// Demo renders pipeline frames and serves them as an MJPEG stream
type Demo struct {
	pipeline *idtrack.Pipeline
	trail    *tracker.Trail
	font     render.Font
	students render.StudentStyle
	log      *slog.Logger
	// latest is the most recent JPEG encoded frame
	latest atomic.Pointer[[]byte]
	// interval between frames written to clients
	interval time.Duration
}

// NewDemo returns a Demo rendering frames of pipeline
func NewDemo(pipeline *idtrack.Pipeline, cfg idtrack.Config, font render.Font,
	logger *slog.Logger) *Demo {

	style := render.DefaultStudentStyle()
	style.MinGazeDeflection = cfg.Risk.MinGazeDeflection

	fps := cfg.Camera.FPS

	if fps <= 0 {
		fps = 30
	}

	return &Demo{
		pipeline: pipeline,
		trail:    tracker.NewTrail(cfg.Tracking.TrailLength),
		font:     font,
		students: style,
		log:      logger.With("component", "demo"),
		interval: time.Duration(float64(time.Second) / float64(fps)),
	}
}

// Consume annotates every processed frame and keeps the latest encoded
// result for the stream handlers
func (d *Demo) Consume(ctx context.Context, frames <-chan idtrack.PipelineFrame) {

	// used for calculating FPS
	frameCount := 0
	startTime := time.Now()
	fps := float64(0)

	resImg := gocv.NewMat()
	defer resImg.Close()

	for pf := range frames {

		pf.Frame.CopyTo(&resImg)
		pf.Frame.Close()

		d.annotate(&resImg, pf, fps)

		buf, err := gocv.IMEncode(".jpg", resImg)

		if err != nil {
			d.log.Warn("demo: error encoding frame", "error", err)
			continue
		}

		jpg := append([]byte(nil), buf.GetBytes()...)
		buf.Close()
		d.latest.Store(&jpg)

		// calculate FPS
		frameCount++
		elapsed := time.Since(startTime).Seconds()

		if elapsed >= 1.0 {
			fps = float64(frameCount) / elapsed
			frameCount = 0
			startTime = time.Now()
		}

		if ctx.Err() != nil {
			return
		}
	}
}

// annotate draws the tracks, trails and monitored student state on img
func (d *Demo) annotate(img *gocv.Mat, pf idtrack.PipelineFrame, fps float64) {

	present := make(map[int]bool, len(pf.Tracks))

	for _, t := range pf.Tracks {
		present[t.ID] = true

		if t.Selected && !t.Predicted {
			d.trail.Add(t)
		}
	}

	for _, id := range d.pipeline.Selected() {
		if !present[id] {
			d.trail.Forget(id)
		}
	}

	render.Students(img, pf.StudentStates, d.students)
	render.Trail(img, pf.Tracks, d.trail, render.DefaultTrailStyle())
	render.TrackBoxes(img, pf.Tracks, d.font, 2)
	render.HUD(img, pf, fps, d.students.Neighbors, d.font)
	render.Legend(img, pf.StudentStates, d.font)
}

// Stream is the HTTP handler function used to stream video frames to browser
func (d *Demo) Stream(w http.ResponseWriter, r *http.Request) {

	d.log.Info("demo: new client connection established")

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	var last *[]byte

	for {
		select {
		case <-r.Context().Done():
			d.log.Info("demo: client disconnected")
			return

		case <-ticker.C:
			jpg := d.latest.Load()

			if jpg == nil || jpg == last {
				continue
			}

			last = jpg

			// Write the image to the response writer
			w.Write([]byte("--frame\r\n"))
			w.Write([]byte("Content-Type: image/jpeg\r\n\r\n"))
			w.Write(*jpg)
			w.Write([]byte("\r\n"))

			// Flush the buffer
			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}
		}
	}
}

// Select marks the identities given by the id query parameters as monitored
func (d *Demo) Select(w http.ResponseWriter, r *http.Request) {

	ids, err := queryIDs(r)

	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	d.pipeline.Select(ids...)
	fmt.Fprintf(w, "selected %v\n", d.pipeline.Selected())
}

// Deselect stops monitoring the identities given by the id query parameters
func (d *Demo) Deselect(w http.ResponseWriter, r *http.Request) {

	ids, err := queryIDs(r)

	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	d.pipeline.Deselect(ids...)
	fmt.Fprintf(w, "selected %v\n", d.pipeline.Selected())
}

// Clear stops monitoring every identity
func (d *Demo) Clear(w http.ResponseWriter, _ *http.Request) {
	d.pipeline.ClearSelection()
	fmt.Fprintln(w, "selection cleared")
}

// Label sets the display label of an identity from the id and name query
// parameters
func (d *Demo) Label(w http.ResponseWriter, r *http.Request) {

	ids, err := queryIDs(r)

	if err != nil || len(ids) != 1 {
		http.Error(w, "exactly one id is required", http.StatusBadRequest)
		return
	}

	d.pipeline.SetLabel(ids[0], r.URL.Query().Get("name"))
	fmt.Fprintf(w, "labeled %d\n", ids[0])
}

// queryIDs parses the repeated id query parameter
func queryIDs(r *http.Request) ([]int, error) {

	values := r.URL.Query()["id"]
	ids := make([]int, 0, len(values))

	for _, v := range values {
		id, err := strconv.Atoi(v)

		if err != nil {
			return nil, fmt.Errorf("invalid id %q", v)
		}

		ids = append(ids, id)
	}

	return ids, nil
}
