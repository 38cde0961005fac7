package tracker

import (
	"errors"
	"testing"

	"github.com/thaqib/go-idtrack/preprocess"
	"gocv.io/x/gocv"
)

// scriptedEngine returns a fixed list of raw tracks per call
type scriptedEngine struct {
	frames [][]EngineTrack
	calls  int
	err    error
	resets int
}

func (e *scriptedEngine) Update(_ []Detection, _ gocv.Mat) ([]EngineTrack, error) {
	if e.err != nil {
		return nil, e.err
	}

	idx := e.calls
	e.calls++

	if idx >= len(e.frames) {
		return e.frames[len(e.frames)-1], nil
	}

	return e.frames[idx], nil
}

func (e *scriptedEngine) Reset() {
	e.resets++
}

func testFrame(t *testing.T) gocv.Mat {
	t.Helper()

	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { frame.Close() })

	return frame
}

func TestStabilizerSmoothing(t *testing.T) {

	engine := &scriptedEngine{frames: [][]EngineTrack{
		{{ID: 1, BBox: NewBBox(0, 0, 100, 100), Confidence: 0.9}},
		{{ID: 1, BBox: NewBBox(10, 10, 110, 110), Confidence: 0.8}},
	}}

	s := NewStabilizer(engine, 0.7, nil)
	frame := testFrame(t)

	tracks, err := s.Update(nil, frame)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(tracks) != 1 || tracks[0].BBox != NewBBox(0, 0, 100, 100) {
		t.Fatalf("first sighting should pass the raw box through, got %+v", tracks)
	}

	tracks, _ = s.Update(nil, frame)

	if want := NewBBox(3, 3, 103, 103); tracks[0].BBox != want {
		t.Errorf("expected smoothed box %+v, got %+v", want, tracks[0].BBox)
	}

	if tracks[0].Confidence != 0.8 {
		t.Errorf("expected engine confidence to pass through, got %f", tracks[0].Confidence)
	}
}

func TestStabilizerConverges(t *testing.T) {

	raw := NewBBox(200, 120, 260, 300)

	engine := &scriptedEngine{frames: [][]EngineTrack{
		{{ID: 4, BBox: NewBBox(100, 100, 160, 280)}},
		{{ID: 4, BBox: raw}},
	}}

	s := NewStabilizer(engine, 0.7, nil)
	frame := testFrame(t)

	var tracks []Track

	for i := 0; i < 60; i++ {
		tracks, _ = s.Update(nil, frame)
	}

	if tracks[0].BBox != raw {
		t.Errorf("expected smoothed box to converge to %+v, got %+v", raw, tracks[0].BBox)
	}

	box, ok := s.PredictedBBox(4)

	if !ok || box != raw {
		t.Errorf("expected predicted box %+v, got %+v (%v)", raw, box, ok)
	}
}

func TestStabilizerInvalidFrame(t *testing.T) {

	engine := &scriptedEngine{frames: [][]EngineTrack{
		{{ID: 1, BBox: NewBBox(0, 0, 10, 10)}},
	}}

	s := NewStabilizer(engine, 0.7, nil)

	gray := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC1)
	defer gray.Close()

	tracks, err := s.Update(nil, gray)

	if !errors.Is(err, preprocess.ErrInvalidFrame) {
		t.Errorf("expected ErrInvalidFrame, got %v", err)
	}

	if len(tracks) != 0 {
		t.Errorf("expected no tracks, got %+v", tracks)
	}

	if engine.calls != 0 {
		t.Errorf("engine should not run on an invalid frame")
	}
}

func TestStabilizerEngineError(t *testing.T) {

	engine := &scriptedEngine{err: errors.New("boom")}
	s := NewStabilizer(engine, 0.7, nil)

	tracks, err := s.Update(nil, testFrame(t))

	if err == nil || len(tracks) != 0 {
		t.Errorf("expected error and no tracks, got %v %+v", err, tracks)
	}
}

func TestStabilizerSelectionAndLabels(t *testing.T) {

	engine := &scriptedEngine{frames: [][]EngineTrack{
		{
			{ID: 1, BBox: NewBBox(0, 0, 10, 10)},
			{ID: 2, BBox: NewBBox(20, 0, 30, 10)},
		},
	}}

	s := NewStabilizer(engine, 0.7, nil)
	s.Select(2, 7)
	s.SetLabel(2, "Student A")

	tracks, _ := s.Update(nil, testFrame(t))

	if tracks[0].Selected || !tracks[1].Selected {
		t.Errorf("unexpected selection flags %+v", tracks)
	}

	if tracks[1].Label != "Student A" {
		t.Errorf("expected label on track 2, got %q", tracks[1].Label)
	}

	if got := s.Selected(); len(got) != 2 || got[0] != 2 || got[1] != 7 {
		t.Errorf("expected selection [2 7], got %v", got)
	}

	s.Deselect(7)

	if s.IsSelected(7) {
		t.Error("expected 7 to be deselected")
	}

	s.Reset()

	if len(s.Selected()) != 0 || s.Label(2) != "" || engine.resets != 1 {
		t.Error("expected reset to clear selection, labels and engine")
	}

	if _, ok := s.PredictedBBox(1); ok {
		t.Error("expected reset to clear smoothing state")
	}
}
