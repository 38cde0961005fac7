// Package detect provides person detectors for the frame pipeline
package detect

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	idtrack "github.com/thaqib/go-idtrack"
	"github.com/thaqib/go-idtrack/preprocess"
	"github.com/thaqib/go-idtrack/tracker"
	"gocv.io/x/gocv"
)

// PersonClass is the COCO class ID of a person
const PersonClass = 0

// letterbox padding color used by the YOLO training pipeline
var padColor = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// YOLOv8Params defines the struct containing the YOLOv8 parameters to use
// for post processing operations
type YOLOv8Params struct {
	// BoxThreshold is the minimum person score required for a bounding box
	// region to be considered for processing
	BoxThreshold float32
	// NMSThreshold is the Non-Maximum Suppression threshold used for defining
	// the maximum allowed Intersection Over Union (IoU) between two
	// bounding boxes for both to be kept
	NMSThreshold float32
	// ObjectClassNum is the number of different object classes the Model has
	// been trained with
	ObjectClassNum int
	// MaxObjectNumber is the maximum number of objects detected that can be
	// returned
	MaxObjectNumber int
	// InputSize is the square model input size in pixels
	InputSize int
}

// YOLOv8COCOParams returns an instance of YOLOv8Params configured with
// default values for a Model trained on the COCO dataset featuring:
// - Object Classes: 80
// - Box Threshold: 0.5
// - NMS Threshold: 0.45
// - Maximum Object Number: 64
// - Input Size: 640
func YOLOv8COCOParams() YOLOv8Params {
	return YOLOv8Params{
		BoxThreshold:    0.5,
		NMSThreshold:    0.45,
		ObjectClassNum:  80,
		MaxObjectNumber: 64,
		InputSize:       640,
	}
}

// YOLOv8 detects people with a YOLOv8 ONNX model run through the gocv DNN
// module.  Calls to Detect are serialized
type YOLOv8 struct {
	// Params are the Model configuration parameters
	Params YOLOv8Params

	mu        sync.Mutex
	net       gocv.Net
	letterbox *preprocess.LetterBox
	resized   gocv.Mat
}

// NewYOLOv8 loads the model at path
func NewYOLOv8(path string, p YOLOv8Params) (*YOLOv8, error) {

	net, err := preprocess.ReadNet(path, "")

	if err != nil {
		return nil, fmt.Errorf("person detector: %w", err)
	}

	return &YOLOv8{
		Params:    p,
		net:       net,
		letterbox: preprocess.NewLetterBox(p.InputSize, p.InputSize),
		resized:   gocv.NewMat(),
	}, nil
}

// Detect implements idtrack.Detector returning person detections only
func (y *YOLOv8) Detect(frame gocv.Mat, frameIndex int, ts time.Time) (idtrack.DetectionResult, error) {

	res := idtrack.DetectionResult{FrameIndex: frameIndex, Timestamp: ts}

	if err := preprocess.CheckFrame(frame); err != nil {
		return res, err
	}

	start := time.Now()

	y.mu.Lock()
	defer y.mu.Unlock()

	y.letterbox.Resize(frame, &y.resized, padColor)

	size := image.Pt(y.Params.InputSize, y.Params.InputSize)
	blob := gocv.BlobFromImage(y.resized, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	y.net.SetInput(blob, "")
	out := y.net.Forward("")
	defer out.Close()

	data, err := out.DataPtrFloat32()

	if err != nil {
		return res, fmt.Errorf("reading detector output: %w", err)
	}

	// output is [1, 4+classes, anchors]
	dims := out.Size()

	if len(dims) != 3 || dims[1] != 4+y.Params.ObjectClassNum {
		return res, fmt.Errorf("unexpected detector output shape %v", dims)
	}

	cands := decodeYOLOv8(data, dims[2], PersonClass, y.Params.BoxThreshold)
	res.Detections = y.suppress(cands)
	res.Duration = time.Since(start)

	return res, nil
}

// suppress maps candidates back to frame space and runs NMS
func (y *YOLOv8) suppress(cands []candidate) []tracker.Detection {

	if len(cands) == 0 {
		return nil
	}

	rects := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))

	for i, c := range cands {
		min := y.letterbox.Unscale(float64(c.x1), float64(c.y1))
		max := y.letterbox.Unscale(float64(c.x2), float64(c.y2))
		rects[i] = image.Rectangle{Min: min, Max: max}
		scores[i] = c.score
	}

	keep := gocv.NMSBoxes(rects, scores, y.Params.BoxThreshold, y.Params.NMSThreshold)

	dets := make([]tracker.Detection, 0, len(keep))

	for _, idx := range keep {
		box := tracker.BBoxFromRect(rects[idx])

		if box.Empty() {
			continue
		}

		dets = append(dets, tracker.Detection{
			BBox:       box,
			Confidence: float64(scores[idx]),
			ClassID:    PersonClass,
		})

		if y.Params.MaxObjectNumber > 0 && len(dets) >= y.Params.MaxObjectNumber {
			break
		}
	}

	return dets
}

// Close releases the network and buffers
func (y *YOLOv8) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()

	y.letterbox.Close()
	y.resized.Close()

	return y.net.Close()
}

// candidate is a box in model input space
type candidate struct {
	x1, y1, x2, y2 float32
	score          float32
}

// decodeYOLOv8 reads the channel major YOLOv8 output where rows 0-3 hold the
// box center and size and row 4+c the score of class c for each anchor
func decodeYOLOv8(data []float32, anchors, class int, threshold float32) []candidate {

	var cands []candidate

	scores := data[(4+class)*anchors : (5+class)*anchors]

	for i, score := range scores {

		if score < threshold {
			continue
		}

		cx := data[i]
		cy := data[anchors+i]
		w := data[2*anchors+i]
		h := data[3*anchors+i]

		cands = append(cands, candidate{
			x1:    cx - w/2,
			y1:    cy - h/2,
			x2:    cx + w/2,
			y2:    cy + h/2,
			score: score,
		})
	}

	return cands
}
