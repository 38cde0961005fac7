package facemesh

import (
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/thaqib/go-idtrack/preprocess"
	"github.com/thaqib/go-idtrack/tracker"
	"gocv.io/x/gocv"
)

// DNNOptions configures a DNNExtractor
type DNNOptions struct {
	// InputSize is the square model input side, 192 for the MediaPipe face
	// landmark model
	InputSize int
	// LandmarkOutput is the name of the landmark output layer, empty for
	// the default output
	LandmarkOutput string
	// PresenceOutput is the name of the face presence logit output, empty
	// when the model has none
	PresenceOutput string
	// PresenceThreshold is the minimum face presence probability
	PresenceThreshold float64
	// HeadRatio is the fraction of the person box height searched for the
	// face, measured from the top of the box
	HeadRatio float64
}

// DefaultDNNOptions returns options for the 468 point MediaPipe face
// landmark model exported to ONNX
func DefaultDNNOptions() DNNOptions {
	return DNNOptions{
		InputSize:         192,
		PresenceThreshold: 0.5,
		HeadRatio:         0.4,
	}
}

// DNNExtractor runs a face landmark model with the gocv DNN module.  Calls to
// Extract are serialized, use a pool of extractors for parallelism
type DNNExtractor struct {
	net  gocv.Net
	opts DNNOptions
	mu   sync.Mutex
}

// NewDNNExtractor loads the landmark model at path
func NewDNNExtractor(path string, opts DNNOptions) (*DNNExtractor, error) {

	net, err := preprocess.ReadNet(path, "")

	if err != nil {
		return nil, fmt.Errorf("face mesh model: %w", err)
	}

	if opts.InputSize <= 0 {
		opts.InputSize = DefaultDNNOptions().InputSize
	}

	if opts.HeadRatio <= 0 || opts.HeadRatio > 1 {
		opts.HeadRatio = DefaultDNNOptions().HeadRatio
	}

	return &DNNExtractor{net: net, opts: opts}, nil
}

// headRegion returns a square region around the expected head position at
// the top of a person box
func (e *DNNExtractor) headRegion(box tracker.BBox) image.Rectangle {

	side := int(float64(box.Height()) * e.opts.HeadRatio)

	if w := box.Width(); w < side {
		side = w
	}

	cx := (box.X1 + box.X2) / 2

	return image.Rect(cx-side/2, box.Y1, cx+side/2, box.Y1+side)
}

// Extract implements Extractor
func (e *DNNExtractor) Extract(frame gocv.Mat, box tracker.BBox, _ int) (*Mesh, error) {

	roi, bounds, ok := preprocess.Crop(frame, e.headRegion(box), 1, 1)

	if !ok {
		return nil, nil
	}
	defer roi.Close()

	size := e.opts.InputSize

	blob := gocv.BlobFromImage(roi, 1.0/255.0, image.Pt(size, size),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	landmarks, presence, err := e.forward(blob)

	if err != nil {
		return nil, err
	}

	if presence < e.opts.PresenceThreshold {
		return nil, nil
	}

	n := len(landmarks) / 3

	if n == 0 {
		return nil, nil
	}

	mesh := &Mesh{
		Landmarks2D: make([]image.Point, n),
		Landmarks3D: make([]Point3, n),
		BBox:        tracker.BBoxFromRect(bounds),
	}

	scaleX := float64(bounds.Dx()) / float64(size)
	scaleY := float64(bounds.Dy()) / float64(size)

	for i := 0; i < n; i++ {
		x := float64(landmarks[i*3])
		y := float64(landmarks[i*3+1])
		z := float64(landmarks[i*3+2])

		mesh.Landmarks2D[i] = image.Pt(
			bounds.Min.X+int(x*scaleX),
			bounds.Min.Y+int(y*scaleY),
		)

		mesh.Landmarks3D[i] = Point3{
			X: x / float64(size),
			Y: y / float64(size),
			Z: z / float64(size),
		}
	}

	return mesh, nil
}

// forward runs the network returning the flat landmark data and the face
// presence probability
func (e *DNNExtractor) forward(blob gocv.Mat) ([]float32, float64, error) {

	e.mu.Lock()
	defer e.mu.Unlock()

	e.net.SetInput(blob, "")

	if e.opts.PresenceOutput == "" {
		out := e.net.Forward(e.opts.LandmarkOutput)
		defer out.Close()

		data, err := copyFloats(out)
		return data, 1, err
	}

	outs := e.net.ForwardLayers([]string{e.opts.LandmarkOutput, e.opts.PresenceOutput})

	defer func() {
		for i := range outs {
			outs[i].Close()
		}
	}()

	if len(outs) != 2 {
		return nil, 0, fmt.Errorf("expected 2 model outputs, got %d", len(outs))
	}

	data, err := copyFloats(outs[0])

	if err != nil {
		return nil, 0, err
	}

	flag, err := outs[1].DataPtrFloat32()

	if err != nil || len(flag) == 0 {
		return nil, 0, fmt.Errorf("reading face presence: %v", err)
	}

	return data, sigmoid(float64(flag[0])), nil
}

// Close releases the network
func (e *DNNExtractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.net.Close()
}

// copyFloats copies Mat data out before the Mat is closed
func copyFloats(m gocv.Mat) ([]float32, error) {

	data, err := m.DataPtrFloat32()

	if err != nil {
		return nil, fmt.Errorf("reading model output: %w", err)
	}

	out := make([]float32, len(data))
	copy(out, data)

	return out, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
