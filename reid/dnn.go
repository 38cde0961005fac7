package reid

import (
	"fmt"
	"image"
	"sync"

	"github.com/thaqib/go-idtrack/preprocess"
	"github.com/thaqib/go-idtrack/tracker"
	"gocv.io/x/gocv"
)

const (
	// appearance model input size, height x width
	embedInputH = 256
	embedInputW = 128
	// crops smaller than this carry too little appearance information
	minCropW = 8
	minCropH = 16
)

// imagenet normalization in RGB order
var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

// DNNEmbedder computes whole body appearance embeddings with an OSNet style
// person re-identification model run through the gocv DNN module.  Calls to
// Extract are serialized
type DNNEmbedder struct {
	net gocv.Net
	mu  sync.Mutex
}

// NewDNNEmbedder loads the appearance model at path
func NewDNNEmbedder(path string) (*DNNEmbedder, error) {

	net, err := preprocess.ReadNet(path, "")

	if err != nil {
		return nil, fmt.Errorf("appearance model: %w", err)
	}

	return &DNNEmbedder{net: net}, nil
}

// Extract implements Embedder, returning a unit length embedding
func (e *DNNEmbedder) Extract(frame gocv.Mat, box tracker.BBox) ([]float64, error) {

	roi, _, ok := preprocess.Crop(frame, box.Rect(), minCropW, minCropH)

	if !ok {
		return nil, nil
	}
	defer roi.Close()

	blob := gocv.BlobFromImage(roi, 1.0/255.0, image.Pt(embedInputW, embedInputH),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	data, err := blob.DataPtrFloat32()

	if err != nil {
		return nil, fmt.Errorf("reading input blob: %w", err)
	}

	// blob is NCHW so each channel is a contiguous plane
	plane := embedInputH * embedInputW

	for c := 0; c < 3; c++ {
		ch := data[c*plane : (c+1)*plane]

		for i := range ch {
			ch[i] = (ch[i] - imagenetMean[c]) / imagenetStd[c]
		}
	}

	e.mu.Lock()
	e.net.SetInput(blob, "")
	out := e.net.Forward("")
	e.mu.Unlock()

	defer out.Close()

	feat, err := out.DataPtrFloat32()

	if err != nil {
		return nil, fmt.Errorf("reading embedding: %w", err)
	}

	return Normalize(ToFloat64(feat)), nil
}

// Close releases the network
func (e *DNNEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.net.Close()
}
