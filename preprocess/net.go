package preprocess

import (
	"errors"
	"fmt"
	"os"

	"gocv.io/x/gocv"
)

// ErrModelUnavailable is returned when a model file is missing or cannot be
// loaded by the DNN module
var ErrModelUnavailable = errors.New("model unavailable")

// ReadNet loads a DNN model for CPU inference.  config may be empty for
// single file formats such as ONNX
func ReadNet(model, config string) (gocv.Net, error) {

	if _, err := os.Stat(model); err != nil {
		return gocv.Net{}, fmt.Errorf("%w: %s: %v", ErrModelUnavailable, model, err)
	}

	net := gocv.ReadNet(model, config)

	if net.Empty() {
		net.Close()
		return gocv.Net{}, fmt.Errorf("%w: failed to load %s", ErrModelUnavailable, model)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return net, nil
}
