package idtrack

import (
	"errors"

	"github.com/thaqib/go-idtrack/preprocess"
)

var (
	// ErrInvalidFrame is returned for frames that are empty or not 3 channel
	ErrInvalidFrame = preprocess.ErrInvalidFrame
	// ErrModelUnavailable is returned when a model file can not be loaded
	ErrModelUnavailable = preprocess.ErrModelUnavailable
	// ErrAlreadyStarted is returned when starting a running Feed or Pipeline
	ErrAlreadyStarted = errors.New("already started")
	// ErrStopTimeout is returned when a background goroutine does not exit
	// within the stop timeout
	ErrStopTimeout = errors.New("stop timed out")
	// ErrNoDetector is returned when starting a Feed without a Detector
	ErrNoDetector = errors.New("no detector")
	// ErrPoolClosed is returned when taking from a closed Pool
	ErrPoolClosed = errors.New("pool closed")
)
