package tracker

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// strackState represents the life cycle state of a tracked object
type strackState int

const (
	// stateNew is a newly detected object
	stateNew strackState = iota
	// stateTracked is an object currently being tracked
	stateTracked
	// stateLost is an object that has not been matched recently
	stateLost
	// stateRemoved is an object that is no longer tracked
	stateRemoved
)

// strack is the internal ByteTrack state for a single object
type strack struct {
	kalmanFilter *KalmanFilter
	mean         *mat.VecDense
	covariance   *mat.Dense
	// box is the last Kalman estimate, or the detection for new tracks
	box          BBox
	state        strackState
	activated    bool
	score        float64
	trackID      int
	frameID      int
	startFrameID int
	trackletLen  int
}

// newSTrack creates an unactivated track from a detection
func newSTrack(kf *KalmanFilter, det Detection) *strack {
	return &strack{
		kalmanFilter: kf,
		box:          det.BBox,
		state:        stateNew,
		score:        det.Confidence,
	}
}

// activate starts a new tracklet with the given frame ID and track ID
func (s *strack) activate(frameID, trackID int) {

	s.mean, s.covariance = s.kalmanFilter.Initiate(s.box.Xyah())
	s.state = stateTracked

	// only tracks born on the first frame are confirmed immediately, all
	// others need a second matching detection
	if frameID == 1 {
		s.activated = true
	}

	s.trackID = trackID
	s.frameID = frameID
	s.startFrameID = frameID
	s.trackletLen = 0
}

// reactivate resumes a lost track with a new detection
func (s *strack) reactivate(det *strack, frameID int) error {

	if err := s.kalmanFilter.Update(s.mean, s.covariance, det.box.Xyah()); err != nil {
		return fmt.Errorf("error reactivating track %d: %w", s.trackID, err)
	}

	s.updateBox()

	s.state = stateTracked
	s.activated = true
	s.score = det.score
	s.frameID = frameID
	s.trackletLen = 0

	return nil
}

// predict advances the Kalman state by one frame
func (s *strack) predict() {
	if s.state != stateTracked {
		s.mean.SetVec(7, 0)
	}

	s.kalmanFilter.Predict(s.mean, s.covariance)
	s.updateBox()
}

// update corrects the track with a matched detection
func (s *strack) update(det *strack, frameID int) error {

	if err := s.kalmanFilter.Update(s.mean, s.covariance, det.box.Xyah()); err != nil {
		return fmt.Errorf("error updating track %d: %w", s.trackID, err)
	}

	s.updateBox()

	s.state = stateTracked
	s.activated = true
	s.score = det.score
	s.frameID = frameID
	s.trackletLen++

	return nil
}

func (s *strack) markLost() {
	s.state = stateLost
}

func (s *strack) markRemoved() {
	s.state = stateRemoved
}

// updateBox refreshes the bounding box from the state mean
func (s *strack) updateBox() {
	s.box = BBoxFromXyah(Xyah{
		s.mean.AtVec(0), s.mean.AtVec(1), s.mean.AtVec(2), s.mean.AtVec(3),
	})
}
