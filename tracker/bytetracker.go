package tracker

import (
	"fmt"

	"gocv.io/x/gocv"
)

// ByteTrack is a two stage IoU tracking engine.  High confidence detections
// are associated first, then low confidence detections are used to keep
// existing tracks alive through partial occlusion
type ByteTrack struct {
	// trackThresh splits detections into high and low confidence sets
	trackThresh float64
	// highThresh is the minimum score for a detection to start a new track
	highThresh float64
	// matchThresh is the maximum IoU distance (1-IoU) for the first
	// association stage
	matchThresh float64
	// maxTimeLost is the number of frames a lost track is kept before removal
	maxTimeLost int

	kalmanFilter *KalmanFilter
	frameID      int
	trackIDCount int
	tracked      []*strack
	lost         []*strack
}

// NewByteTrack returns a ByteTrack engine.  A lost track is kept for
// trackBuffer frames, scaled relative to 30 FPS by frameRate
func NewByteTrack(frameRate, trackBuffer int, trackThresh, highThresh,
	matchThresh float64) *ByteTrack {

	return &ByteTrack{
		trackThresh:  trackThresh,
		highThresh:   highThresh,
		matchThresh:  matchThresh,
		maxTimeLost:  int(float64(frameRate) / 30.0 * float64(trackBuffer)),
		kalmanFilter: NewKalmanFilter(1.0/20, 1.0/160),
	}
}

// Reset clears all tracks and restarts ID allocation
func (bt *ByteTrack) Reset() {
	bt.frameID = 0
	bt.trackIDCount = 0
	bt.tracked = nil
	bt.lost = nil
}

// Update associates the detections of the current frame with existing tracks
// and returns the confirmed tracks.  The frame is not used by this engine
func (bt *ByteTrack) Update(dets []Detection, _ gocv.Mat) ([]EngineTrack, error) {

	bt.frameID++

	var high, low []*strack

	for _, det := range dets {
		st := newSTrack(bt.kalmanFilter, det)

		if det.Confidence >= bt.trackThresh {
			high = append(high, st)
		} else {
			low = append(low, st)
		}
	}

	// split tracked into confirmed and unconfirmed
	var confirmed, unconfirmed []*strack

	for _, st := range bt.tracked {
		if st.activated {
			confirmed = append(confirmed, st)
		} else {
			unconfirmed = append(unconfirmed, st)
		}
	}

	pool := joinStracks(confirmed, bt.lost)

	for _, st := range pool {
		st.predict()
	}

	var current, refound, lostNow, removedNow []*strack

	// first association with high confidence detections
	matches, unmatchedTracks, unmatchedDets, err := linearAssignment(
		iouDistance(pool, high), len(pool), len(high), bt.matchThresh)

	if err != nil {
		return nil, fmt.Errorf("first association: %w", err)
	}

	for _, m := range matches {
		track, det := pool[m[0]], high[m[1]]

		if track.state == stateTracked {
			if err := track.update(det, bt.frameID); err != nil {
				return nil, fmt.Errorf("first association: %w", err)
			}
			current = append(current, track)
			continue
		}

		if err := track.reactivate(det, bt.frameID); err != nil {
			return nil, fmt.Errorf("first association: %w", err)
		}
		refound = append(refound, track)
	}

	remainDets := pick(high, unmatchedDets)

	var remainTracked []*strack

	for _, i := range unmatchedTracks {
		if pool[i].state == stateTracked {
			remainTracked = append(remainTracked, pool[i])
		}
	}

	// second association with low confidence detections
	matches, unmatchedTracks, _, err = linearAssignment(
		iouDistance(remainTracked, low), len(remainTracked), len(low), 0.5)

	if err != nil {
		return nil, fmt.Errorf("second association: %w", err)
	}

	for _, m := range matches {
		track, det := remainTracked[m[0]], low[m[1]]

		if err := track.update(det, bt.frameID); err != nil {
			return nil, fmt.Errorf("second association: %w", err)
		}
		current = append(current, track)
	}

	for _, i := range unmatchedTracks {
		track := remainTracked[i]
		track.markLost()
		lostNow = append(lostNow, track)
	}

	// unconfirmed tracks get one chance to match the remaining detections
	matches, unmatchedTracks, unmatchedDets, err = linearAssignment(
		iouDistance(unconfirmed, remainDets), len(unconfirmed), len(remainDets), 0.7)

	if err != nil {
		return nil, fmt.Errorf("unconfirmed association: %w", err)
	}

	for _, m := range matches {
		track := unconfirmed[m[0]]

		if err := track.update(remainDets[m[1]], bt.frameID); err != nil {
			return nil, fmt.Errorf("unconfirmed association: %w", err)
		}
		current = append(current, track)
	}

	for _, i := range unmatchedTracks {
		unconfirmed[i].markRemoved()
		removedNow = append(removedNow, unconfirmed[i])
	}

	// start new tracks
	for _, i := range unmatchedDets {
		det := remainDets[i]

		if det.score < bt.highThresh {
			continue
		}

		bt.trackIDCount++
		det.activate(bt.frameID, bt.trackIDCount)
		current = append(current, det)
	}

	for _, st := range bt.lost {
		if st.state == stateLost && bt.frameID-st.frameID > bt.maxTimeLost {
			st.markRemoved()
			removedNow = append(removedNow, st)
		}
	}

	bt.tracked = joinStracks(current, refound)
	bt.lost = subStracks(joinStracks(subStracks(bt.lost, bt.tracked), lostNow), removedNow)
	bt.tracked, bt.lost = removeDuplicateStracks(bt.tracked, bt.lost)

	out := make([]EngineTrack, 0, len(bt.tracked))

	for _, st := range bt.tracked {
		if !st.activated {
			continue
		}

		out = append(out, EngineTrack{
			ID:         st.trackID,
			BBox:       st.box,
			Confidence: st.score,
		})
	}

	return out, nil
}

// joinStracks merges two lists keeping the first occurrence of each track ID
func joinStracks(a, b []*strack) []*strack {

	exists := make(map[int]bool, len(a)+len(b))
	res := make([]*strack, 0, len(a)+len(b))

	for _, list := range [][]*strack{a, b} {
		for _, st := range list {
			if exists[st.trackID] {
				continue
			}
			exists[st.trackID] = true
			res = append(res, st)
		}
	}

	return res
}

// subStracks returns the tracks in a whose IDs are not in b, preserving order
func subStracks(a, b []*strack) []*strack {

	drop := make(map[int]bool, len(b))

	for _, st := range b {
		drop[st.trackID] = true
	}

	var res []*strack

	for _, st := range a {
		if !drop[st.trackID] {
			res = append(res, st)
		}
	}

	return res
}

// removeDuplicateStracks resolves tracked and lost tracks that overlap
// heavily by keeping the one with the longer history
func removeDuplicateStracks(a, b []*strack) ([]*strack, []*strack) {

	dist := iouDistance(a, b)
	dropA := make([]bool, len(a))
	dropB := make([]bool, len(b))

	for i := range dist {
		for j := range dist[i] {
			if dist[i][j] >= 0.15 {
				continue
			}

			timeP := a[i].frameID - a[i].startFrameID
			timeQ := b[j].frameID - b[j].startFrameID

			if timeP > timeQ {
				dropB[j] = true
			} else {
				dropA[i] = true
			}
		}
	}

	var resA, resB []*strack

	for i, st := range a {
		if !dropA[i] {
			resA = append(resA, st)
		}
	}

	for j, st := range b {
		if !dropB[j] {
			resB = append(resB, st)
		}
	}

	return resA, resB
}

// iouDistance returns the 1-IoU cost matrix between two track sets
func iouDistance(a, b []*strack) [][]float64 {

	if len(a) == 0 || len(b) == 0 {
		return nil
	}

	cost := make([][]float64, len(a))

	for i := range a {
		cost[i] = make([]float64, len(b))

		for j := range b {
			cost[i][j] = 1 - a[i].box.IoU(b[j].box)
		}
	}

	return cost
}

// pick returns the elements of list at the given indexes
func pick(list []*strack, idx []int) []*strack {
	res := make([]*strack, 0, len(idx))

	for _, i := range idx {
		res = append(res, list[i])
	}

	return res
}
