package facemesh

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// landmark indexes in the 468 point face mesh topology
const (
	noseTip       = 1
	rightEyeOuter = 33
	leftEyeOuter  = 263
	mouthRight    = 61
	mouthLeft     = 291
)

// minPoseLandmarks is the landmark count needed for PoseFromLandmarks
const minPoseLandmarks = mouthLeft + 1

// HeadPose is head orientation in degrees.  Positive yaw turns toward the
// subjects left, positive pitch looks up and positive roll tilts clockwise
// in the image
type HeadPose struct {
	Yaw   float64
	Pitch float64
	Roll  float64
}

// PoseFromMatrix decomposes the rotation part of a 4x4 (or 3x3) facial
// transformation matrix
func PoseFromMatrix(m mat.Matrix) (HeadPose, bool) {

	r, c := m.Dims()

	if r < 3 || c < 3 {
		return HeadPose{}, false
	}

	sy := math.Hypot(m.At(0, 0), m.At(1, 0))

	var pitch, yaw, roll float64

	if sy > 1e-6 {
		pitch = math.Atan2(m.At(2, 1), m.At(2, 2))
		yaw = math.Atan2(-m.At(2, 0), sy)
		roll = math.Atan2(m.At(1, 0), m.At(0, 0))
	} else {
		// gimbal lock
		pitch = math.Atan2(-m.At(1, 2), m.At(1, 1))
		yaw = math.Atan2(-m.At(2, 0), sy)
	}

	return HeadPose{
		Yaw:   degrees(yaw),
		Pitch: degrees(pitch),
		Roll:  degrees(roll),
	}, true
}

// PoseFromLandmarks estimates head pose from the offset of the nose tip
// against the eye and mouth landmarks
func PoseFromLandmarks(lm []Point3) (HeadPose, bool) {

	if len(lm) < minPoseLandmarks {
		return HeadPose{}, false
	}

	re, le := lm[rightEyeOuter], lm[leftEyeOuter]
	mr, ml := lm[mouthRight], lm[mouthLeft]
	nose := lm[noseTip]

	iod := math.Hypot(le.X-re.X, le.Y-re.Y)
	eyeMidX, eyeMidY := (re.X+le.X)/2, (re.Y+le.Y)/2
	mouthMidY := (mr.Y + ml.Y) / 2
	span := mouthMidY - eyeMidY

	if iod < 1e-6 || span < 1e-6 {
		return HeadPose{}, false
	}

	// the nose tip sits roughly half an inter-ocular distance in front of
	// the eye plane so its lateral offset is 0.5*iod*sin(yaw)
	yaw := math.Asin(clampUnit(2 * (nose.X - eyeMidX) / iod))
	pitch := -math.Asin(clampUnit(2 * (nose.Y - (eyeMidY+mouthMidY)/2) / span))
	roll := math.Atan2(le.Y-re.Y, le.X-re.X)

	return HeadPose{
		Yaw:   degrees(yaw),
		Pitch: degrees(pitch),
		Roll:  degrees(roll),
	}, true
}

// Pose returns the head pose of the mesh, preferring the transformation
// matrix when present
func (m *Mesh) Pose() (HeadPose, bool) {
	if m == nil {
		return HeadPose{}, false
	}

	if m.HeadMatrix != nil {
		if p, ok := PoseFromMatrix(m.HeadMatrix); ok {
			return p, true
		}
	}

	return PoseFromLandmarks(m.Landmarks3D)
}

// GazeAngle projects the head direction onto the image plane and returns it
// in degrees as atan2(dy, dx) with y pointing down.  ok is false when the
// head is facing the camera within minDeflection degrees
func (p HeadPose) GazeAngle(minDeflection float64) (angle float64, ok bool) {

	dx := math.Sin(radians(p.Yaw))
	dy := -math.Sin(radians(p.Pitch))

	if math.Hypot(dx, dy) < math.Sin(radians(minDeflection)) {
		return 0, false
	}

	return degrees(math.Atan2(dy, dx)), true
}

// LookingLeft reports yaw beyond threshold toward the subjects left
func (p HeadPose) LookingLeft(threshold float64) bool {
	return p.Yaw > threshold
}

// LookingRight reports yaw beyond threshold toward the subjects right
func (p HeadPose) LookingRight(threshold float64) bool {
	return p.Yaw < -threshold
}

// LookingDown reports pitch beyond threshold downward
func (p HeadPose) LookingDown(threshold float64) bool {
	return p.Pitch < -threshold
}

func degrees(r float64) float64 {
	return r * 180 / math.Pi
}

func radians(d float64) float64 {
	return d * math.Pi / 180
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
