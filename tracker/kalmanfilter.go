package tracker

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// KalmanFilter is a constant velocity Kalman filter over the 8 dimensional
// state (x, y, a, h, vx, vy, va, vh) where (x, y) is the box center, a the
// aspect ratio and h the height
type KalmanFilter struct {
	stdWeightPosition float64
	stdWeightVelocity float64
	motionMat         *mat.Dense
	updateMat         *mat.Dense
}

// NewKalmanFilter initializes and returns a new KalmanFilter
func NewKalmanFilter(stdWeightPosition, stdWeightVelocity float64) *KalmanFilter {

	const ndim = 4

	// identity with unit time step coupling position to velocity
	motionMat := mat.NewDense(2*ndim, 2*ndim, nil)

	for i := 0; i < 2*ndim; i++ {
		motionMat.Set(i, i, 1)
	}

	for i := 0; i < ndim; i++ {
		motionMat.Set(i, ndim+i, 1)
	}

	// observation model selects the first four state components
	updateMat := mat.NewDense(ndim, 2*ndim, nil)

	for i := 0; i < ndim; i++ {
		updateMat.Set(i, i, 1)
	}

	return &KalmanFilter{
		stdWeightPosition: stdWeightPosition,
		stdWeightVelocity: stdWeightVelocity,
		motionMat:         motionMat,
		updateMat:         updateMat,
	}
}

// Initiate creates the state mean and covariance for an unassociated
// measurement
func (kf *KalmanFilter) Initiate(measurement Xyah) (*mat.VecDense, *mat.Dense) {

	mean := mat.NewVecDense(8, nil)

	for i := 0; i < 4; i++ {
		mean.SetVec(i, measurement[i])
	}

	h := measurement[3]

	std := [8]float64{
		2 * kf.stdWeightPosition * h,
		2 * kf.stdWeightPosition * h,
		1e-2,
		2 * kf.stdWeightPosition * h,
		10 * kf.stdWeightVelocity * h,
		10 * kf.stdWeightVelocity * h,
		1e-5,
		10 * kf.stdWeightVelocity * h,
	}

	return mean, diagSquared(std[:])
}

// Predict runs the prediction step in place on the given mean and covariance
func (kf *KalmanFilter) Predict(mean *mat.VecDense, covariance *mat.Dense) {

	h := mean.AtVec(3)

	std := [8]float64{
		kf.stdWeightPosition * h,
		kf.stdWeightPosition * h,
		1e-2,
		kf.stdWeightPosition * h,
		kf.stdWeightVelocity * h,
		kf.stdWeightVelocity * h,
		1e-5,
		kf.stdWeightVelocity * h,
	}

	var next mat.VecDense
	next.MulVec(kf.motionMat, mean)
	mean.CopyVec(&next)

	var tmp, cov mat.Dense
	tmp.Mul(kf.motionMat, covariance)
	cov.Mul(&tmp, kf.motionMat.T())
	cov.Add(&cov, diagSquared(std[:]))

	covariance.Copy(&cov)
}

// Update runs the correction step in place on the given mean and covariance
func (kf *KalmanFilter) Update(mean *mat.VecDense, covariance *mat.Dense,
	measurement Xyah) error {

	projectedMean, projectedCov := kf.project(mean, covariance)

	var chol mat.Cholesky

	if ok := chol.Factorize(projectedCov); !ok {
		return errors.New("failed to factorize projected covariance")
	}

	// gain transposed, solved from S * K^T = (P * H^T)^T
	var b mat.Dense
	b.Mul(covariance, kf.updateMat.T())

	var gainT mat.Dense

	if err := chol.SolveTo(&gainT, b.T()); err != nil {
		return fmt.Errorf("failed to compute kalman gain: %w", err)
	}

	innovation := mat.NewVecDense(4, nil)

	for i := 0; i < 4; i++ {
		innovation.SetVec(i, measurement[i]-projectedMean.AtVec(i))
	}

	var delta mat.VecDense
	delta.MulVec(gainT.T(), innovation)
	mean.AddVec(mean, &delta)

	var tmp, correction mat.Dense
	tmp.Mul(gainT.T(), projectedCov)
	correction.Mul(&tmp, &gainT)

	covariance.Sub(covariance, &correction)

	return nil
}

// project maps the state distribution into measurement space
func (kf *KalmanFilter) project(mean *mat.VecDense,
	covariance *mat.Dense) (*mat.VecDense, *mat.SymDense) {

	h := mean.AtVec(3)

	std := [4]float64{
		kf.stdWeightPosition * h,
		kf.stdWeightPosition * h,
		1e-1,
		kf.stdWeightPosition * h,
	}

	projectedMean := mat.NewVecDense(4, nil)
	projectedMean.MulVec(kf.updateMat, mean)

	var tmp, cov mat.Dense
	tmp.Mul(kf.updateMat, covariance)
	cov.Mul(&tmp, kf.updateMat.T())

	projectedCov := mat.NewSymDense(4, nil)

	for i := 0; i < 4; i++ {
		for j := i; j < 4; j++ {
			v := cov.At(i, j)
			if i == j {
				v += std[i] * std[i]
			}
			projectedCov.SetSym(i, j, v)
		}
	}

	return projectedMean, projectedCov
}

// diagSquared builds a diagonal matrix of the squared values
func diagSquared(std []float64) *mat.Dense {
	n := len(std)
	d := mat.NewDense(n, n, nil)

	for i, v := range std {
		d.Set(i, i, v*v)
	}

	return d
}
