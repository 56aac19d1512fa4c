package transport

import "time"

const (
	rttAlpha = 0.125
	rttBeta  = 0.25
)

// rttEstimator keeps the smoothed round trip time and its variance and
// derives the retransmission timeout from them.
type rttEstimator struct {
	smoothed time.Duration
	variance time.Duration
	initial  time.Duration
	floor    time.Duration
}

func newRTTEstimator(initial, floor time.Duration) rttEstimator {
	return rttEstimator{initial: initial, floor: floor}
}

// update folds in one sample. Samples from retransmitted packets must not be
// passed in since their ack cannot be matched to a send.
func (r *rttEstimator) update(sample time.Duration) {
	if r.smoothed == 0 {
		r.smoothed = sample
		r.variance = sample / 2
		return
	}
	diff := r.smoothed - sample
	if diff < 0 {
		diff = -diff
	}
	r.variance = time.Duration((1-rttBeta)*float64(r.variance) + rttBeta*float64(diff))
	r.smoothed = time.Duration((1-rttAlpha)*float64(r.smoothed) + rttAlpha*float64(sample))
}

func (r *rttEstimator) rto() time.Duration {
	if r.smoothed == 0 {
		return r.initial
	}
	rto := r.smoothed + 4*r.variance
	if rto < r.floor {
		return r.floor
	}
	return rto
}

// backoff doubles base per retry, capped at limit.
func backoff(base time.Duration, retries int, limit time.Duration) time.Duration {
	d := base
	for i := 0; i < retries && d < limit; i++ {
		d *= 2
	}
	if d > limit {
		return limit
	}
	return d
}
