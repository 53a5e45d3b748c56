package audit

import "math/rand/v2"

// SamplingConfig holds the fraction of finished tasks that get an audit
// record. Completed tasks use Rate; failed and canceled tasks use ErrorRate.
type SamplingConfig struct {
	Rate      float64
	ErrorRate float64
}

// Sample reports whether one finished task is recorded.
func (s SamplingConfig) Sample(completed bool) bool {
	rate := s.ErrorRate
	if completed {
		rate = s.Rate
	}
	return rate >= 1 || (rate > 0 && rand.Float64() < rate)
}
