// Package gate converts accumulated unproductive time into the number of portraits
// that should exist for the current accounting period.
package gate

import "math"

// DefaultIncrementMinutes is the unproductive time that earns one more portrait.
const DefaultIncrementMinutes = 30

// Decision is the outcome of one threshold check.
type Decision struct {
	Proceed              bool `json:"proceed"`
	ExpectedCount        int  `json:"expectedCount"`
	NextThresholdMinutes int  `json:"nextThresholdMinutes"`
}

// ExpectedCount is floor(minutes/increment)+1. The first portrait of a period is
// always expected, whatever the minutes.
func ExpectedCount(unproductiveMinutes float64, incrementMinutes int) int {
	if incrementMinutes <= 0 {
		incrementMinutes = DefaultIncrementMinutes
	}
	if unproductiveMinutes < 0 || math.IsNaN(unproductiveMinutes) {
		unproductiveMinutes = 0
	}
	return int(math.Floor(unproductiveMinutes/float64(incrementMinutes))) + 1
}

// Decide reports whether another portrait is due given the portraits already made
// in this period.
func Decide(unproductiveMinutes float64, currentCount, incrementMinutes int) Decision {
	if incrementMinutes <= 0 {
		incrementMinutes = DefaultIncrementMinutes
	}
	expected := ExpectedCount(unproductiveMinutes, incrementMinutes)
	return Decision{
		Proceed:              currentCount < expected,
		ExpectedCount:        expected,
		NextThresholdMinutes: (currentCount + 1) * incrementMinutes,
	}
}
