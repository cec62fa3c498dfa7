// Package clock provides the time source used by token and code expiry logic.
package clock

import "time"

// Clock yields the current time in UTC.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// NewSystem returns a Clock backed by the wall clock.
func NewSystem() Clock {
	return systemClock{}
}
