package socket

import (
	"time"

	"github.com/google/uuid"
)

func generateID() string {
	return uuid.NewString()
}

// nextDelay doubles d, capped at max.
func nextDelay(d, max time.Duration) time.Duration {
	d *= 2
	if max > 0 && d > max {
		d = max
	}
	return d
}
