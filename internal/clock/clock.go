// Package clock defines the time source abstraction used across the service.
package clock

import "time"

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
