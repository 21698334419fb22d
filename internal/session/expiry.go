package session

import "time"

// ExpiryState classifies how close a session is to expiring.
type ExpiryState int

const (
	Active ExpiryState = iota
	Warning
	Expired
)

func (s ExpiryState) String() string {
	switch s {
	case Warning:
		return "warning"
	case Expired:
		return "expired"
	default:
		return "active"
	}
}

// CheckExpiry is Expired once no time remains, Warning when the remaining
// time is within threshold, and Active otherwise.
func CheckExpiry(now, expiresAt time.Time, threshold time.Duration) ExpiryState {
	remaining := expiresAt.Sub(now)
	switch {
	case remaining <= 0:
		return Expired
	case remaining <= threshold:
		return Warning
	default:
		return Active
	}
}
