package scanner

import "time"

// Class is a cached transcript's lifecycle stage by age.
type Class int

const (
	// Fresh transcripts may still be written to and are left alone.
	Fresh Class = iota
	// Stale transcripts have been idle long enough to upload.
	Stale
	// Expired transcripts are deleted whether or not they were uploaded.
	Expired
)

func (c Class) String() string {
	switch c {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Thresholds bound the age classes.
type Thresholds struct {
	Stale  time.Duration
	Expire time.Duration
}

// DefaultThresholds returns thirty seconds to stale and one day to expiry.
func DefaultThresholds() Thresholds {
	return Thresholds{Stale: 30 * time.Second, Expire: 24 * time.Hour}
}

// Classify maps a transcript age to its class. Expiry wins over staleness.
func Classify(age time.Duration, t Thresholds) Class {
	switch {
	case age >= t.Expire:
		return Expired
	case age >= t.Stale:
		return Stale
	default:
		return Fresh
	}
}
