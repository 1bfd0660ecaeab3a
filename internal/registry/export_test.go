package registry

import "time"

// SetClock overrides the upload timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}
