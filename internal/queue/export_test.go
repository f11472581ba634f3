package queue

import (
	"time"

	"vidpipe/internal/layout"
)

// SetClock overrides the store clock.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// SetBeforeInsert installs a hook that runs before each job insert.
func (s *Store) SetBeforeInsert(fn func(kind layout.Kind) error) { s.beforeInsert = fn }
