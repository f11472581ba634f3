package cleanup

import "time"

// SetRemover replaces the function used to delete paths.
func (c *Coordinator) SetRemover(fn func(path string) error) { c.removeAll = fn }

// SetClock overrides the reconciler clock.
func (r *Reconciler) SetClock(now func() time.Time) { r.now = now }

// SetAfterSnapshot registers fn to run between the live id snapshot and the
// orphan sweep.
func (r *Reconciler) SetAfterSnapshot(fn func()) { r.afterSnapshot = fn }
