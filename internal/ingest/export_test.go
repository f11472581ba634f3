package ingest

// SetIDFunc replaces the entity id generator.
func (w *Watcher) SetIDFunc(fn func() string) {
	w.newID = fn
}
