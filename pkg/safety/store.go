package safety

import "sync/atomic"

// CatalogStore publishes the active pattern catalog to concurrent readers.
// Updates replace the whole catalog in one atomic swap; a classifier that
// loaded the previous catalog keeps using it to completion, and no reader
// ever observes a partially updated tier.
type CatalogStore struct {
	current atomic.Pointer[PatternCatalog]
}

// NewCatalogStore creates a store publishing the given catalog.
func NewCatalogStore(cat *PatternCatalog) *CatalogStore {
	s := &CatalogStore{}
	if cat == nil {
		cat = DefaultCatalog()
	}
	s.current.Store(cat)
	return s
}

// Current returns the catalog in effect right now.
func (s *CatalogStore) Current() *PatternCatalog {
	return s.current.Load()
}

// Swap publishes a fully built replacement catalog. A nil catalog is
// ignored so a failed rebuild can never blank the active rules.
func (s *CatalogStore) Swap(cat *PatternCatalog) {
	if cat == nil {
		return
	}
	s.current.Store(cat)
}
