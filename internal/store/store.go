// Package store holds the client-side collection of annotations currently
// shown on the map.
package store

import (
	"sync"
	"time"

	"github.com/map-annotator/backend/internal/expiry"
	"github.com/map-annotator/backend/internal/models"
)

// Store is an ordered in-memory collection of annotations. It mirrors the
// set of markers not yet known to be expired as of the last refresh: expiry
// filtering happens only in Load, never during Add, Update or Remove, so a
// freshly placed marker stays visible until the next reload regardless of
// its window.
//
// A mutex guards the slice so the store survives concurrent use, but
// callers that need read-modify-write consistency across calls must
// serialize externally (see the sync package).
type Store struct {
	mu          sync.Mutex
	annotations []models.Annotation
}

// New returns an empty store.
func New() *Store {
	return &Store{}
}

// Load replaces the collection with the subset of records still active at
// now, preserving the input order.
func (s *Store) Load(records []models.Annotation, now time.Time) {
	active := make([]models.Annotation, 0, len(records))
	for i := range records {
		if expiry.Active(&records[i], now) {
			active = append(active, records[i])
		}
	}

	s.mu.Lock()
	s.annotations = active
	s.mu.Unlock()
}

// Add appends the annotation. Adding an id that is already present is a
// no-op, so the store never holds two entries with the same non-empty id.
func (s *Store) Add(a models.Annotation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID != "" && s.indexOf(a.ID) >= 0 {
		return
	}
	s.annotations = append(s.annotations, a)
}

// Update applies non-nil patch fields to the entry with the given id.
// It returns models.ErrNotFound if no entry matches; the collection is left
// unchanged in that case.
func (s *Store) Update(id string, patch *models.UpdateAnnotationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return models.ErrNotFound
	}

	a := &s.annotations[i]
	if patch.Title != nil {
		a.Title = *patch.Title
	}
	if patch.Description != nil {
		a.Description = models.NormalizeDescription(*patch.Description)
	}
	if patch.IconCategory != nil {
		a.IconCategory = *patch.IconCategory
	}
	if patch.StartDate != nil {
		a.StartDate = patch.StartDate
	}
	if patch.EndDate != nil {
		a.EndDate = patch.EndDate
	}
	return nil
}

// Replace swaps the entry with the given id for the given annotation,
// keeping its position. It returns models.ErrNotFound if no entry matches.
func (s *Store) Replace(id string, a models.Annotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return models.ErrNotFound
	}
	s.annotations[i] = a
	return nil
}

// Remove deletes the entry with the given id, preserving the relative order
// of the remaining entries. It returns models.ErrNotFound if no entry
// matches.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return models.ErrNotFound
	}
	s.annotations = append(s.annotations[:i], s.annotations[i+1:]...)
	return nil
}

// Get returns a copy of the entry with the given id.
func (s *Store) Get(id string) (models.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return models.Annotation{}, models.ErrNotFound
	}
	return s.annotations[i], nil
}

// List returns a snapshot of the collection in insertion order. The caller
// owns the returned slice.
func (s *Store) List() []models.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Annotation, len(s.annotations))
	copy(out, s.annotations)
	return out
}

// Len returns the number of annotations currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.annotations)
}

// indexOf never matches the empty id: not-yet-persisted entries have no id
// and must not be addressable through lookups.
func (s *Store) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.annotations {
		if s.annotations[i].ID == id {
			return i
		}
	}
	return -1
}
