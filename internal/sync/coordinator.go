// Package sync reconciles the local annotation store with the remote
// annotation service.
package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/map-annotator/backend/internal/expiry"
	"github.com/map-annotator/backend/internal/gateway"
	"github.com/map-annotator/backend/internal/models"
	"github.com/map-annotator/backend/internal/store"
)

// Coordinator drives the annotation lifecycle: it issues gateway calls and
// applies the outcome to the store, never the other way around. The store is
// only mutated after the remote call succeeds, so a failed create, edit or
// delete leaves the local state exactly as it was.
//
// Mutations for the same annotation id are serialized through a per-id lock;
// calls for different ids may run concurrently.
type Coordinator struct {
	store   *store.Store
	gw      gateway.Gateway
	logger  *zap.Logger
	timeout time.Duration
	loc     *time.Location

	now func() time.Time

	mu      stdsync.Mutex
	idLocks map[string]*stdsync.Mutex
}

// New creates a coordinator. loc is the calendar used to normalize selected
// end days; pass nil for the system local time.
func New(s *store.Store, gw gateway.Gateway, timeout time.Duration, loc *time.Location, logger *zap.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if loc == nil {
		loc = time.Local
	}
	return &Coordinator{
		store:   s,
		gw:      gw,
		logger:  logger,
		timeout: timeout,
		loc:     loc,
		now:     time.Now,
		idLocks: make(map[string]*stdsync.Mutex),
	}
}

// Refresh rebuilds the store from the service's current record set, dropping
// annotations whose validity window has ended. This is the only point where
// expiry filtering happens.
func (c *Coordinator) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	records, err := c.gw.FetchAll(ctx)
	if err != nil {
		c.logger.Warn("Refresh failed, keeping current annotations", zap.Error(err))
		return err
	}

	now := c.now()
	c.store.Load(records, now)
	c.logger.Info("Refreshed annotations",
		zap.Int("fetched", len(records)),
		zap.Int("active", c.store.Len()),
	)
	return nil
}

// Place persists a new annotation and adds it to the store once the service
// has assigned an id. The annotation's EndDate is interpreted as the day the
// user selected and is normalized to the last second of that day before
// persisting; a leftover description placeholder is dropped.
func (c *Coordinator) Place(ctx context.Context, a models.Annotation) (models.Annotation, error) {
	if a.ID != "" {
		return models.Annotation{}, fmt.Errorf("annotation already persisted with id %q", a.ID)
	}
	if a.Title == "" {
		return models.Annotation{}, fmt.Errorf("title must not be empty")
	}
	if !a.IconCategory.Valid() {
		return models.Annotation{}, fmt.Errorf("unknown icon category %q", a.IconCategory)
	}
	if err := a.ValidateCoordinate(); err != nil {
		return models.Annotation{}, err
	}

	a.Description = models.NormalizeDescription(a.Description)
	if a.EndDate != nil {
		end := expiry.EndOfDay(*a.EndDate, c.loc)
		a.EndDate = &end
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	id, err := c.gw.Create(ctx, a)
	if err != nil {
		c.logger.Warn("Create failed, annotation not added", zap.Error(err))
		return models.Annotation{}, err
	}

	a.ID = id
	c.store.Add(a)
	c.logger.Info("Placed annotation", zap.String("id", id), zap.String("title", a.Title))
	return a, nil
}

// Edit applies the patch remotely and, on success, replaces the local entry
// with the record the service returned. A patched EndDate is normalized to
// end-of-day first. Editing an id the store does not hold fails without a
// remote call.
func (c *Coordinator) Edit(ctx context.Context, id string, patch *models.UpdateAnnotationRequest) error {
	if _, err := c.store.Get(id); err != nil {
		return err
	}
	if patch.IconCategory != nil && !patch.IconCategory.Valid() {
		return fmt.Errorf("unknown icon category %q", *patch.IconCategory)
	}
	if patch.EndDate != nil {
		end := expiry.EndOfDay(*patch.EndDate, c.loc)
		patch.EndDate = &end
	}

	unlock := c.lockID(id)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	updated, err := c.gw.Update(ctx, id, patch)
	if err != nil {
		c.logger.Warn("Edit failed, store unchanged", zap.String("id", id), zap.Error(err))
		return err
	}

	if err := c.store.Replace(id, updated); err != nil {
		return err
	}
	c.logger.Info("Edited annotation", zap.String("id", id))
	return nil
}

// Discard deletes the annotation remotely and, on success, removes it from
// the store.
func (c *Coordinator) Discard(ctx context.Context, id string) error {
	if _, err := c.store.Get(id); err != nil {
		return err
	}

	unlock := c.lockID(id)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.gw.Delete(ctx, id); err != nil {
		c.logger.Warn("Discard failed, store unchanged", zap.String("id", id), zap.Error(err))
		return err
	}

	if err := c.store.Remove(id); err != nil {
		return err
	}
	c.logger.Info("Discarded annotation", zap.String("id", id))
	return nil
}

// Annotations returns the current snapshot of active annotations.
func (c *Coordinator) Annotations() []models.Annotation {
	return c.store.List()
}

func (c *Coordinator) lockID(id string) func() {
	c.mu.Lock()
	l, ok := c.idLocks[id]
	if !ok {
		l = &stdsync.Mutex{}
		c.idLocks[id] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}
