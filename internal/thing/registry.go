package thing

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides thing management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by every mutating operation. All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Thing
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a new thing registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Thing),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all things from the repository into the cache.
func (r *Registry) RefreshCache(ctx context.Context) error {
	things, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading things: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Thing, len(things))
	for i := range things {
		r.cache[things[i].ID] = things[i].DeepCopy()
	}

	r.logger.Info("thing cache refreshed", "count", len(things))
	return nil
}

// GetThing retrieves a thing by ID. The returned thing is a deep copy.
func (r *Registry) GetThing(ctx context.Context, id string) (*Thing, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	t, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[id] = t.DeepCopy()
	r.cacheMu.Unlock()

	return t, nil
}

// ListThings returns all cached things ordered by ID.
func (r *Registry) ListThings(ctx context.Context) ([]Thing, error) {
	return r.filter(ctx, func(*Thing) bool { return true })
}

// ListByBridge returns the things attached to a bridge.
func (r *Registry) ListByBridge(ctx context.Context, bridgeID string) ([]Thing, error) {
	return r.filter(ctx, func(t *Thing) bool {
		return t.BridgeID != nil && *t.BridgeID == bridgeID
	})
}

// ListByType returns the things of a thing type.
func (r *Registry) ListByType(ctx context.Context, thingType string) ([]Thing, error) {
	return r.filter(ctx, func(t *Thing) bool { return t.ThingType == thingType })
}

func (r *Registry) filter(ctx context.Context, keep func(*Thing) bool) ([]Thing, error) {
	r.cacheMu.RLock()
	empty := len(r.cache) == 0
	var things []Thing
	for _, t := range r.cache {
		if keep(t) {
			things = append(things, *t.DeepCopy())
		}
	}
	r.cacheMu.RUnlock()

	if empty {
		all, err := r.repo.List(ctx)
		if err != nil {
			return nil, err
		}
		for i := range all {
			if keep(&all[i]) {
				things = append(things, all[i])
			}
		}
	}

	sort.Slice(things, func(i, j int) bool { return things[i].ID < things[j].ID })
	return things, nil
}

// CreateThing validates and persists a new thing.
func (r *Registry) CreateThing(ctx context.Context, t *Thing) error {
	if err := ValidateThing(t); err != nil {
		return err
	}
	if err := r.repo.Create(ctx, t); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[t.ID] = t.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("thing created", "id", t.ID, "type", t.ThingType)
	return nil
}

// UpdateThing validates and persists a changed thing definition.
// Status and channel states of the cached entry are preserved.
func (r *Registry) UpdateThing(ctx context.Context, t *Thing) error {
	existing, err := r.GetThing(ctx, t.ID)
	if err != nil {
		return err
	}
	if err := ValidateThing(t); err != nil {
		return err
	}
	if err := r.repo.Update(ctx, t); err != nil {
		return err
	}

	updated := t.DeepCopy()
	updated.Status = existing.Status
	updated.StatusDetail = existing.StatusDetail
	updated.StatusDescription = existing.StatusDescription
	updated.ChannelStates = existing.ChannelStates
	updated.StateUpdatedAt = existing.StateUpdatedAt
	updated.CreatedAt = existing.CreatedAt

	r.cacheMu.Lock()
	r.cache[t.ID] = updated
	r.cacheMu.Unlock()

	r.logger.Info("thing updated", "id", t.ID)
	return nil
}

// DeleteThing removes a thing.
func (r *Registry) DeleteThing(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("thing deleted", "id", id)
	return nil
}

// SetThingStatus stores a handler-reported status.
func (r *Registry) SetThingStatus(ctx context.Context, id string, info StatusInfo) error {
	if err := r.repo.UpdateStatus(ctx, id, info); err != nil {
		return err
	}

	r.update(id, func(t *Thing) {
		t.Status = info.Status
		t.StatusDetail = info.Detail
		t.StatusDescription = info.Description
	})

	r.logger.Debug("thing status updated", "id", id, "status", info.Status, "detail", info.Detail)
	return nil
}

// SetChannelState stores the last published state of a channel.
func (r *Registry) SetChannelState(ctx context.Context, id, channelID string, cs ChannelState) error {
	if err := r.repo.UpdateChannelState(ctx, id, channelID, cs); err != nil {
		return err
	}

	r.update(id, func(t *Thing) {
		if t.ChannelStates == nil {
			t.ChannelStates = make(map[string]ChannelState)
		}
		t.ChannelStates[channelID] = cs
		at := cs.UpdatedAt
		t.StateUpdatedAt = &at
	})
	return nil
}

// LinkChannel adds channelID to the thing's linked channels.
// Returns true if the link was added, false if it already existed.
func (r *Registry) LinkChannel(ctx context.Context, id, channelID string) (bool, error) {
	if err := ValidateChannelID(channelID); err != nil {
		return false, err
	}
	t, err := r.GetThing(ctx, id)
	if err != nil {
		return false, err
	}
	if t.IsLinked(channelID) {
		return false, nil
	}

	links := append(t.LinkedChannels, channelID)
	sort.Strings(links)
	if err := r.repo.UpdateLinks(ctx, id, links); err != nil {
		return false, err
	}
	r.update(id, func(t *Thing) { t.LinkedChannels = slices.Clone(links) })

	r.logger.Info("channel linked", "id", id, "channel", channelID)
	return true, nil
}

// UnlinkChannel removes channelID from the thing's linked channels.
// Returns true if a link was removed.
func (r *Registry) UnlinkChannel(ctx context.Context, id, channelID string) (bool, error) {
	t, err := r.GetThing(ctx, id)
	if err != nil {
		return false, err
	}
	if !t.IsLinked(channelID) {
		return false, nil
	}

	links := slices.DeleteFunc(t.LinkedChannels, func(ch string) bool { return ch == channelID })
	if err := r.repo.UpdateLinks(ctx, id, links); err != nil {
		return false, err
	}
	r.update(id, func(t *Thing) { t.LinkedChannels = slices.Clone(links) })

	r.logger.Info("channel unlinked", "id", id, "channel", channelID)
	return true, nil
}

// IsLinked reports whether a channel of a cached thing is linked.
func (r *Registry) IsLinked(id, channelID string) bool {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	t, ok := r.cache[id]
	return ok && t.IsLinked(channelID)
}

// update applies fn to a copy of the cached thing and swaps it in.
func (r *Registry) update(id string, fn func(*Thing)) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	cached, ok := r.cache[id]
	if !ok {
		return
	}
	updated := cached.DeepCopy()
	fn(updated)
	updated.UpdatedAt = time.Now().UTC()
	r.cache[id] = updated
}

// GetThingCount returns the number of cached things.
func (r *Registry) GetThingCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats holds registry statistics for monitoring.
type Stats struct {
	TotalThings int            `json:"total_things"`
	ByStatus    map[Status]int `json:"by_status"`
	ByType      map[string]int `json:"by_type"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalThings: len(r.cache),
		ByStatus:    make(map[Status]int),
		ByType:      make(map[string]int),
	}
	for _, t := range r.cache {
		stats.ByStatus[t.Status]++
		stats.ByType[t.ThingType]++
	}
	return stats
}
