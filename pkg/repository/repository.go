// Package repository is the in-memory indexed event store. It is the
// single source of truth for what the client already has, and enforces
// the protocol's consistency rules: one event per id, newest-wins for
// replaceable and addressable kinds, and deletion tombstones that
// exclude events from queries without forgetting them.
package repository

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/seinelabs/seine/pkg/nostr/event"
	"github.com/seinelabs/seine/pkg/nostr/filter"
	"github.com/seinelabs/seine/pkg/nostr/filters"
	"github.com/seinelabs/seine/pkg/nostr/kind"
	"github.com/seinelabs/seine/pkg/nostr/timestamp"
	"github.com/seinelabs/seine/pkg/slog"
)

var log, chk = slog.New(os.Stderr)

// UpdateFunc observes accepted events. Handlers run outside the store
// lock, in registration order, and may call back into the repository.
type UpdateFunc func(ev *event.T)

// T is an event repository. Events handed to Publish are owned by the
// repository afterwards and must not be mutated by the caller.
type T struct {
	mx sync.Mutex

	events    map[string]*event.T
	addresses map[string]string // identity key -> id of current winner

	deletedIDs   map[string]struct{}
	deletedAddrs map[string]timestamp.T // identity key -> deletion time

	byKind   map[kind.T]map[string]struct{}
	byAuthor map[string]map[string]struct{}
	byTag    map[string]map[string]struct{}

	obsMx     sync.Mutex
	nextObs   int
	observers []observer

	notifyMx    sync.Mutex
	notifyQueue []*event.T
	notifying   bool
}

type observer struct {
	id int
	fn UpdateFunc
}

// New creates an empty repository.
func New() *T {
	return &T{
		events:       make(map[string]*event.T),
		addresses:    make(map[string]string),
		deletedIDs:   make(map[string]struct{}),
		deletedAddrs: make(map[string]timestamp.T),
		byKind:       make(map[kind.T]map[string]struct{}),
		byAuthor:     make(map[string]map[string]struct{}),
		byTag:        make(map[string]map[string]struct{}),
	}
}

// Publish applies an event to the store. The return reports whether the
// event was accepted: duplicates, stale replaceable/addressable
// candidates and re-adds of deleted targets are rejected silently, which
// is expected protocol behavior and not an error. A structural error is
// returned for malformed input, before anything is indexed.
//
// Signature validity is the caller's concern; events given here are
// treated as already trusted.
func (r *T) Publish(ev *event.T) (accepted bool, err error) {
	if err = ev.Validate(); err != nil {
		return false, fmt.Errorf("rejecting malformed event: %w", err)
	}

	r.mx.Lock()
	if _, have := r.events[ev.ID]; have {
		r.mx.Unlock()
		return false, nil
	}
	if _, dead := r.deletedIDs[ev.ID]; dead {
		// the target of an earlier deletion arriving late: retain the
		// record for dump fidelity but keep it out of every index
		r.events[ev.ID] = ev
		r.mx.Unlock()
		return false, nil
	}

	if addr := ev.Address(); addr != "" {
		if deletedAt, dead := r.deletedAddrs[addr]; dead && ev.CreatedAt <= deletedAt {
			r.mx.Unlock()
			return false, nil
		}
		if currentID, have := r.addresses[addr]; have {
			current := r.events[currentID]
			if !newerThan(ev, current) {
				r.mx.Unlock()
				return false, nil
			}
			r.removeLocked(currentID)
		}
		r.addresses[addr] = ev.ID
	}

	if ev.Kind == kind.Deletion {
		r.applyDeletionLocked(ev)
	}

	if !ev.Kind.IsEphemeral() {
		r.events[ev.ID] = ev
		r.indexLocked(ev)
	}
	r.mx.Unlock()

	r.enqueueNotify(ev)
	return true, nil
}

// newerThan orders two events competing for the same identity key:
// greater created_at wins, ties break to the lexicographically greater
// id.
func newerThan(a, b *event.T) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID > b.ID
}

// applyDeletionLocked processes the e and a tags of a deletion event.
// Targets by id are tombstoned forever; targets by address are
// tombstoned up to the deletion's own timestamp, so a later edition of
// the same addressable identity is still accepted.
func (r *T) applyDeletionLocked(ev *event.T) {
	for _, t := range ev.Tags {
		switch t.Key() {
		case "e":
			id := t.Value()
			if len(id) != 64 {
				continue
			}
			if target, have := r.events[id]; have {
				// only the author may delete their own events, and a
				// deletion itself cannot be deleted
				if target.PubKey != ev.PubKey || target.Kind == kind.Deletion {
					continue
				}
			}
			r.tombstoneLocked(id)
		case "a":
			addr := t.Value()
			parts := strings.SplitN(addr, ":", 3)
			if len(parts) != 3 || parts[1] != ev.PubKey {
				continue
			}
			if ev.CreatedAt > r.deletedAddrs[addr] {
				r.deletedAddrs[addr] = ev.CreatedAt
			}
			if currentID, have := r.addresses[addr]; have {
				if current := r.events[currentID]; current != nil &&
					current.CreatedAt <= ev.CreatedAt {
					r.tombstoneLocked(currentID)
				}
			}
		}
	}
}

func (r *T) tombstoneLocked(id string) {
	r.deletedIDs[id] = struct{}{}
	if target, have := r.events[id]; have {
		r.deindexLocked(target)
	}
}

// IsDeleted reports whether the event's id has been tombstoned.
func (r *T) IsDeleted(ev *event.T) bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	_, dead := r.deletedIDs[ev.ID]
	return dead
}

// IsDeletedByAddress reports whether the event's replaceable or
// addressable identity has a deletion at or after its created_at.
func (r *T) IsDeletedByAddress(ev *event.T) bool {
	addr := ev.Address()
	if addr == "" {
		return false
	}
	r.mx.Lock()
	defer r.mx.Unlock()
	deletedAt, dead := r.deletedAddrs[addr]
	return dead && ev.CreatedAt <= deletedAt
}

// Get returns the stored event for an id, tombstoned or not.
func (r *T) Get(id string) (*event.T, bool) {
	r.mx.Lock()
	defer r.mx.Unlock()
	ev, ok := r.events[id]
	return ev, ok
}

// Size returns the number of stored events, tombstoned included.
func (r *T) Size() int {
	r.mx.Lock()
	defer r.mx.Unlock()
	return len(r.events)
}

// QueryOption adjusts Query behavior.
type QueryOption func(*queryConfig)

type queryConfig struct {
	includeDeleted bool
}

// IncludeDeleted makes Query return tombstoned events too.
func IncludeDeleted() QueryOption {
	return func(c *queryConfig) { c.includeDeleted = true }
}

// Query returns stored events matching any of the filters, most recent
// first. Each filter's own limit is honored independently before the
// per-filter results are merged and deduplicated by id. Tombstoned
// events are excluded unless IncludeDeleted is given.
func (r *T) Query(fs filters.T, opts ...QueryOption) []*event.T {
	var cfg queryConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	r.mx.Lock()
	seen := make(map[string]struct{})
	var merged []*event.T
	for i := range fs {
		for _, ev := range r.queryOneLocked(&fs[i], cfg.includeDeleted) {
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			merged = append(merged, ev)
		}
	}
	r.mx.Unlock()

	sortByCreatedAtDesc(merged)
	return merged
}

func (r *T) queryOneLocked(f *filter.T, includeDeleted bool) []*event.T {
	var out []*event.T
	for _, ev := range r.candidatesLocked(f) {
		if !includeDeleted {
			if _, dead := r.deletedIDs[ev.ID]; dead {
				continue
			}
		}
		if f.Matches(ev) {
			out = append(out, ev)
		}
	}
	sortByCreatedAtDesc(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// candidatesLocked narrows the scan using the most selective available
// index before the full filter match is applied.
func (r *T) candidatesLocked(f *filter.T) []*event.T {
	switch {
	case len(f.IDs) > 0:
		out := make([]*event.T, 0, len(f.IDs))
		for _, id := range f.IDs {
			if ev, have := r.events[id]; have {
				out = append(out, ev)
			}
		}
		return out
	case len(f.Tags) > 0:
		return r.fromIDSetsLocked(func(yield func(map[string]struct{})) {
			for key, values := range f.Tags {
				for _, value := range values {
					yield(r.byTag[tagIndexKey(key, value)])
				}
			}
		})
	case len(f.Authors) > 0:
		return r.fromIDSetsLocked(func(yield func(map[string]struct{})) {
			for _, author := range f.Authors {
				yield(r.byAuthor[author])
			}
		})
	case len(f.Kinds) > 0:
		return r.fromIDSetsLocked(func(yield func(map[string]struct{})) {
			for _, k := range f.Kinds {
				yield(r.byKind[k])
			}
		})
	}
	out := make([]*event.T, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev)
	}
	return out
}

func (r *T) fromIDSetsLocked(each func(yield func(map[string]struct{}))) []*event.T {
	var out []*event.T
	picked := make(map[string]struct{})
	each(func(ids map[string]struct{}) {
		for id := range ids {
			if _, dup := picked[id]; dup {
				continue
			}
			picked[id] = struct{}{}
			out = append(out, r.events[id])
		}
	})
	return out
}

// Dump exports every stored event, tombstoned included, for cache
// persistence by an external layer.
func (r *T) Dump() []*event.T {
	r.mx.Lock()
	out := make([]*event.T, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev)
	}
	r.mx.Unlock()
	sortByCreatedAtDesc(out)
	return out
}

// Load replays events through the same acceptance rules as Publish, so
// stale and duplicate entries in a dump are harmless. Malformed entries
// are skipped and counted, not fatal.
func (r *T) Load(evs []*event.T) (accepted int) {
	for _, ev := range evs {
		ok, err := r.Publish(ev)
		if chk.D(err) {
			continue
		}
		if ok {
			accepted++
		}
	}
	return accepted
}

// OnUpdate registers an observer for accepted events. Notifications are
// delivered in acceptance order; the returned function unregisters.
func (r *T) OnUpdate(fn UpdateFunc) (unsub func()) {
	r.obsMx.Lock()
	id := r.nextObs
	r.nextObs++
	r.observers = append(r.observers, observer{id, fn})
	r.obsMx.Unlock()
	return func() {
		r.obsMx.Lock()
		defer r.obsMx.Unlock()
		for i, o := range r.observers {
			if o.id == id {
				r.observers = append(r.observers[:i], r.observers[i+1:]...)
				return
			}
		}
	}
}

// enqueueNotify delivers update notifications outside the store lock so
// a handler can call Publish or Query without deadlocking, while a
// single drainer keeps delivery ordered.
func (r *T) enqueueNotify(ev *event.T) {
	r.notifyMx.Lock()
	r.notifyQueue = append(r.notifyQueue, ev)
	if r.notifying {
		r.notifyMx.Unlock()
		return
	}
	r.notifying = true
	r.notifyMx.Unlock()
	r.drainNotify()
}

func (r *T) drainNotify() {
	for {
		r.notifyMx.Lock()
		if len(r.notifyQueue) == 0 {
			r.notifying = false
			r.notifyMx.Unlock()
			return
		}
		ev := r.notifyQueue[0]
		r.notifyQueue = r.notifyQueue[1:]
		r.notifyMx.Unlock()

		r.obsMx.Lock()
		obs := make([]observer, len(r.observers))
		copy(obs, r.observers)
		r.obsMx.Unlock()
		for _, o := range obs {
			o.fn(ev)
		}
	}
}

// removeLocked drops a replaced event entirely.
func (r *T) removeLocked(id string) {
	ev, have := r.events[id]
	if !have {
		return
	}
	r.deindexLocked(ev)
	delete(r.events, id)
}

func (r *T) indexLocked(ev *event.T) {
	if _, dead := r.deletedIDs[ev.ID]; dead {
		return
	}
	addIndex(r.byKind, ev.Kind, ev.ID)
	addIndex(r.byAuthor, ev.PubKey, ev.ID)
	for _, t := range ev.Tags {
		if len(t) >= 2 && len(t.Key()) == 1 {
			addIndex(r.byTag, tagIndexKey(t.Key(), t.Value()), ev.ID)
		}
	}
}

func (r *T) deindexLocked(ev *event.T) {
	dropIndex(r.byKind, ev.Kind, ev.ID)
	dropIndex(r.byAuthor, ev.PubKey, ev.ID)
	for _, t := range ev.Tags {
		if len(t) >= 2 && len(t.Key()) == 1 {
			dropIndex(r.byTag, tagIndexKey(t.Key(), t.Value()), ev.ID)
		}
	}
}

func tagIndexKey(key, value string) string { return key + "\x00" + value }

func addIndex[K comparable](index map[K]map[string]struct{}, key K, id string) {
	ids, have := index[key]
	if !have {
		ids = make(map[string]struct{})
		index[key] = ids
	}
	ids[id] = struct{}{}
}

func dropIndex[K comparable](index map[K]map[string]struct{}, key K, id string) {
	ids, have := index[key]
	if !have {
		return
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(index, key)
	}
}

func sortByCreatedAtDesc(evs []*event.T) {
	sort.Slice(evs, func(i, j int) bool {
		if evs[i].CreatedAt != evs[j].CreatedAt {
			return evs[i].CreatedAt > evs[j].CreatedAt
		}
		return evs[i].ID > evs[j].ID
	})
}
