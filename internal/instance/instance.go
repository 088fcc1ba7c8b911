package instance

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jool-go/jool/internal/nat64"
	"github.com/jool-go/jool/internal/siit"
	"github.com/jool-go/jool/internal/translate"
)

// Sentinel errors for Registry operations (same convention as
// internal/bfd/manager.go's ErrSessionNotFound/ErrDuplicateSession).
var (
	// ErrNotFound indicates no instance is registered under the given name.
	ErrNotFound = errors.New("instance: not found")

	// ErrAlreadyExists indicates an instance is already registered under
	// the given name; use Replace to swap it.
	ErrAlreadyExists = errors.New("instance: already exists")

	// ErrEmptyName indicates an instance name was empty.
	ErrEmptyName = errors.New("instance: name must not be empty")
)

// Instance bundles one translator's full configuration snapshot: its
// addressing mode (SIIT or NAT64), the SIIT translator it resolves
// addresses through, the NAT64 BIB/session store when stateful, and the
// header-synthesis Config — everything translate.Translate needs for
// one instance's packets (spec.md §5: "configuration" is one of the few
// pieces of state shared across parallel translation calls).
//
// Instance is immutable once published: configuration changes build a
// new Instance and Replace it in, rather than mutating fields in place
// (spec.md §9: "Replace is atomic: new pointer is published, then the
// old pointer is quiesced and freed").
type Instance struct {
	Name string

	// Generation distinguishes this Instance from whatever previously
	// held the same Name, for logs and metric labels (SPEC_FULL.md §4:
	// "instance generation/epoch tags used by the registry's RCU-style
	// replace").
	Generation uuid.UUID

	Ctx *translate.Context

	refCount int64
	retired  atomic.Bool
}

// newInstance wraps a translate.Context as a fresh, taggable Instance.
func newInstance(name string, ctx *translate.Context) *Instance {
	return &Instance{Name: name, Generation: uuid.New(), Ctx: ctx}
}

// Acquire marks one in-flight use of inst beginning; callers on the read
// path must call Release when done. Acquire never blocks and never
// fails — the grace-period reclaimer in Remove/Replace waits for the
// count to drain rather than refusing new acquirers outright, since a
// reader that observed inst via Get is entitled to finish with it.
func (inst *Instance) Acquire() {
	atomic.AddInt64(&inst.refCount, 1)
}

// Release ends one in-flight use begun by Acquire.
func (inst *Instance) Release() {
	atomic.AddInt64(&inst.refCount, -1)
}

func (inst *Instance) inUse() bool {
	return atomic.LoadInt64(&inst.refCount) != 0
}

// instanceMap is the copy-on-write snapshot readers load atomically.
type instanceMap map[string]*Instance

// Registry is the atomic, RCU-style instance table spec.md §5/§9
// describe: readers never block (Get is a single atomic load plus a
// map read), writers serialize on mu and publish a new snapshot map.
//
// Grounded on internal/bfd/manager.go's Manager, generalized from "one
// RWMutex-guarded set of sessions" to "many independently replaceable
// named instances", per SPEC_FULL.md C10.
type Registry struct {
	snapshot atomic.Pointer[instanceMap]

	mu  sync.Mutex
	log *slog.Logger

	// GracePeriod bounds how long Remove/Replace waits for an old
	// instance's in-flight readers to finish before reclaiming it
	// (spec.md §5). Zero means use defaultGracePeriod.
	GracePeriod time.Duration
}

const defaultGracePeriod = 2 * time.Second

// NewRegistry builds an empty registry. log may be nil, in which case
// slog.Default() is used.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{log: log}
	empty := make(instanceMap)
	r.snapshot.Store(&empty)
	return r
}

// Get returns the currently published instance for name, incrementing
// its reference count on success. Callers must call Release on the
// returned Instance when finished translating with it. Get never
// blocks on the writer mutex.
func (r *Registry) Get(name string) (*Instance, bool) {
	m := *r.snapshot.Load()
	inst, ok := m[name]
	if !ok {
		return nil, false
	}
	inst.Acquire()
	return inst, true
}

// List returns a snapshot slice of every currently published instance,
// in no particular order. Returned Instances are not Acquired; callers
// that intend to translate packets against one must Get it by name
// first.
func (r *Registry) List() []*Instance {
	m := *r.snapshot.Load()
	out := make([]*Instance, 0, len(m))
	for _, inst := range m {
		out = append(out, inst)
	}
	return out
}

// Add registers a new instance under name, built from mode/siitXlat/
// store/cfg. Returns ErrAlreadyExists if name is already registered (use
// Replace instead).
func (r *Registry) Add(name string, mode translate.Mode, siitXlat *siit.Translator, store *nat64.Store, cfg translate.Config) (*Instance, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.snapshot.Load()
	if _, exists := old[name]; exists {
		return nil, fmt.Errorf("add instance %q: %w", name, ErrAlreadyExists)
	}

	inst := newInstance(name, &translate.Context{Mode: mode, SIIT: siitXlat, Store: store, Config: cfg})

	next := cloneMap(old)
	next[name] = inst
	r.snapshot.Store(&next)

	r.log.Info("instance added", slog.String("name", name), slog.String("generation", inst.Generation.String()))
	return inst, nil
}

// Replace atomically swaps the instance registered under name for a
// newly built one, then schedules the old one for grace-period
// reclamation. Returns ErrNotFound if name is not currently registered.
func (r *Registry) Replace(name string, mode translate.Mode, siitXlat *siit.Translator, store *nat64.Store, cfg translate.Config) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.snapshot.Load()
	oldInst, exists := old[name]
	if !exists {
		return nil, fmt.Errorf("replace instance %q: %w", name, ErrNotFound)
	}

	newInst := newInstance(name, &translate.Context{Mode: mode, SIIT: siitXlat, Store: store, Config: cfg})

	next := cloneMap(old)
	next[name] = newInst
	r.snapshot.Store(&next)

	r.log.Info("instance replaced",
		slog.String("name", name),
		slog.String("old_generation", oldInst.Generation.String()),
		slog.String("new_generation", newInst.Generation.String()))

	r.reclaim(oldInst)
	return newInst, nil
}

// Remove unregisters name and schedules its instance for grace-period
// reclamation. Returns ErrNotFound if name is not currently registered.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.snapshot.Load()
	oldInst, exists := old[name]
	if !exists {
		return fmt.Errorf("remove instance %q: %w", name, ErrNotFound)
	}

	next := cloneMap(old)
	delete(next, name)
	r.snapshot.Store(&next)

	r.log.Info("instance removed", slog.String("name", name), slog.String("generation", oldInst.Generation.String()))

	r.reclaim(oldInst)
	return nil
}

// reclaim waits (in a background goroutine, never blocking the caller)
// for old's in-flight readers to drain, polling at a short interval
// bounded by GracePeriod, then marks it retired. Nothing currently holds
// a reference to a retired Instance once reclaim returns except
// goroutines that called Acquire before the swap, which are still free
// to finish and Release — reclaim only logs a warning if the grace
// period elapses with readers still active, it never forces eviction.
func (r *Registry) reclaim(old *Instance) {
	grace := r.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}

	go func() {
		deadline := time.Now().Add(grace)
		const pollInterval = 10 * time.Millisecond
		for time.Now().Before(deadline) {
			if !old.inUse() {
				old.retired.Store(true)
				return
			}
			time.Sleep(pollInterval)
		}
		if old.inUse() {
			r.log.Warn("instance reclaim grace period elapsed with readers still active",
				slog.String("name", old.Name), slog.String("generation", old.Generation.String()))
		}
		old.retired.Store(true)
	}()
}

func cloneMap(m instanceMap) instanceMap {
	next := make(instanceMap, len(m)+1)
	for k, v := range m {
		next[k] = v
	}
	return next
}
