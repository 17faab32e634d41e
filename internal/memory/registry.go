package memory

import (
	"io"
	"slices"
	"sync"

	"github.com/23skdu/blockpool/internal/backend"
	perrors "github.com/23skdu/blockpool/internal/errors"
	"github.com/23skdu/blockpool/internal/gpu"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Registry holds named pools for the lifetime of a process. It is built
// explicitly at startup and closed explicitly at shutdown.
type Registry struct {
	mu      sync.RWMutex
	pools   map[string]*Locked
	order   []string
	closers []io.Closer
	closed  bool
}

func NewRegistry() *Registry {
	return &Registry{pools: make(map[string]*Locked)}
}

// Register adds p under name. The registry takes ownership and closes p on
// Close.
func (r *Registry) Register(name string, p *Pool) (*Locked, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, perrors.NewUsageError("register_pool", "registry is closed").
			WithContext("pool", name)
	}
	if _, ok := r.pools[name]; ok {
		return nil, perrors.NewUsageError("register_pool", "pool already registered").
			WithContext("pool", name)
	}
	l := NewLocked(p)
	r.pools[name] = l
	r.order = append(r.order, name)
	return l, nil
}

// Get returns the pool registered under name.
func (r *Registry) Get(name string) (*Locked, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.pools[name]
	if !ok {
		return nil, perrors.NewNotFoundError("get_pool", "no pool registered under name").
			WithContext("pool", name)
	}
	return l, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := slices.Clone(r.order)
	slices.Sort(names)
	return names
}

// Stats returns a snapshot of every registered pool's counters.
func (r *Registry) Stats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Stats, len(r.pools))
	for name, l := range r.pools {
		out[name] = l.Stats()
	}
	return out
}

// LogStats writes one info line per pool with its counters.
func (r *Registry) LogStats(logger zerolog.Logger) {
	stats := r.Stats()
	for _, name := range r.Names() {
		s := stats[name]
		logger.Info().
			Str("pool", name).
			Uint64("allocations", s.Allocations).
			Uint64("deallocations", s.Deallocations).
			Uint64("failed_allocations", s.FailedAllocations).
			Uint64("invalid_frees", s.InvalidFrees).
			Int64("bytes_allocated", s.BytesAllocated).
			Int64("bytes_freed", s.BytesFreed).
			Int64("outstanding_bytes", s.OutstandingBytes).
			Int("used_blocks", s.UsedBlocks).
			Int("total_blocks", s.TotalBlocks).
			Msg("pool statistics")
	}
}

// attach hands a resource to the registry to close after all pools.
func (r *Registry) attach(c io.Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closers = append(r.closers, c)
}

// Close closes every pool in reverse registration order, then any attached
// resources such as device contexts. It is safe to call more than once.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var result *multierror.Error
	for i := len(r.order) - 1; i >= 0; i-- {
		if err := r.pools[r.order[i]].Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// PoolConfig sizes one pool of the default registry.
type PoolConfig struct {
	Capacity  int
	BlockSize int
}

// RegistryConfig sizes the default registry. A zero Capacity leaves that
// pool out.
type RegistryConfig struct {
	Host    PoolConfig
	Aligned PoolConfig
	Pinned  PoolConfig
	Device  PoolConfig
	GPU     gpu.Config
	// Observer, if set, is attached to every pool.
	Observer Observer
	// SkipUnavailable logs and skips pools whose backend cannot be acquired
	// (no pinning privilege, no device) instead of failing.
	SkipUnavailable bool
}

// NewDefaultRegistry builds the HOST, ALIGNED, PINNED and DEVICE pools.
func NewDefaultRegistry(cfg RegistryConfig, logger *zerolog.Logger) (*Registry, error) {
	log := zerolog.Nop()
	if logger != nil {
		log = *logger
	}
	r := NewRegistry()
	abort := func(err error) error {
		if cerr := r.Close(); cerr != nil {
			return multierror.Append(err, cerr)
		}
		return err
	}

	add := func(b backend.Backend, pc PoolConfig) error {
		if pc.Capacity == 0 {
			return nil
		}
		name := b.Kind().String()
		p, err := New(b, Options{
			Name:      name,
			Capacity:  pc.Capacity,
			BlockSize: pc.BlockSize,
			Logger:    logger,
			Observer:  cfg.Observer,
		})
		if err != nil {
			if cfg.SkipUnavailable && perrors.IsType(err, perrors.ErrorTypeBackend) {
				log.Warn().Err(err).Str("pool", name).Msg("backend unavailable, pool skipped")
				return nil
			}
			return err
		}
		_, err = r.Register(name, p)
		return err
	}

	if err := add(backend.NewHeap(nil), cfg.Host); err != nil {
		return nil, abort(err)
	}
	if err := add(backend.NewAligned(), cfg.Aligned); err != nil {
		return nil, abort(err)
	}
	if err := add(backend.NewPinned(), cfg.Pinned); err != nil {
		return nil, abort(err)
	}

	if cfg.Device.Capacity > 0 {
		dev, err := gpu.NewDevice(cfg.GPU)
		switch {
		case err != nil && cfg.SkipUnavailable:
			log.Warn().Err(err).Msg("no device available, DEVICE pool skipped")
		case err != nil:
			wrapped := perrors.WrapBackendError(err, "new_registry", "failed to open device")
			return nil, abort(wrapped)
		default:
			r.attach(dev)
			if err := add(backend.NewDevice(dev), cfg.Device); err != nil {
				return nil, abort(err)
			}
		}
	}

	log.Info().Strs("pools", r.Names()).Msg("pool registry ready")
	return r, nil
}
