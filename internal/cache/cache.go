// Package cache persists sensitivity coefficient tensors keyed by model and metric.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"reactsens/internal/logging"
	"reactsens/internal/model"
)

var (
	ErrPersist    = errors.New("persist coefficients")
	ErrInvalidKey = errors.New("invalid cache key")
)

// Backend stores one tensor per key. Load reports ok=false for a missing entry and
// an error wrapping storage.ErrCorruptTensor for an unreadable one.
type Backend interface {
	Name() string
	Load(ctx context.Context, key model.CacheKey) (model.Tensor4, bool, error)
	Save(ctx context.Context, key model.CacheKey, tensor model.Tensor4) error
	Delete(ctx context.Context, key model.CacheKey) error
	Stat(ctx context.Context, key model.CacheKey) (Entry, error)
}

type Entry struct {
	Key      model.CacheKey `json:"key"`
	Backend  string         `json:"backend"`
	Location string         `json:"location"`
	Exists   bool           `json:"exists"`
	Size     int64          `json:"size"`
	Dims     [4]int         `json:"dims"`
}

type ComputeFunc func(ctx context.Context, reactions []int) (model.Tensor4, error)

type Cache struct {
	backend Backend
	logger  *slog.Logger
	group   singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the context one shared load or computation runs under. It outlives the
// caller that started it and is cancelled once no caller is waiting.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func New(backend Backend, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Cache{backend: backend, logger: logger, flights: make(map[string]*flight)}
}

func (c *Cache) Backend() Backend {
	return c.backend
}

type loadResult struct {
	tensor     model.Tensor4
	hit        bool
	persistErr error
}

// LoadOrCompute returns the stored tensor for key or computes and stores it. A stored
// tensor is returned as is, without checking it against reactions. When the computed
// tensor cannot be stored it is still returned, together with an error wrapping ErrPersist.
// Concurrent calls for one key share a single load or computation. A caller whose
// ctx ends stops waiting; the shared work is cancelled only when every caller has.
func (c *Cache) LoadOrCompute(ctx context.Context, key model.CacheKey, reactions []int, compute ComputeFunc) (model.Tensor4, bool, error) {
	if err := ValidateKey(key); err != nil {
		return model.Tensor4{}, false, err
	}
	if compute == nil {
		return model.Tensor4{}, false, errors.New("compute function is required")
	}
	if err := ctx.Err(); err != nil {
		return model.Tensor4{}, false, err
	}

	name := key.String()
	f := c.join(ctx, name)
	ch := c.group.DoChan(name, func() (any, error) {
		return c.loadOrCompute(f.ctx, key, reactions, compute)
	})

	select {
	case <-ctx.Done():
		c.leave(name, f, false)
		return model.Tensor4{}, false, ctx.Err()
	case r := <-ch:
		c.leave(name, f, true)
		if r.Err != nil {
			return model.Tensor4{}, false, r.Err
		}
		res := r.Val.(loadResult)
		tensor := res.tensor
		if r.Shared {
			tensor = tensor.Clone()
		}
		return tensor, res.hit, res.persistErr
	}
}

func (c *Cache) loadOrCompute(ctx context.Context, key model.CacheKey, reactions []int, compute ComputeFunc) (any, error) {
	tensor, ok, err := c.backend.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	if ok {
		if tensor.Dims[1] != len(reactions) {
			c.logger.Warn("cached tensor reaction axis differs from requested reactions",
				"key", key.String(), "cached", tensor.Dims[1], "requested", len(reactions))
		}
		c.logger.Debug("coefficient cache hit", "key", key.String(), "backend", c.backend.Name())
		return loadResult{tensor: tensor, hit: true}, nil
	}

	c.logger.Info("coefficient cache miss", "key", key.String(), "backend", c.backend.Name())
	tensor, err = compute(ctx, reactions)
	if err != nil {
		return nil, err
	}
	res := loadResult{tensor: tensor}
	if err := c.backend.Save(ctx, key, tensor); err != nil {
		c.logger.Warn("coefficient cache write failed", "key", key.String(), "error", err)
		res.persistErr = fmt.Errorf("%w: %s: %v", ErrPersist, key, err)
	}
	return res, nil
}

func (c *Cache) join(ctx context.Context, name string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flights == nil {
		c.flights = make(map[string]*flight)
	}
	f, ok := c.flights[name]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		c.flights[name] = f
	}
	f.waiters++
	return f
}

// leave drops one waiter. When the last waiter of an unfinished flight gives up, the
// flight is cancelled and forgotten so the next caller starts fresh work instead of
// joining a cancelled one.
func (c *Cache) leave(name string, f *flight, finished bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	if c.flights[name] == f {
		delete(c.flights, name)
	}
	if !finished {
		c.group.Forget(name)
	}
	f.cancel()
}

func (c *Cache) Invalidate(ctx context.Context, key model.CacheKey) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	c.group.Forget(key.String())
	return c.backend.Delete(ctx, key)
}

func (c *Cache) Info(ctx context.Context, key model.CacheKey) (Entry, error) {
	if err := ValidateKey(key); err != nil {
		return Entry{}, err
	}
	return c.backend.Stat(ctx, key)
}

// ValidateKey rejects keys that are empty or could escape the cache root.
func ValidateKey(key model.CacheKey) error {
	for _, part := range []string{key.Model, key.Metric} {
		switch {
		case strings.TrimSpace(part) == "":
			return fmt.Errorf("%w: empty component in %q", ErrInvalidKey, key.String())
		case part == "." || part == "..", strings.ContainsAny(part, `/\`):
			return fmt.Errorf("%w: %q", ErrInvalidKey, part)
		}
	}
	return nil
}
