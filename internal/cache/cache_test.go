package cache

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reactsens/internal/model"
	"reactsens/internal/storage"
)

func fixedTensor(reactions []int) model.Tensor4 {
	tensor := model.NewTensor4(2, len(reactions), 1, 1)
	for i := range tensor.Data {
		tensor.Data[i] = float64(i) * 0.25
	}
	tensor.Set(1, 0, 0, 0, math.NaN())
	return tensor
}

func countingCompute(calls *int32) ComputeFunc {
	return func(_ context.Context, reactions []int) (model.Tensor4, error) {
		atomic.AddInt32(calls, 1)
		return fixedTensor(reactions), nil
	}
}

func TestLoadOrComputeComputesOnceThenHits(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	c := New(NewFileBackend(root), nil)
	key := model.CacheKey{Model: "m", Metric: "amplitude"}
	reactions := []int{0, 1, 2}

	var calls int32
	first, hit, err := c.LoadOrCompute(ctx, key, reactions, countingCompute(&calls))
	if err != nil || hit {
		t.Fatalf("first call: hit=%t err=%v", hit, err)
	}
	if _, err := os.Stat(filepath.Join(root, "m", "sensitivity_coefficients", "reaction", "amplitude", "sc.npy")); err != nil {
		t.Fatalf("expected cache artifact: %v", err)
	}

	second, hit, err := New(NewFileBackend(root), nil).LoadOrCompute(ctx, key, reactions, countingCompute(&calls))
	if err != nil || !hit {
		t.Fatalf("second call: hit=%t err=%v", hit, err)
	}
	if calls != 1 {
		t.Fatalf("expected one computation, got %d", calls)
	}
	if !second.Equal(first) {
		t.Fatalf("cached tensor differs: %v vs %v", second.Data, first.Data)
	}
}

func TestLoadOrComputeHitIgnoresReactionShape(t *testing.T) {
	ctx := context.Background()
	c := New(NewFileBackend(t.TempDir()), nil)
	key := model.CacheKey{Model: "m", Metric: "integral"}

	var calls int32
	stored, _, err := c.LoadOrCompute(ctx, key, []int{0, 1}, countingCompute(&calls))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	got, hit, err := c.LoadOrCompute(ctx, key, []int{0, 1, 2, 3, 4}, countingCompute(&calls))
	if err != nil || !hit {
		t.Fatalf("expected hit, hit=%t err=%v", hit, err)
	}
	if !got.Equal(stored) || got.Dims[1] != 2 {
		t.Fatalf("hit must return stored tensor verbatim, got dims %v", got.Dims)
	}
}

func TestLoadOrComputeConcurrentCallersShareComputation(t *testing.T) {
	ctx := context.Background()
	c := New(NewFileBackend(t.TempDir()), nil)
	key := model.CacheKey{Model: "m", Metric: "duration"}

	var calls int32
	release := make(chan struct{})
	compute := func(_ context.Context, reactions []int) (model.Tensor4, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return fixedTensor(reactions), nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]model.Tensor4, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = c.LoadOrCompute(ctx, key, []int{0}, compute)
		}(i)
	}
	close(release)
	wg.Wait()

	if calls != 1 {
		t.Fatalf("expected one computation, got %d", calls)
	}
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if !results[i].Equal(results[0]) {
			t.Fatalf("caller %d got a different tensor", i)
		}
	}
}

func waitForWaiters(t *testing.T, c *Cache, name string, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		f := c.flights[name]
		ok := f != nil && f.waiters >= n
		c.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d callers on %s", n, name)
}

func TestLoadOrComputeCancelledCallerLeavesOthersRunning(t *testing.T) {
	c := New(NewFileBackend(t.TempDir()), nil)
	key := model.CacheKey{Model: "m", Metric: "amplitude"}

	var calls int32
	var once sync.Once
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context, reactions []int) (model.Tensor4, error) {
		atomic.AddInt32(&calls, 1)
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			return model.Tensor4{}, err
		}
		return fixedTensor(reactions), nil
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := c.LoadOrCompute(firstCtx, key, []int{0, 1}, compute)
		firstErr <- err
	}()
	<-started

	type outcome struct {
		tensor model.Tensor4
		err    error
	}
	second := make(chan outcome, 1)
	go func() {
		tensor, _, err := c.LoadOrCompute(context.Background(), key, []int{0, 1}, compute)
		second <- outcome{tensor: tensor, err: err}
	}()
	waitForWaiters(t, c, key.String(), 2)

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller: expected context.Canceled, got %v", err)
	}

	close(release)
	got := <-second
	if got.err != nil {
		t.Fatalf("caller with live context failed: %v", got.err)
	}
	if got.tensor.Dims[1] != 2 {
		t.Fatalf("unexpected tensor dims %v", got.tensor.Dims)
	}
	if calls != 1 {
		t.Fatalf("expected one computation, got %d", calls)
	}
}

func TestLoadOrComputeCancelsSharedWorkWhenEveryCallerLeaves(t *testing.T) {
	c := New(NewFileBackend(t.TempDir()), nil)
	key := model.CacheKey{Model: "m", Metric: "integral"}

	started := make(chan struct{})
	stopped := make(chan error, 1)
	blocking := func(ctx context.Context, _ []int) (model.Tensor4, error) {
		close(started)
		<-ctx.Done()
		stopped <- ctx.Err()
		return model.Tensor4{}, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := c.LoadOrCompute(ctx, key, []int{0}, blocking)
		done <- err
	}()
	<-started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	select {
	case err := <-stopped:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("shared computation saw %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("shared computation was not cancelled")
	}

	var calls int32
	tensor, hit, err := c.LoadOrCompute(context.Background(), key, []int{0}, countingCompute(&calls))
	if err != nil || hit || calls != 1 || tensor.Dims[1] != 1 {
		t.Fatalf("expected a fresh computation, hit=%t calls=%d err=%v", hit, calls, err)
	}
}

func tempFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, tensorFile+".*.tmp"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	return matches
}

func TestFileBackendFailedSaveKeepsPreviousArtifact(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced for root")
	}
	ctx := context.Background()
	backend := NewFileBackend(t.TempDir())
	key := model.CacheKey{Model: "m", Metric: "amplitude"}
	previous := fixedTensor([]int{0, 1})
	if err := backend.Save(ctx, key, previous); err != nil {
		t.Fatalf("save: %v", err)
	}

	dir := filepath.Dir(backend.Path(key))
	fresh := model.CacheKey{Model: "m", Metric: "integral"}
	freshDir := filepath.Dir(backend.Path(fresh))
	if err := os.MkdirAll(freshDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, d := range []string{dir, freshDir} {
		if err := os.Chmod(d, 0o555); err != nil {
			t.Fatalf("chmod: %v", err)
		}
		d := d
		t.Cleanup(func() { os.Chmod(d, 0o755) })
	}

	replacement := fixedTensor([]int{0, 1, 2})
	if err := backend.Save(ctx, key, replacement); err == nil {
		t.Fatal("expected save into read-only directory to fail")
	}
	loaded, ok, err := backend.Load(ctx, key)
	if err != nil || !ok || !loaded.Equal(previous) {
		t.Fatalf("previous artifact changed: ok=%t err=%v dims=%v", ok, err, loaded.Dims)
	}
	if left := tempFiles(t, dir); len(left) != 0 {
		t.Fatalf("temp files left behind: %v", left)
	}

	var calls int32
	tensor, hit, err := New(backend, nil).LoadOrCompute(ctx, fresh, []int{0, 1}, countingCompute(&calls))
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("expected ErrPersist, got %v", err)
	}
	if hit || calls != 1 || !tensor.Equal(fixedTensor([]int{0, 1})) {
		t.Fatalf("expected computed tensor alongside error, hit=%t calls=%d", hit, calls)
	}
	if _, err := os.Stat(backend.Path(fresh)); !os.IsNotExist(err) {
		t.Fatalf("no artifact expected after failed save, stat err=%v", err)
	}
	if left := tempFiles(t, freshDir); len(left) != 0 {
		t.Fatalf("temp files left behind: %v", left)
	}
}

func TestFileBackendFailedRenameRemovesTempFile(t *testing.T) {
	ctx := context.Background()
	backend := NewFileBackend(t.TempDir())
	key := model.CacheKey{Model: "m", Metric: "duration"}
	path := backend.Path(key)
	// A non-empty directory at the artifact path makes the final rename fail.
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(path, "keep"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := backend.Save(ctx, key, fixedTensor([]int{0})); err == nil {
		t.Fatal("expected rename onto a directory to fail")
	}
	if left := tempFiles(t, filepath.Dir(path)); len(left) != 0 {
		t.Fatalf("temp files left behind: %v", left)
	}
	if _, err := os.Stat(filepath.Join(path, "keep")); err != nil {
		t.Fatalf("existing entry disturbed: %v", err)
	}
}

type failingSaveBackend struct {
	*FileBackend
}

func (failingSaveBackend) Save(context.Context, model.CacheKey, model.Tensor4) error {
	return errors.New("disk full")
}

func TestLoadOrComputeReturnsTensorWhenPersistFails(t *testing.T) {
	c := New(failingSaveBackend{NewFileBackend(t.TempDir())}, nil)

	var calls int32
	tensor, hit, err := c.LoadOrCompute(context.Background(), model.CacheKey{Model: "m", Metric: "amplitude"}, []int{0, 1}, countingCompute(&calls))
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("expected ErrPersist, got %v", err)
	}
	if hit || tensor.Dims[1] != 2 || len(tensor.Data) != tensor.Len() {
		t.Fatalf("expected computed tensor alongside error, got dims %v", tensor.Dims)
	}
}

func TestLoadOrComputeCorruptArtifactIsFatal(t *testing.T) {
	root := t.TempDir()
	backend := NewFileBackend(root)
	key := model.CacheKey{Model: "m", Metric: "amplitude"}
	path := backend.Path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	var calls int32
	_, _, err := New(backend, nil).LoadOrCompute(context.Background(), key, []int{0}, countingCompute(&calls))
	if !errors.Is(err, storage.ErrCorruptTensor) {
		t.Fatalf("expected ErrCorruptTensor, got %v", err)
	}
	if calls != 0 {
		t.Fatal("corrupt artifact must not trigger recomputation")
	}
}

func TestLoadOrComputePropagatesComputeError(t *testing.T) {
	c := New(NewFileBackend(t.TempDir()), nil)
	wantErr := errors.New("boom")
	_, _, err := c.LoadOrCompute(context.Background(), model.CacheKey{Model: "m", Metric: "x"}, []int{0},
		func(context.Context, []int) (model.Tensor4, error) { return model.Tensor4{}, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected compute error, got %v", err)
	}
}

func TestInvalidateAndInfo(t *testing.T) {
	ctx := context.Background()
	c := New(NewFileBackend(t.TempDir()), nil)
	key := model.CacheKey{Model: "m", Metric: "amplitude"}

	entry, err := c.Info(ctx, key)
	if err != nil || entry.Exists {
		t.Fatalf("expected missing entry, got %+v err=%v", entry, err)
	}

	var calls int32
	if _, _, err := c.LoadOrCompute(ctx, key, []int{0, 1}, countingCompute(&calls)); err != nil {
		t.Fatalf("compute: %v", err)
	}
	entry, err = c.Info(ctx, key)
	if err != nil || !entry.Exists || entry.Size == 0 || entry.Dims[1] != 2 {
		t.Fatalf("unexpected entry: %+v err=%v", entry, err)
	}

	if err := c.Invalidate(ctx, key); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, hit, err := c.LoadOrCompute(ctx, key, []int{0, 1}, countingCompute(&calls)); err != nil || hit {
		t.Fatalf("expected recompute after invalidate, hit=%t err=%v", hit, err)
	}
	if calls != 2 {
		t.Fatalf("expected two computations, got %d", calls)
	}
}

func TestStoreBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	backend, err := NewBackend("store", "", store)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	c := New(backend, nil)
	key := model.CacheKey{Model: "m", Metric: "integral"}

	var calls int32
	first, _, err := c.LoadOrCompute(ctx, key, []int{3, 4}, countingCompute(&calls))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	second, hit, err := c.LoadOrCompute(ctx, key, []int{3, 4}, countingCompute(&calls))
	if err != nil || !hit || !second.Equal(first) {
		t.Fatalf("expected store hit with equal tensor, hit=%t err=%v", hit, err)
	}
	entry, err := c.Info(ctx, key)
	if err != nil || !entry.Exists || entry.Backend != "store" {
		t.Fatalf("unexpected entry: %+v err=%v", entry, err)
	}
}

func TestValidateKeyRejectsTraversal(t *testing.T) {
	for _, key := range []model.CacheKey{
		{Model: "", Metric: "amplitude"},
		{Model: "m", Metric: "../x"},
		{Model: "..", Metric: "amplitude"},
	} {
		if err := ValidateKey(key); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("key %+v: expected ErrInvalidKey, got %v", key, err)
		}
	}
	if _, err := NewBackend("redis", "", nil); err == nil {
		t.Fatal("expected unsupported backend error")
	}
}
