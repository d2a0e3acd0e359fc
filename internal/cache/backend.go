package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"reactsens/internal/model"
	"reactsens/internal/storage"
)

const tensorFile = "sc.npy"

// FileBackend keeps each tensor at
// <root>/<model>/sensitivity_coefficients/reaction/<metric>/sc.npy.
type FileBackend struct {
	Root string
}

func NewFileBackend(root string) *FileBackend {
	return &FileBackend{Root: root}
}

func (b *FileBackend) Name() string { return "file" }

func (b *FileBackend) Path(key model.CacheKey) string {
	return filepath.Join(b.Root, key.Model, "sensitivity_coefficients", "reaction", key.Metric, tensorFile)
}

func (b *FileBackend) Load(_ context.Context, key model.CacheKey) (model.Tensor4, bool, error) {
	file, err := os.Open(b.Path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return model.Tensor4{}, false, nil
		}
		return model.Tensor4{}, false, err
	}
	defer file.Close()
	tensor, err := storage.ReadTensor(file)
	if err != nil {
		return model.Tensor4{}, false, fmt.Errorf("%s: %w", b.Path(key), err)
	}
	return tensor, true, nil
}

// Save writes a temp file in the target directory, syncs it and renames it into
// place so a reader sees either the old or the new tensor.
func (b *FileBackend) Save(_ context.Context, key model.CacheKey, tensor model.Tensor4) error {
	if err := tensor.Validate(); err != nil {
		return err
	}
	path := b.Path(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tensorFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating cache temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if err := storage.WriteTensor(tmp, tensor); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing cache temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing cache temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing cache temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming cache file: %w", err)
	}
	return nil
}

func (b *FileBackend) Delete(_ context.Context, key model.CacheKey) error {
	if err := os.Remove(b.Path(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (b *FileBackend) Stat(ctx context.Context, key model.CacheKey) (Entry, error) {
	entry := Entry{Key: key, Backend: b.Name(), Location: b.Path(key)}
	info, err := os.Stat(entry.Location)
	if err != nil {
		if os.IsNotExist(err) {
			return entry, nil
		}
		return entry, err
	}
	tensor, ok, err := b.Load(ctx, key)
	if err != nil {
		return entry, err
	}
	entry.Exists = ok
	entry.Size = info.Size()
	entry.Dims = tensor.Dims
	return entry, nil
}

// StoreBackend keeps tensors in a storage.Store.
type StoreBackend struct {
	Store storage.Store
}

func NewStoreBackend(store storage.Store) *StoreBackend {
	return &StoreBackend{Store: store}
}

func (b *StoreBackend) Name() string { return "store" }

func (b *StoreBackend) Load(ctx context.Context, key model.CacheKey) (model.Tensor4, bool, error) {
	return b.Store.GetCoefficients(ctx, key)
}

func (b *StoreBackend) Save(ctx context.Context, key model.CacheKey, tensor model.Tensor4) error {
	return b.Store.SaveCoefficients(ctx, key, tensor)
}

func (b *StoreBackend) Delete(ctx context.Context, key model.CacheKey) error {
	return b.Store.DeleteCoefficients(ctx, key)
}

func (b *StoreBackend) Stat(ctx context.Context, key model.CacheKey) (Entry, error) {
	entry := Entry{Key: key, Backend: b.Name(), Location: "store:" + key.String()}
	tensor, ok, err := b.Store.GetCoefficients(ctx, key)
	if err != nil || !ok {
		return entry, err
	}
	data, err := storage.EncodeTensor(tensor)
	if err != nil {
		return entry, err
	}
	entry.Exists = true
	entry.Size = int64(len(data))
	entry.Dims = tensor.Dims
	return entry, nil
}

// NewBackend selects a backend by name: "file" (default) or "store".
func NewBackend(kind, root string, store storage.Store) (Backend, error) {
	switch kind {
	case "", "file":
		return NewFileBackend(root), nil
	case "store":
		if store == nil {
			return nil, fmt.Errorf("store cache backend requires a store")
		}
		return NewStoreBackend(store), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", kind)
	}
}
