// Package paramsets loads the accepted parameter sets of an external parameter search.
package paramsets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"reactsens/internal/model"
	"reactsens/internal/simulation"
	"reactsens/internal/storage"
)

const BestFitFile = "best_fit.yaml"

var ErrNoParameterSets = errors.New("no accepted parameter sets")

// Source enumerates accepted parameter sets. Load returns fresh slices on every call.
type Source interface {
	List(ctx context.Context) ([]int, error)
	Load(ctx context.Context, index int) (model.ParameterSet, error)
}

// BestFit is the on-disk form of one accepted solution. Values are keyed by name and
// applied on top of the model defaults.
type BestFit struct {
	Parameters map[string]float64 `yaml:"parameters"`
	Initial    map[string]float64 `yaml:"initial,omitempty"`
	Objective  *float64           `yaml:"objective,omitempty"`
}

// OutDir is where a model's optimization runs live: <root>/<model>/out.
func OutDir(root, modelName string) string {
	return filepath.Join(root, modelName, "out")
}

// DirSource reads <dir>/<n>/best_fit.yaml. Only numbered directories that contain a
// best-fit file count as accepted.
type DirSource struct {
	Dir    string
	Search simulation.SearchParam
}

func NewDirSource(root, modelName string, search simulation.SearchParam) *DirSource {
	return &DirSource{Dir: OutDir(root, modelName), Search: search}
}

func (s *DirSource) List(ctx context.Context) ([]int, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []int{}, nil
		}
		return nil, err
	}
	indices := make([]int, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() {
			continue
		}
		n, err := strconv.Atoi(entry.Name())
		if err != nil || n < 0 {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.Dir, entry.Name(), BestFitFile)); err != nil {
			continue
		}
		indices = append(indices, n)
	}
	sort.Ints(indices)
	return indices, nil
}

func (s *DirSource) Load(_ context.Context, index int) (model.ParameterSet, error) {
	fit, err := ReadBestFit(filepath.Join(s.Dir, strconv.Itoa(index), BestFitFile))
	if err != nil {
		return model.ParameterSet{}, err
	}
	x, y0, err := s.Search.Update(fit.Parameters, fit.Initial)
	if err != nil {
		return model.ParameterSet{}, fmt.Errorf("parameter set %d: %w", index, err)
	}
	return model.ParameterSet{Index: index, Parameters: x, Initial: y0}, nil
}

func ReadBestFit(path string) (BestFit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BestFit{}, err
	}
	var fit BestFit
	if err := yaml.Unmarshal(data, &fit); err != nil {
		return BestFit{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return fit, nil
}

func WriteBestFit(path string, fit BestFit) error {
	data, err := yaml.Marshal(fit)
	if err != nil {
		return fmt.Errorf("marshaling best fit: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// StoreSource reads parameter sets persisted in a storage.Store.
type StoreSource struct {
	Store storage.Store
	Model string
}

func (s *StoreSource) List(ctx context.Context) ([]int, error) {
	return s.Store.ListParameterSets(ctx, s.Model)
}

func (s *StoreSource) Load(ctx context.Context, index int) (model.ParameterSet, error) {
	record, ok, err := s.Store.GetParameterSet(ctx, s.Model, index)
	if err != nil {
		return model.ParameterSet{}, err
	}
	if !ok {
		return model.ParameterSet{}, fmt.Errorf("parameter set %s/%d not found", s.Model, index)
	}
	return record.Set.Clone(), nil
}

// StaticSource serves parameter sets held in memory.
type StaticSource struct {
	Sets []model.ParameterSet
}

func (s *StaticSource) List(_ context.Context) ([]int, error) {
	indices := make([]int, 0, len(s.Sets))
	for _, set := range s.Sets {
		indices = append(indices, set.Index)
	}
	return indices, nil
}

func (s *StaticSource) Load(_ context.Context, index int) (model.ParameterSet, error) {
	for _, set := range s.Sets {
		if set.Index == index {
			return set.Clone(), nil
		}
	}
	return model.ParameterSet{}, fmt.Errorf("parameter set %d not found", index)
}

// Import copies every set of src into store under modelName.
func Import(ctx context.Context, src Source, store storage.Store, modelName string) (int, error) {
	indices, err := src.List(ctx)
	if err != nil {
		return 0, err
	}
	for i, idx := range indices {
		set, err := src.Load(ctx, idx)
		if err != nil {
			return i, err
		}
		record := model.ParameterSetRecord{
			VersionedRecord: storage.Stamp(model.VersionedRecord{}),
			Model:           modelName,
			Set:             set,
		}
		if err := store.SaveParameterSet(ctx, record); err != nil {
			return i, err
		}
	}
	return len(indices), nil
}
