package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"reactsens/internal/model"
)

type MemoryStore struct {
	mu           sync.RWMutex
	initialized  bool
	paramSets    map[string]map[int]model.ParameterSetRecord
	coefficients map[model.CacheKey]model.Tensor4
	runs         map[string]model.RunRecord
	runOrder     []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.paramSets = make(map[string]map[int]model.ParameterSetRecord)
	s.coefficients = make(map[model.CacheKey]model.Tensor4)
	s.runs = make(map[string]model.RunRecord)
	s.runOrder = nil
	return nil
}

func (s *MemoryStore) SaveParameterSet(_ context.Context, record model.ParameterSetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	sets, ok := s.paramSets[record.Model]
	if !ok {
		sets = make(map[int]model.ParameterSetRecord)
		s.paramSets[record.Model] = sets
	}
	record.Set = record.Set.Clone()
	sets[record.Set.Index] = record
	return nil
}

func (s *MemoryStore) GetParameterSet(_ context.Context, modelName string, index int) (model.ParameterSetRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.paramSets[modelName][index]
	if !ok {
		return model.ParameterSetRecord{}, false, nil
	}
	record.Set = record.Set.Clone()
	return record, true, nil
}

func (s *MemoryStore) ListParameterSets(_ context.Context, modelName string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	indices := make([]int, 0, len(s.paramSets[modelName]))
	for idx := range s.paramSets[modelName] {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices, nil
}

func (s *MemoryStore) SaveCoefficients(_ context.Context, key model.CacheKey, tensor model.Tensor4) error {
	if err := tensor.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.coefficients[key] = tensor.Clone()
	return nil
}

func (s *MemoryStore) GetCoefficients(_ context.Context, key model.CacheKey) (model.Tensor4, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tensor, ok := s.coefficients[key]
	if !ok {
		return model.Tensor4{}, false, nil
	}
	return tensor.Clone(), true, nil
}

func (s *MemoryStore) DeleteCoefficients(_ context.Context, key model.CacheKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.coefficients, key)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, record model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	if record.RunID == "" {
		return errors.New("run id is required")
	}
	if _, ok := s.runs[record.RunID]; !ok {
		s.runOrder = append(s.runOrder, record.RunID)
	}
	s.runs[record.RunID] = record
	return nil
}

// ListRuns returns runs of modelName (all models when empty) newest first.
func (s *MemoryStore) ListRuns(_ context.Context, modelName string) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RunRecord, 0, len(s.runOrder))
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		record := s.runs[s.runOrder[i]]
		if modelName != "" && record.Model != modelName {
			continue
		}
		out = append(out, record)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAtUTC > out[j].CreatedAtUTC
	})
	return out, nil
}

var errNotInitialized = errors.New("store is not initialized")
