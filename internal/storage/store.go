package storage

import (
	"context"

	"reactsens/internal/model"
)

// Store defines persistence for accepted parameter sets, coefficient tensors and run records.
type Store interface {
	Init(ctx context.Context) error
	SaveParameterSet(ctx context.Context, record model.ParameterSetRecord) error
	GetParameterSet(ctx context.Context, modelName string, index int) (model.ParameterSetRecord, bool, error)
	ListParameterSets(ctx context.Context, modelName string) ([]int, error)
	SaveCoefficients(ctx context.Context, key model.CacheKey, tensor model.Tensor4) error
	GetCoefficients(ctx context.Context, key model.CacheKey) (model.Tensor4, bool, error)
	DeleteCoefficients(ctx context.Context, key model.CacheKey) error
	SaveRun(ctx context.Context, record model.RunRecord) error
	ListRuns(ctx context.Context, modelName string) ([]model.RunRecord, error)
}
