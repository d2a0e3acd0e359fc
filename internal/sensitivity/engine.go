// Package sensitivity computes local reaction sensitivity coefficients by perturbing
// one reaction rate at a time across every accepted parameter set.
package sensitivity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"reactsens/internal/logging"
	"reactsens/internal/metric"
	"reactsens/internal/model"
	"reactsens/internal/paramsets"
	"reactsens/internal/simulation"
)

type Config struct {
	Observable simulation.Observable
	Simulation simulation.NumericalSimulation
	Source     paramsets.Source
	// Workers bounds how many parameter sets are simulated concurrently.
	Workers  int
	Progress Progress
	Logger   *slog.Logger
}

type Engine struct {
	cfg Config
}

func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Observable == nil:
		return nil, errors.New("observable role is required")
	case cfg.Simulation == nil:
		return nil, errors.New("simulation role is required")
	case cfg.Source == nil:
		return nil, errors.New("parameter set source is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Progress == nil {
		cfg.Progress = nopProgress{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Engine{cfg: cfg}, nil
}

// Compute returns the [P, R, O, C] coefficient tensor for kind over reactions.
func (e *Engine) Compute(ctx context.Context, kind metric.Kind, reactions []int) (model.Tensor4, error) {
	metrics, err := e.SignalingMetrics(ctx, kind, reactions)
	if err != nil {
		return model.Tensor4{}, err
	}
	return Coefficients(metrics, PerturbationRatio)
}

// SignalingMetrics returns the [P, R+1, O, C] metric tensor. Slot r < R holds the metric
// with reaction reactions[r] scaled by PerturbationRatio; slot R holds the baseline.
// Simulation failures become NaN cells. Only context errors and parameter set load
// errors abort the sweep.
func (e *Engine) SignalingMetrics(ctx context.Context, kind metric.Kind, reactions []int) (model.Tensor4, error) {
	if _, err := metric.ParseKind(string(kind)); err != nil {
		return model.Tensor4{}, err
	}
	if err := validateReactions(reactions); err != nil {
		return model.Tensor4{}, err
	}
	indices, err := e.cfg.Source.List(ctx)
	if err != nil {
		return model.Tensor4{}, fmt.Errorf("listing parameter sets: %w", err)
	}
	if len(indices) == 0 {
		return model.Tensor4{}, paramsets.ErrNoParameterSets
	}

	obs := len(e.cfg.Observable.Observables())
	conds := len(e.cfg.Observable.Conditions())
	if obs == 0 || conds == 0 {
		return model.Tensor4{}, fmt.Errorf("%w: model has %d observables and %d conditions", model.ErrDimensionMismatch, obs, conds)
	}
	nReactions := len(reactions)
	tensor := model.NewTensor4(len(indices), nReactions+1, obs, conds)

	started := time.Now()
	e.cfg.Logger.Info("sensitivity sweep started",
		"metric", string(kind), "parameter_sets", len(indices), "reactions", nReactions, "workers", e.cfg.Workers)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	progress := &tracker{sink: e.cfg.Progress, logger: e.cfg.Logger, total: len(indices) * nReactions}

	type job struct {
		pos   int
		index int
	}
	type result struct {
		pos int
		err error
	}

	jobs := make(chan job)
	results := make(chan result, len(indices))

	workerCount := e.cfg.Workers
	if workerCount > len(indices) {
		workerCount = len(indices)
	}

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := ctx.Err(); err != nil {
					results <- result{pos: j.pos, err: err}
					continue
				}
				set, err := e.cfg.Source.Load(ctx, j.index)
				if err != nil {
					cancel()
					results <- result{pos: j.pos, err: fmt.Errorf("loading parameter set %d: %w", j.index, err)}
					continue
				}
				if err := e.sweepSet(ctx, kind, set, reactions, tensor, j.pos, progress); err != nil {
					cancel()
					results <- result{pos: j.pos, err: err}
					continue
				}
				results <- result{pos: j.pos}
			}
		}()
	}

	for pos, idx := range indices {
		jobs <- job{pos: pos, index: idx}
	}
	close(jobs)

	wg.Wait()
	close(results)

	var firstErr error
	for res := range results {
		if res.err == nil {
			continue
		}
		// Prefer the root cause over the cancellations it triggered.
		if firstErr == nil || (isContextErr(firstErr) && !isContextErr(res.err)) {
			firstErr = res.err
		}
	}
	if firstErr != nil {
		return model.Tensor4{}, firstErr
	}

	e.cfg.Logger.Info("sensitivity sweep finished",
		"metric", string(kind), "elapsed", time.Since(started).Round(time.Millisecond), "nan_metrics", CountNaN(tensor))
	return tensor, nil
}

// sweepSet fills slot pos of tensor, a region no other worker writes. Every simulation
// gets its own perturbation map.
func (e *Engine) sweepSet(
	ctx context.Context,
	kind metric.Kind,
	set model.ParameterSet,
	reactions []int,
	tensor model.Tensor4,
	pos int,
	progress *tracker,
) error {
	nReactions := len(reactions)
	for i, r := range reactions {
		perturbation := simulation.Neutral(reactions)
		perturbation[r] = PerturbationRatio
		if err := e.simulateInto(ctx, kind, set, perturbation, tensor, pos, i); err != nil {
			return err
		}
		progress.step()
	}
	return e.simulateInto(ctx, kind, set, simulation.Neutral(reactions), tensor, pos, nReactions)
}

func (e *Engine) simulateInto(
	ctx context.Context,
	kind metric.Kind,
	set model.ParameterSet,
	perturbation simulation.Perturbation,
	tensor model.Tensor4,
	pos, slot int,
) error {
	res, err := e.cfg.Simulation.Simulate(ctx, set.Parameters, set.Initial, perturbation)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if isContextErr(err) {
			return err
		}
		e.cfg.Logger.Debug("simulation failed; metrics set to NaN",
			"parameter_set", set.Index, "slot", slot, "error", err)
		return nil
	}
	obs, conds := tensor.Dims[2], tensor.Dims[3]
	if res.Observables() != obs || res.Conditions() != conds {
		return fmt.Errorf("%w: simulation returned %dx%d traces, want %dx%d",
			model.ErrDimensionMismatch, res.Observables(), res.Conditions(), obs, conds)
	}
	for o := 0; o < obs; o++ {
		for c := 0; c < conds; c++ {
			v, err := metric.Extract(kind, res.Times, res.Trace(o, c))
			if err != nil {
				return err
			}
			if math.IsInf(v, 0) {
				v = math.NaN()
			}
			tensor.Set(pos, slot, o, c, v)
		}
	}
	return nil
}

func validateReactions(reactions []int) error {
	if len(reactions) == 0 {
		return fmt.Errorf("%w: no reactions to perturb", model.ErrInvalidGrouping)
	}
	seen := make(map[int]bool, len(reactions))
	for _, r := range reactions {
		if r < 0 {
			return fmt.Errorf("%w: negative reaction index %d", model.ErrInvalidGrouping, r)
		}
		if seen[r] {
			return fmt.Errorf("%w: reaction %d listed twice", model.ErrInvalidGrouping, r)
		}
		seen[r] = true
	}
	return nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
