package reactsens

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"reactsens/internal/cache"
	"reactsens/internal/catalog"
	"reactsens/internal/logging"
	"reactsens/internal/metric"
	"reactsens/internal/model"
	"reactsens/internal/paramsets"
	"reactsens/internal/report"
	"reactsens/internal/sensitivity"
	"reactsens/internal/stats"
	"reactsens/internal/storage"
)

const (
	defaultRoot    = "."
	defaultRunsDir = "runs"

	SourceDir   = "dir"
	SourceStore = "store"
)

type Options struct {
	Root         string
	RunsDir      string
	StoreKind    string
	DBPath       string
	CacheBackend string
	Workers      int
	// Step overrides the integrator step of built-in models when positive.
	Step float64
	// Visualization fields that are set override every model's chart options.
	Visualization    report.Options
	HeatmapNormalize bool
	Logger           *slog.Logger
}

type Client struct {
	mu          sync.Mutex
	store       storage.Store
	initialized bool
	cache       *cache.Cache
	logger      *slog.Logger

	root      string
	runsDir   string
	workers   int
	step      float64
	viz       report.Options
	normalize bool
}

type AnalyzeRequest struct {
	Model  string
	Metric string
	// Style is "barplot", "heatmap" or "none"; empty means none.
	Style string
	// Source is "dir" (best-fit files under <root>/<model>/out) or "store".
	Source  string
	Workers int
	// Normalize overrides the client's heatmap row normalization when set.
	Normalize *bool
	// Recompute drops the cached coefficients before analyzing.
	Recompute bool
	Progress  sensitivity.Progress
}

type AnalyzeSummary struct {
	RunID         string
	Model         string
	Metric        string
	Style         string
	ParameterSets int
	Reactions     []int
	CacheHit      bool
	NaNCells      int
	Figures       []string
	Skipped       []string
	ArtifactsDir  string
	// Warning is set when the coefficients were computed but could not be cached.
	Warning string
}

type ModelItem struct {
	Name        string
	Description string
	Reactions   int
	Observables []string
	Conditions  []string
	Processes   []model.BiologicalProcess
}

type ParameterSetsRequest struct {
	Model  string
	Source string
}

type SynthRequest struct {
	Model  string
	Count  int
	Spread float64
	Seed   int64
	Start  int
}

type RunsRequest struct {
	Limit int
	Model string
	// FromStore lists run records kept in the store instead of the run index.
	FromStore bool
}

type RunItem struct {
	RunID         string
	CreatedAtUTC  string
	Model         string
	Metric        string
	Style         string
	ParameterSets int
	Reactions     int
	NaNCells      int
	CacheHit      bool
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = storage.DefaultSQLitePath
	}
	root := opts.Root
	if root == "" {
		root = defaultRoot
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = filepath.Join(root, defaultRunsDir)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	backend, err := cache.NewBackend(opts.CacheBackend, root, store)
	if err != nil {
		_ = storage.CloseIfSupported(store)
		return nil, err
	}

	return &Client{
		store:     store,
		cache:     cache.New(backend, logger),
		logger:    logger,
		root:      root,
		runsDir:   runsDir,
		workers:   workers,
		step:      opts.Step,
		viz:       opts.Visualization.Clone(),
		normalize: opts.HeatmapNormalize,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.ensureStore(ctx)
}

// Analyze computes (or loads) the sensitivity coefficients of one model and metric,
// then summarizes and renders them in the requested style.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeSummary, error) {
	kind, err := metric.ParseKind(req.Metric)
	if err != nil {
		return AnalyzeSummary{}, err
	}
	style, err := report.ParseStyle(req.Style)
	if err != nil {
		return AnalyzeSummary{}, err
	}
	m, err := catalog.Get(req.Model)
	if err != nil {
		return AnalyzeSummary{}, err
	}
	catalog.SetStep(m, c.step)

	observables := m.Observable.Observables()
	conditions := m.Observable.Conditions()
	reactions := m.Network.Group().Reactions()

	opts := report.DefaultOptions()
	if m.Visualization != nil {
		opts = m.Visualization.SensitivityOptions()
	}
	opts = opts.Merge(c.viz)
	if style != report.StyleNone {
		if err := opts.Validate(len(conditions)); err != nil {
			return AnalyzeSummary{}, err
		}
	}

	if err := c.ensureStore(ctx); err != nil {
		return AnalyzeSummary{}, err
	}
	source, err := c.source(req.Source, m)
	if err != nil {
		return AnalyzeSummary{}, err
	}
	workers := req.Workers
	if workers <= 0 {
		workers = c.workers
	}
	engine, err := sensitivity.New(sensitivity.Config{
		Observable: m.Observable,
		Simulation: m.Simulation,
		Source:     source,
		Workers:    workers,
		Progress:   req.Progress,
		Logger:     c.logger.With("model", m.Name),
	})
	if err != nil {
		return AnalyzeSummary{}, err
	}

	key := model.CacheKey{Model: m.Name, Metric: string(kind)}
	if req.Recompute {
		if err := c.cache.Invalidate(ctx, key); err != nil {
			return AnalyzeSummary{}, err
		}
	}
	coeffs, hit, err := c.cache.LoadOrCompute(ctx, key, reactions, func(ctx context.Context, reactions []int) (model.Tensor4, error) {
		return engine.Compute(ctx, kind, reactions)
	})
	warning := ""
	if err != nil {
		if !errors.Is(err, cache.ErrPersist) {
			return AnalyzeSummary{}, err
		}
		warning = err.Error()
	}
	if coeffs.Dims[2] != len(observables) || coeffs.Dims[3] != len(conditions) {
		return AnalyzeSummary{}, fmt.Errorf("%w: coefficients for %s have %d observables and %d conditions, model has %d and %d",
			model.ErrDimensionMismatch, key, coeffs.Dims[2], coeffs.Dims[3], len(observables), len(conditions))
	}

	labels := reactions
	if coeffs.Dims[1] != len(reactions) {
		labels = make([]int, coeffs.Dims[1])
		for i := range labels {
			labels[i] = i
		}
	}

	now := time.Now().UTC()
	runID := uuid.NewString()
	normalize := c.normalize
	if req.Normalize != nil {
		normalize = *req.Normalize
	}
	nanCells := sensitivity.CountNaN(coeffs)

	artifacts := stats.AnalysisArtifacts{
		Config: stats.AnalysisConfig{
			RunID:         runID,
			Model:         m.Name,
			Metric:        string(kind),
			Style:         string(style),
			ParameterSets: coeffs.Dims[0],
			Reactions:     coeffs.Dims[1],
			Workers:       workers,
			Normalize:     normalize,
			CacheBackend:  c.cache.Backend().Name(),
			CacheHit:      hit,
		},
		Reactions:   append([]int(nil), labels...),
		Processes:   m.Network.Group(),
		Observables: observables,
		Conditions:  conditions,
		NaNCells:    nanCells,
	}
	summary := AnalyzeSummary{
		RunID:         runID,
		Model:         m.Name,
		Metric:        string(kind),
		Style:         string(style),
		ParameterSets: coeffs.Dims[0],
		Reactions:     append([]int(nil), labels...),
		CacheHit:      hit,
		NaNCells:      nanCells,
		Warning:       warning,
	}

	figureDir := FigureDir(c.root, m.Name, string(kind))
	switch style {
	case report.StyleBarplot:
		for o, name := range observables {
			obsSummary, err := stats.SummarizeObservable(coeffs, o)
			if errors.Is(err, stats.ErrNoCompleteRows) {
				c.logger.Warn("observable skipped; every parameter set has an undefined coefficient", "model", m.Name, "observable", name)
				artifacts.Barplots = append(artifacts.Barplots, stats.ObservableReport{Name: name, Skipped: err.Error()})
				summary.Skipped = append(summary.Skipped, name)
				continue
			}
			if err != nil {
				return AnalyzeSummary{}, err
			}
			artifacts.Barplots = append(artifacts.Barplots, stats.ObservableReport{Name: name, Summary: obsSummary})

			path := filepath.Join(figureDir, stats.FileSafe(name)+".png")
			err = report.WritePNG(path, func(w io.Writer) error {
				return report.RenderBarplot(w, opts, report.Barplot{
					Title:      name,
					Reactions:  labels,
					Conditions: conditions,
					Mean:       obsSummary.Mean,
				})
			})
			if errors.Is(err, report.ErrNothingToRender) {
				summary.Skipped = append(summary.Skipped, name)
				continue
			}
			if err != nil {
				return AnalyzeSummary{}, err
			}
			summary.Figures = append(summary.Figures, path)
		}
	case report.StyleHeatmap:
		for o, obsName := range observables {
			for cond, condName := range conditions {
				hm, err := stats.HeatmapMatrix(coeffs, o, cond, normalize)
				if err != nil {
					return AnalyzeSummary{}, err
				}
				entry := stats.HeatmapReport{ObservableName: obsName, ConditionName: condName, Heatmap: hm}
				label := condName + "_" + obsName
				if !hm.Renderable() {
					summary.Skipped = append(summary.Skipped, label)
					artifacts.Heatmaps = append(artifacts.Heatmaps, entry)
					continue
				}
				path := filepath.Join(figureDir, "heatmap", stats.FileSafe(label)+".png")
				if err := report.WritePNG(path, func(w io.Writer) error {
					return report.RenderHeatmap(w, opts, hm.Rows)
				}); err != nil {
					return AnalyzeSummary{}, err
				}
				entry.Rendered = true
				artifacts.Heatmaps = append(artifacts.Heatmaps, entry)
				summary.Figures = append(summary.Figures, path)
			}
		}
	}

	runDir, err := stats.WriteAnalysisArtifacts(c.runsDir, artifacts)
	if err != nil {
		return AnalyzeSummary{}, err
	}
	summary.ArtifactsDir = filepath.Clean(runDir)

	createdAt := now.Format(time.RFC3339Nano)
	if err := stats.AppendRunIndex(c.runsDir, stats.RunIndexEntry{
		RunID:         runID,
		Model:         m.Name,
		Metric:        string(kind),
		Style:         string(style),
		ParameterSets: coeffs.Dims[0],
		Reactions:     coeffs.Dims[1],
		NaNCells:      nanCells,
		CacheHit:      hit,
		CreatedAtUTC:  createdAt,
	}); err != nil {
		return AnalyzeSummary{}, err
	}
	if err := c.store.SaveRun(ctx, model.RunRecord{
		VersionedRecord: storage.Stamp(model.VersionedRecord{}),
		RunID:           runID,
		Model:           m.Name,
		Metric:          string(kind),
		Style:           string(style),
		ParameterSets:   coeffs.Dims[0],
		Reactions:       coeffs.Dims[1],
		NaNCells:        nanCells,
		CacheHit:        hit,
		CreatedAtUTC:    createdAt,
	}); err != nil {
		return AnalyzeSummary{}, err
	}

	c.logger.Info("analysis finished",
		"run_id", runID, "model", m.Name, "metric", string(kind), "style", string(style),
		"cache_hit", hit, "figures", len(summary.Figures), "nan_cells", nanCells)
	return summary, nil
}

// FigureDir is <root>/<model>/figure/sensitivity/reaction/<metric>.
func FigureDir(root, modelName, metricName string) string {
	return filepath.Join(root, modelName, "figure", "sensitivity", "reaction", metricName)
}

func (c *Client) Models() ([]ModelItem, error) {
	names := catalog.Names()
	out := make([]ModelItem, 0, len(names))
	for _, name := range names {
		m, err := catalog.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, ModelItem{
			Name:        m.Name,
			Description: m.Description,
			Reactions:   m.Network.ReactionCount(),
			Observables: m.Observable.Observables(),
			Conditions:  m.Observable.Conditions(),
			Processes:   m.Network.Group(),
		})
	}
	return out, nil
}

func (c *Client) ListParameterSets(ctx context.Context, req ParameterSetsRequest) ([]int, error) {
	m, err := catalog.Get(req.Model)
	if err != nil {
		return nil, err
	}
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	source, err := c.source(req.Source, m)
	if err != nil {
		return nil, err
	}
	return source.List(ctx)
}

// ImportParameterSets copies every accepted best-fit directory of modelName into the store.
func (c *Client) ImportParameterSets(ctx context.Context, modelName string) (int, error) {
	m, err := catalog.Get(modelName)
	if err != nil {
		return 0, err
	}
	if err := c.ensureStore(ctx); err != nil {
		return 0, err
	}
	n, err := paramsets.Import(ctx, paramsets.NewDirSource(c.root, m.Name, m.Search), c.store, m.Name)
	if err != nil {
		return n, err
	}
	c.logger.Info("parameter sets imported", "model", m.Name, "count", n)
	return n, nil
}

// SynthesizeParameterSets writes generated best-fit files under <root>/<model>/out.
func (c *Client) SynthesizeParameterSets(_ context.Context, req SynthRequest) ([]int, error) {
	m, err := catalog.Get(req.Model)
	if err != nil {
		return nil, err
	}
	if req.Spread == 0 {
		req.Spread = 0.1
	}
	written, err := paramsets.Synthesize(paramsets.OutDir(c.root, m.Name), m.Search, paramsets.SynthConfig{
		Count:  req.Count,
		Spread: req.Spread,
		Seed:   req.Seed,
		Start:  req.Start,
	})
	if err != nil {
		return written, err
	}
	c.logger.Info("parameter sets synthesized", "model", m.Name, "count", len(written))
	return written, nil
}

// CacheInfo reports the cached coefficients of modelName for every metric, or only
// metricName when set.
func (c *Client) CacheInfo(ctx context.Context, modelName, metricName string) ([]cache.Entry, error) {
	kinds, err := metricsFor(metricName)
	if err != nil {
		return nil, err
	}
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	entries := make([]cache.Entry, 0, len(kinds))
	for _, kind := range kinds {
		entry, err := c.cache.Info(ctx, model.CacheKey{Model: modelName, Metric: string(kind)})
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// CacheClear removes the cached coefficients of modelName for every metric, or only metricName.
func (c *Client) CacheClear(ctx context.Context, modelName, metricName string) error {
	kinds, err := metricsFor(metricName)
	if err != nil {
		return err
	}
	if err := c.ensureStore(ctx); err != nil {
		return err
	}
	for _, kind := range kinds {
		if err := c.cache.Invalidate(ctx, model.CacheKey{Model: modelName, Metric: string(kind)}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	var out []RunItem
	if req.FromStore {
		if err := c.ensureStore(ctx); err != nil {
			return nil, err
		}
		records, err := c.store.ListRuns(ctx, req.Model)
		if err != nil {
			return nil, err
		}
		out = make([]RunItem, 0, len(records))
		for _, r := range records {
			out = append(out, RunItem{
				RunID:         r.RunID,
				CreatedAtUTC:  r.CreatedAtUTC,
				Model:         r.Model,
				Metric:        r.Metric,
				Style:         r.Style,
				ParameterSets: r.ParameterSets,
				Reactions:     r.Reactions,
				NaNCells:      r.NaNCells,
				CacheHit:      r.CacheHit,
			})
		}
	} else {
		entries, err := stats.ListRunIndex(c.runsDir)
		if err != nil {
			return nil, err
		}
		out = make([]RunItem, 0, len(entries))
		for _, e := range entries {
			if req.Model != "" && e.Model != req.Model {
				continue
			}
			out = append(out, RunItem{
				RunID:         e.RunID,
				CreatedAtUTC:  e.CreatedAtUTC,
				Model:         e.Model,
				Metric:        e.Metric,
				Style:         e.Style,
				ParameterSets: e.ParameterSets,
				Reactions:     e.Reactions,
				NaNCells:      e.NaNCells,
				CacheHit:      e.CacheHit,
			})
		}
	}
	if len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

// Run returns the stored artifacts of one analysis run, or of the newest run when runID is "latest".
func (c *Client) Run(_ context.Context, runID string) (stats.AnalysisArtifacts, error) {
	if runID == "" {
		return stats.AnalysisArtifacts{}, errors.New("run id is required")
	}
	if runID == "latest" {
		entries, err := stats.ListRunIndex(c.runsDir)
		if err != nil {
			return stats.AnalysisArtifacts{}, err
		}
		if len(entries) == 0 {
			return stats.AnalysisArtifacts{}, errors.New("no runs available")
		}
		runID = entries[0].RunID
	}
	artifacts, ok, err := stats.ReadAnalysisArtifacts(c.runsDir, runID)
	if err != nil {
		return stats.AnalysisArtifacts{}, err
	}
	if !ok {
		return stats.AnalysisArtifacts{}, fmt.Errorf("run not found: %s", runID)
	}
	return artifacts, nil
}

func (c *Client) ensureStore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

func (c *Client) source(name string, m catalog.Model) (paramsets.Source, error) {
	switch name {
	case "", SourceDir:
		return paramsets.NewDirSource(c.root, m.Name, m.Search), nil
	case SourceStore:
		return &paramsets.StoreSource{Store: c.store, Model: m.Name}, nil
	default:
		return nil, fmt.Errorf("unsupported parameter set source: %s", name)
	}
}

func metricsFor(name string) ([]metric.Kind, error) {
	if name == "" {
		return metric.Kinds(), nil
	}
	kind, err := metric.ParseKind(name)
	if err != nil {
		return nil, err
	}
	return []metric.Kind{kind}, nil
}
