package reactsens

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reactsens/internal/cache"
	"reactsens/internal/catalog"
	"reactsens/internal/metric"
	"reactsens/internal/paramsets"
	"reactsens/internal/report"
)

func newTestClient(t *testing.T, opts Options) *Client {
	t.Helper()
	if opts.Root == "" {
		opts.Root = t.TempDir()
	}
	if opts.StoreKind == "" {
		opts.StoreKind = "memory"
	}
	if opts.Step == 0 {
		opts.Step = 0.1
	}
	client, err := New(opts)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func synthesize(t *testing.T, client *Client, count int) {
	t.Helper()
	written, err := client.SynthesizeParameterSets(context.Background(), SynthRequest{
		Model: catalog.ERKFeedbackName,
		Count: count,
		Seed:  7,
		Start: 1,
	})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(written) != count {
		t.Fatalf("expected %d parameter sets, got %v", count, written)
	}
}

func TestClientAnalyzeBarplotThenCacheHit(t *testing.T) {
	root := t.TempDir()
	client := newTestClient(t, Options{Root: root, Workers: 2})
	synthesize(t, client, 2)

	first, err := client.Analyze(context.Background(), AnalyzeRequest{
		Model:  catalog.ERKFeedbackName,
		Metric: "amplitude",
		Style:  "barplot",
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if first.CacheHit {
		t.Fatal("first analysis must compute")
	}
	if first.ParameterSets != 2 || len(first.Reactions) != 11 {
		t.Fatalf("unexpected shape: sets=%d reactions=%v", first.ParameterSets, first.Reactions)
	}
	if len(first.Figures)+len(first.Skipped) != 3 {
		t.Fatalf("expected one outcome per observable: figures=%v skipped=%v", first.Figures, first.Skipped)
	}
	for _, fig := range first.Figures {
		if !strings.HasPrefix(fig, FigureDir(root, catalog.ERKFeedbackName, "amplitude")) {
			t.Fatalf("figure outside figure dir: %s", fig)
		}
		if _, err := os.Stat(fig); err != nil {
			t.Fatalf("figure missing: %v", err)
		}
	}
	if _, err := os.Stat(filepath.Join(first.ArtifactsDir, "barplot.csv")); err != nil {
		t.Fatalf("barplot csv missing: %v", err)
	}
	coeffPath := filepath.Join(root, catalog.ERKFeedbackName, "sensitivity_coefficients", "reaction", "amplitude", "sc.npy")
	if _, err := os.Stat(coeffPath); err != nil {
		t.Fatalf("coefficient file missing: %v", err)
	}

	second, err := client.Analyze(context.Background(), AnalyzeRequest{
		Model:  catalog.ERKFeedbackName,
		Metric: "amplitude",
		Style:  "none",
	})
	if err != nil {
		t.Fatalf("second analyze: %v", err)
	}
	if !second.CacheHit || len(second.Figures) != 0 {
		t.Fatalf("expected cache hit without figures: %+v", second)
	}
	if second.NaNCells != first.NaNCells {
		t.Fatalf("cached tensor differs: %d vs %d NaN cells", second.NaNCells, first.NaNCells)
	}

	runs, err := client.Runs(context.Background(), RunsRequest{Limit: 5})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != second.RunID || !runs[0].CacheHit {
		t.Fatalf("unexpected run index: %+v", runs)
	}
	stored, err := client.Runs(context.Background(), RunsRequest{FromStore: true, Model: catalog.ERKFeedbackName})
	if err != nil {
		t.Fatalf("stored runs: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 stored runs, got %+v", stored)
	}

	latest, err := client.Run(context.Background(), "latest")
	if err != nil {
		t.Fatalf("latest run: %v", err)
	}
	if latest.Config.RunID != second.RunID || latest.Config.Style != "none" {
		t.Fatalf("unexpected latest run: %+v", latest.Config)
	}
}

func TestClientAnalyzeHeatmapFromStore(t *testing.T) {
	client := newTestClient(t, Options{CacheBackend: "store"})
	synthesize(t, client, 3)

	n, err := client.ImportParameterSets(context.Background(), catalog.ERKFeedbackName)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 imported sets, got %d", n)
	}
	indices, err := client.ListParameterSets(context.Background(), ParameterSetsRequest{Model: catalog.ERKFeedbackName, Source: SourceStore})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(indices) != 3 || indices[0] != 1 {
		t.Fatalf("unexpected stored indices: %v", indices)
	}

	normalize := true
	summary, err := client.Analyze(context.Background(), AnalyzeRequest{
		Model:     catalog.ERKFeedbackName,
		Metric:    "integral",
		Style:     "heatmap",
		Source:    SourceStore,
		Normalize: &normalize,
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(summary.Figures)+len(summary.Skipped) != 6 {
		t.Fatalf("expected one outcome per observable and condition: %+v", summary)
	}
	for _, fig := range summary.Figures {
		if filepath.Base(filepath.Dir(fig)) != "heatmap" {
			t.Fatalf("heatmap written outside heatmap dir: %s", fig)
		}
	}

	entries, err := client.CacheInfo(context.Background(), catalog.ERKFeedbackName, "integral")
	if err != nil {
		t.Fatalf("cache info: %v", err)
	}
	if len(entries) != 1 || !entries[0].Exists || entries[0].Backend != "store" || entries[0].Dims[0] != 3 {
		t.Fatalf("unexpected cache entry: %+v", entries)
	}
	if err := client.CacheClear(context.Background(), catalog.ERKFeedbackName, ""); err != nil {
		t.Fatalf("cache clear: %v", err)
	}
	entries, err = client.CacheInfo(context.Background(), catalog.ERKFeedbackName, "")
	if err != nil {
		t.Fatalf("cache info after clear: %v", err)
	}
	if len(entries) != len(metric.Kinds()) {
		t.Fatalf("expected one entry per metric, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Exists {
			t.Fatalf("entry survived clear: %+v", e)
		}
	}
}

func TestClientAnalyzeConfigurationErrors(t *testing.T) {
	client := newTestClient(t, Options{})
	ctx := context.Background()

	if _, err := client.Analyze(ctx, AnalyzeRequest{Model: catalog.ERKFeedbackName, Metric: "peak"}); !errors.Is(err, metric.ErrUnknownKind) {
		t.Fatalf("expected unknown metric, got %v", err)
	}
	if _, err := client.Analyze(ctx, AnalyzeRequest{Model: catalog.ERKFeedbackName, Metric: "amplitude", Style: "violin"}); !errors.Is(err, report.ErrUnknownStyle) {
		t.Fatalf("expected unknown style, got %v", err)
	}
	if _, err := client.Analyze(ctx, AnalyzeRequest{Model: "missing", Metric: "amplitude"}); !errors.Is(err, catalog.ErrModelNotFound) {
		t.Fatalf("expected unknown model, got %v", err)
	}
	if _, err := client.Analyze(ctx, AnalyzeRequest{Model: catalog.ERKFeedbackName, Metric: "amplitude"}); !errors.Is(err, paramsets.ErrNoParameterSets) {
		t.Fatalf("expected no parameter sets, got %v", err)
	}
	if _, err := client.Analyze(ctx, AnalyzeRequest{Model: catalog.ERKFeedbackName, Metric: "amplitude", Source: "s3"}); err == nil {
		t.Fatal("expected unsupported source error")
	}
	if _, err := client.CacheInfo(ctx, "../escape", "amplitude"); !errors.Is(err, cache.ErrInvalidKey) {
		t.Fatalf("expected invalid key, got %v", err)
	}
}

func TestClientPaletteCheckedBeforeComputing(t *testing.T) {
	root := t.TempDir()
	client := newTestClient(t, Options{Root: root, Visualization: report.Options{Palette: []string{"#000000"}}})
	synthesize(t, client, 1)

	_, err := client.Analyze(context.Background(), AnalyzeRequest{Model: catalog.ERKFeedbackName, Metric: "duration", Style: "barplot"})
	if !errors.Is(err, report.ErrPaletteTooShort) {
		t.Fatalf("expected short palette error, got %v", err)
	}
	entries, err := client.CacheInfo(context.Background(), catalog.ERKFeedbackName, "duration")
	if err != nil {
		t.Fatalf("cache info: %v", err)
	}
	if entries[0].Exists {
		t.Fatal("palette error must precede the sweep")
	}

	// Style none never renders, so the short palette is irrelevant.
	if _, err := client.Analyze(context.Background(), AnalyzeRequest{Model: catalog.ERKFeedbackName, Metric: "duration"}); err != nil {
		t.Fatalf("compute-only analysis: %v", err)
	}
}

func TestClientModels(t *testing.T) {
	client := newTestClient(t, Options{})
	models, err := client.Models()
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	if len(models) == 0 || models[0].Name != catalog.ERKFeedbackName {
		t.Fatalf("unexpected models: %+v", models)
	}
	if models[0].Reactions != 11 || len(models[0].Processes) == 0 {
		t.Fatalf("unexpected model shape: %+v", models[0])
	}
}

func TestClientRunErrors(t *testing.T) {
	client := newTestClient(t, Options{})
	if _, err := client.Run(context.Background(), ""); err == nil {
		t.Fatal("expected missing run id error")
	}
	if _, err := client.Run(context.Background(), "latest"); err == nil {
		t.Fatal("expected no runs error")
	}
	if _, err := client.Run(context.Background(), "nope"); err == nil {
		t.Fatal("expected run not found error")
	}
}
