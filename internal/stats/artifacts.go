package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"reactsens/internal/model"
)

const runIndexFile = "run_index.json"

type AnalysisConfig struct {
	RunID         string `json:"run_id"`
	Model         string `json:"model"`
	Metric        string `json:"metric"`
	Style         string `json:"style"`
	ParameterSets int    `json:"parameter_sets"`
	Reactions     int    `json:"reactions"`
	Workers       int    `json:"workers"`
	Normalize     bool   `json:"normalize"`
	CacheBackend  string `json:"cache_backend"`
	CacheHit      bool   `json:"cache_hit"`
}

type ObservableReport struct {
	Name    string            `json:"name"`
	Summary ObservableSummary `json:"summary"`
	Skipped string            `json:"skipped,omitempty"`
}

type HeatmapReport struct {
	ObservableName string  `json:"observable_name"`
	ConditionName  string  `json:"condition_name"`
	Heatmap        Heatmap `json:"heatmap"`
	Rendered       bool    `json:"rendered"`
}

type AnalysisArtifacts struct {
	Config      AnalysisConfig            `json:"config"`
	Reactions   []int                     `json:"reactions"`
	Processes   []model.BiologicalProcess `json:"processes"`
	Observables []string                  `json:"observables"`
	Conditions  []string                  `json:"conditions"`
	Barplots    []ObservableReport        `json:"barplots,omitempty"`
	Heatmaps    []HeatmapReport           `json:"heatmaps,omitempty"`
	NaNCells    int                       `json:"nan_cells"`
}

type RunIndexEntry struct {
	RunID         string `json:"run_id"`
	Model         string `json:"model"`
	Metric        string `json:"metric"`
	Style         string `json:"style"`
	ParameterSets int    `json:"parameter_sets"`
	Reactions     int    `json:"reactions"`
	NaNCells      int    `json:"nan_cells"`
	CacheHit      bool   `json:"cache_hit"`
	CreatedAtUTC  string `json:"created_at_utc"`
}

// WriteAnalysisArtifacts writes config.json, summary.json and one CSV per rendered table under
// baseDir/<run id>.
func WriteAnalysisArtifacts(baseDir string, artifacts AnalysisArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "summary.json"), artifacts); err != nil {
		return "", err
	}
	if len(artifacts.Barplots) > 0 {
		if err := writeBarplotCSV(filepath.Join(runDir, "barplot.csv"), artifacts); err != nil {
			return "", err
		}
	}
	for _, hm := range artifacts.Heatmaps {
		name := fmt.Sprintf("heatmap_%s_%s.csv", FileSafe(hm.ObservableName), FileSafe(hm.ConditionName))
		if err := WriteHeatmapCSV(filepath.Join(runDir, name), artifacts.Reactions, hm.Heatmap); err != nil {
			return "", err
		}
	}
	return runDir, nil
}

func ReadAnalysisArtifacts(baseDir, runID string) (AnalysisArtifacts, bool, error) {
	path := filepath.Join(baseDir, runID, "summary.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return AnalysisArtifacts{}, false, nil
		}
		return AnalysisArtifacts{}, false, err
	}
	var artifacts AnalysisArtifacts
	if err := json.Unmarshal(data, &artifacts); err != nil {
		return AnalysisArtifacts{}, false, err
	}
	return artifacts, true, nil
}

func writeBarplotCSV(path string, artifacts AnalysisArtifacts) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"observable", "reaction", "condition", "mean", "stdev", "n"}); err != nil {
		return err
	}
	for _, obs := range artifacts.Barplots {
		if obs.Skipped != "" {
			continue
		}
		for r, means := range obs.Summary.Mean {
			for c, mean := range means {
				if err := writer.Write([]string{
					obs.Name,
					strconv.Itoa(reactionLabel(artifacts.Reactions, r)),
					conditionLabel(artifacts.Conditions, c),
					strconv.FormatFloat(mean, 'f', -1, 64),
					strconv.FormatFloat(obs.Summary.Stdev[r][c], 'f', -1, 64),
					strconv.Itoa(len(obs.Summary.Retained)),
				}); err != nil {
					return err
				}
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteHeatmapCSV writes one row per retained parameter set with a column per reaction.
func WriteHeatmapCSV(path string, reactions []int, hm Heatmap) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return encodeHeatmap(file, reactions, hm)
}

func encodeHeatmap(w io.Writer, reactions []int, hm Heatmap) error {
	writer := csv.NewWriter(w)
	width := 0
	if len(hm.Rows) > 0 {
		width = len(hm.Rows[0])
	}
	header := make([]string, 0, width+1)
	header = append(header, "parameter_set")
	for r := 0; r < width; r++ {
		header = append(header, "v"+strconv.Itoa(reactionLabel(reactions, r)))
	}
	if err := writer.Write(header); err != nil {
		return err
	}
	for i, row := range hm.Rows {
		record := make([]string, 0, len(row)+1)
		record = append(record, strconv.Itoa(hm.Retained[i]))
		for _, v := range row {
			record = append(record, strconv.FormatFloat(v, 'f', -1, 64))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Later appends win ties.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func reactionLabel(reactions []int, pos int) int {
	if pos < len(reactions) {
		return reactions[pos]
	}
	return pos
}

func conditionLabel(conditions []string, pos int) string {
	if pos < len(conditions) {
		return conditions[pos]
	}
	return strconv.Itoa(pos)
}

// FileSafe replaces path separators, spaces and colons in name with underscores.
func FileSafe(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', ':':
			return '_'
		}
		return r
	}, name)
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
