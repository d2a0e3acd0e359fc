package paramsets

import (
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"strconv"

	"reactsens/internal/simulation"
)

// Named is implemented by search spaces that can address values by name.
type Named interface {
	ParameterNames() []string
	SpeciesNames() []string
}

type SynthConfig struct {
	Count  int
	Spread float64
	Seed   int64
	Start  int
}

// Synthesize writes Count best-fit files under dir, numbered from Start. Every
// parameter is the model default scaled by a lognormal factor exp(Spread*N(0,1)).
func Synthesize(dir string, search simulation.SearchParam, cfg SynthConfig) ([]int, error) {
	if cfg.Count <= 0 {
		return nil, fmt.Errorf("count must be > 0")
	}
	if cfg.Spread < 0 || math.IsNaN(cfg.Spread) {
		return nil, fmt.Errorf("spread must be >= 0")
	}
	named, ok := search.(Named)
	if !ok {
		return nil, fmt.Errorf("model search space does not expose parameter names")
	}
	names := named.ParameterNames()
	defaults, _ := search.Defaults()
	if len(names) != len(defaults) {
		return nil, fmt.Errorf("model exposes %d parameter names for %d parameters", len(names), len(defaults))
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	written := make([]int, 0, cfg.Count)
	for i := 0; i < cfg.Count; i++ {
		fit := BestFit{Parameters: make(map[string]float64, len(names))}
		for j, name := range names {
			fit.Parameters[name] = defaults[j] * math.Exp(cfg.Spread*rng.NormFloat64())
		}
		idx := cfg.Start + i
		if err := WriteBestFit(filepath.Join(dir, strconv.Itoa(idx), BestFitFile), fit); err != nil {
			return written, err
		}
		written = append(written, idx)
	}
	return written, nil
}
