// Package winprob estimates final-score distributions and win
// probabilities for live contest entries.
//
// Model: an entry's expected final score is its current FPTS plus PMR/4
// (roughly a point per four player-minutes remaining), with variance
// proportional to PMR. Final scores are simulated as independent normal
// draws and the win probability is the share of simulations an entry
// finishes first in.
package winprob

import (
	"math"
	"math/rand"
	"sort"

	"dkwatch/internal/standings"
)

// Config tunes the simulation.
type Config struct {
	// Sigma2 is the score variance per minute of PMR.
	Sigma2 float64
	// Sims is the number of simulation draws.
	Sims int
}

const (
	DefaultSigma2 = 0.5
	DefaultSims   = 20000
)

func (c Config) withDefaults() Config {
	if c.Sigma2 <= 0 {
		c.Sigma2 = DefaultSigma2
	}
	if c.Sims <= 0 {
		c.Sims = DefaultSims
	}
	return c
}

// Projection is one entry with its simulated outlook attached.
type Projection struct {
	TeamName  string  `json:"team_name"`
	Rank      int     `json:"rank"`
	FPTS      float64 `json:"fpts"`
	PMR       int     `json:"pmr"`
	ProjFinal float64 `json:"proj_final"`
	StdDev    float64 `json:"std_dev"`
	WinProb   float64 `json:"win_prob"`
}

// Compute runs the simulation with a non-deterministic seed and returns
// projections sorted by projected final score, descending.
func Compute(entries []standings.Entry, cfg Config) []Projection {
	return compute(entries, cfg, rand.New(rand.NewSource(rand.Int63())))
}

// ComputeSeeded is Compute with a fixed seed, for reproducible results.
func ComputeSeeded(entries []standings.Entry, cfg Config, seed uint64) []Projection {
	return compute(entries, cfg, rand.New(rand.NewSource(int64(seed))))
}

func compute(entries []standings.Entry, cfg Config, rng *rand.Rand) []Projection {
	if len(entries) == 0 {
		return nil
	}
	cfg = cfg.withDefaults()

	n := len(entries)
	out := make([]Projection, n)
	mu := make([]float64, n)
	std := make([]float64, n)
	for i, e := range entries {
		mu[i] = e.FPTS + float64(e.PMR)/4.0
		std[i] = math.Sqrt(cfg.Sigma2 * float64(e.PMR))
		out[i] = Projection{
			TeamName:  e.TeamName,
			Rank:      e.Rank,
			FPTS:      e.FPTS,
			PMR:       e.PMR,
			ProjFinal: mu[i],
			StdDev:    std[i],
		}
	}

	wins := make([]int, n)
	for s := 0; s < cfg.Sims; s++ {
		best := 0
		bestScore := math.Inf(-1)
		for i := 0; i < n; i++ {
			score := mu[i]
			if std[i] > 0 {
				score += std[i] * rng.NormFloat64()
			}
			if score > bestScore {
				bestScore = score
				best = i
			}
		}
		wins[best]++
	}
	for i := range out {
		out[i].WinProb = float64(wins[i]) / float64(cfg.Sims)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].ProjFinal > out[j].ProjFinal })
	return out
}
