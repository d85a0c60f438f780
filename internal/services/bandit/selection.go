// -----------------------------------------------------------------------
// Arm Selection - epsilon-greedy, UCB1 and Thompson sampling over the
// per-context arm statistics
// -----------------------------------------------------------------------

package bandit

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/ternarybob/nuntius/internal/models"
)

// armStat pairs an arm with its statistics for the decision context.
// State is zero-valued for arms never rewarded in this context.
type armStat struct {
	arm   *models.BanditArm
	state *models.BanditState
}

// selection is the outcome of one arm choice.
type selection struct {
	stat   armStat
	reason string
	value  float64
}

func (s *Service) selectArm(experiment *models.BanditExperiment, stats []armStat) (selection, error) {
	switch experiment.Algorithm {
	case models.BanditAlgorithmEpsilonGreedy:
		return s.selectEpsilonGreedy(experiment.Epsilon, stats), nil
	case models.BanditAlgorithmUCB1:
		return s.selectUCB1(stats), nil
	case models.BanditAlgorithmThompson:
		return s.selectThompson(experiment, stats), nil
	default:
		return selection{}, fmt.Errorf("%w: unknown bandit algorithm %q", models.ErrValidation, experiment.Algorithm)
	}
}

// selectEpsilonGreedy explores uniformly with probability epsilon and
// otherwise exploits the highest empirical mean. A tie at the top is
// broken randomly.
func (s *Service) selectEpsilonGreedy(epsilon float64, stats []armStat) selection {
	if s.randFloat() < epsilon {
		pick := stats[s.randIntn(len(stats))]
		return selection{stat: pick, reason: models.SelectionExploration, value: pick.state.MeanReward()}
	}

	best := []int{0}
	bestMean := stats[0].state.MeanReward()
	for i := 1; i < len(stats); i++ {
		mean := stats[i].state.MeanReward()
		switch {
		case mean > bestMean:
			best = []int{i}
			bestMean = mean
		case mean == bestMean:
			best = append(best, i)
		}
	}

	if len(best) == 1 {
		return selection{stat: stats[best[0]], reason: models.SelectionExploitation, value: bestMean}
	}
	pick := stats[best[s.randIntn(len(best))]]
	return selection{stat: pick, reason: models.SelectionRandom, value: bestMean}
}

// selectUCB1 picks the arm with the highest upper confidence bound.
// Never-pulled arms have an unbounded bound and are tried first.
func (s *Service) selectUCB1(stats []armStat) selection {
	var total int64
	var unpulled []int
	for i, stat := range stats {
		total += stat.state.Pulls
		if stat.state.Pulls == 0 {
			unpulled = append(unpulled, i)
		}
	}

	if len(unpulled) > 0 {
		pick := stats[unpulled[s.randIntn(len(unpulled))]]
		return selection{stat: pick, reason: models.SelectionExploration, value: 0}
	}

	best := []int{0}
	bestBound := ucbBound(stats[0].state, total)
	for i := 1; i < len(stats); i++ {
		bound := ucbBound(stats[i].state, total)
		switch {
		case bound > bestBound:
			best = []int{i}
			bestBound = bound
		case bound == bestBound:
			best = append(best, i)
		}
	}

	if len(best) == 1 {
		return selection{stat: stats[best[0]], reason: models.SelectionExploitation, value: bestBound}
	}
	pick := stats[best[s.randIntn(len(best))]]
	return selection{stat: pick, reason: models.SelectionRandom, value: bestBound}
}

func ucbBound(state *models.BanditState, totalPulls int64) float64 {
	return state.MeanReward() + math.Sqrt(2*math.Log(float64(totalPulls))/float64(state.Pulls))
}

// selectThompson draws from each arm's Beta posterior and picks the
// highest draw. The pick is labeled exploitation only when it matches
// the strict empirical best.
func (s *Service) selectThompson(experiment *models.BanditExperiment, stats []armStat) selection {
	bestIdx := 0
	bestDraw := -1.0
	for i, stat := range stats {
		successes := stat.state.TotalReward
		failures := float64(stat.state.Pulls) - successes
		if failures < 0 {
			failures = 0
		}
		draw := s.betaSample(experiment.Alpha+successes, experiment.Beta+failures)
		if draw > bestDraw {
			bestDraw = draw
			bestIdx = i
		}
	}

	reason := models.SelectionExploration
	if strictEmpiricalBest(stats) == bestIdx {
		reason = models.SelectionExploitation
	}
	return selection{stat: stats[bestIdx], reason: reason, value: bestDraw}
}

// strictEmpiricalBest returns the index of the unique highest-mean arm,
// or -1 when the top is tied.
func strictEmpiricalBest(stats []armStat) int {
	bestIdx := -1
	bestMean := -1.0
	tied := false
	for i, stat := range stats {
		mean := stat.state.MeanReward()
		switch {
		case mean > bestMean:
			bestIdx = i
			bestMean = mean
			tied = false
		case mean == bestMean:
			tied = true
		}
	}
	if tied {
		return -1
	}
	return bestIdx
}

func (s *Service) randFloat() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

func (s *Service) randIntn(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Intn(n)
}

// betaSample draws from Beta(a, b) as a ratio of two gamma draws.
func (s *Service) betaSample(a, b float64) float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	x := gammaSample(s.rng, a)
	y := gammaSample(s.rng, b)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// gammaSample draws from Gamma(shape, 1) with the Marsaglia-Tsang
// method, boosting shapes below one.
func gammaSample(rng *rand.Rand, shape float64) float64 {
	if shape < 1 {
		return gammaSample(rng, shape+1) * math.Pow(rng.Float64(), 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)
	for {
		x := rng.NormFloat64()
		v := 1.0 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1.0-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v
		}
	}
}

// keyedLocks serializes state updates per (experiment, arm, context)
// key so pull counts stay monotone under concurrent rewards.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedLocks) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	return lock
}
