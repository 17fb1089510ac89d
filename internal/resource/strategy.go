package resource

import (
	"fmt"
	"sort"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// Strategy names.
const (
	StrategyRoundRobin      = "round-robin"
	StrategyLeastLoaded     = "least-loaded"
	StrategySkillBased      = "skill-based"
	StrategyEfficiencyBased = "efficiency-based"
)

// ErrUnknownStrategy is returned by SetStrategy for unregistered names.
var ErrUnknownStrategy = fmt.Errorf("strategy %w", models.ErrValidation)

// Candidate is an eligible worker together with its current usage.
type Candidate struct {
	Worker *models.Worker
	Usage  Usage
	Load   float64
}

// Strategy picks a worker ID from eligible candidates, or "" when none fits.
// Candidates arrive in registry order; strategies keep the first on ties.
type Strategy func(candidates []Candidate, task *models.Task) string

var strategies = map[string]Strategy{
	StrategyRoundRobin:      fewestTasks,
	StrategyLeastLoaded:     leastLoaded,
	StrategySkillBased:      skillBased,
	StrategyEfficiencyBased: mostEfficient,
}

// Strategies returns the registered strategy names, sorted.
func Strategies() []string {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func fewestTasks(candidates []Candidate, _ *models.Task) string {
	return pick(candidates, func(c Candidate) float64 { return -float64(c.Usage.TaskCount) })
}

func leastLoaded(candidates []Candidate, _ *models.Task) string {
	return pick(candidates, func(c Candidate) float64 { return -c.Load })
}

func skillBased(candidates []Candidate, task *models.Task) string {
	var required []string
	if task != nil {
		required = task.RequiredSkills
	}
	return pick(candidates, func(c Candidate) float64 {
		return 10*float64(c.Worker.MatchedSkills(required)) - 2*c.Load
	})
}

func mostEfficient(candidates []Candidate, _ *models.Task) string {
	return pick(candidates, func(c Candidate) float64 { return c.Usage.Efficiency })
}

// pick returns the candidate with the highest score.
func pick(candidates []Candidate, score func(Candidate) float64) string {
	best := ""
	bestScore := 0.0
	for _, c := range candidates {
		s := score(c)
		if best == "" || s > bestScore {
			best, bestScore = c.Worker.ID, s
		}
	}
	return best
}
