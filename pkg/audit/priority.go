package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/cgast/dsverify/pkg/session"
)

// Default weights for values missing from a PriorityMap.
const (
	defaultDemoImpactWeight = 1
	defaultCriteriaWeight   = 1
	defaultEffortCost       = 2
	defaultReach            = 1

	reliabilityPenalty = 0.6
	reliabilityFloor   = 1.0
)

var reach = map[Layer]float64{
	LayerToken:     3,
	LayerComponent: 2,
	LayerShell:     2,
	LayerPage:      1,
	LayerCopy:      1,
}

// PriorityMap weighs issues for ordering.
type PriorityMap struct {
	CriteriaWeights   map[string]float64 `json:"criteriaWeights" yaml:"criteria_weights"`
	DemoImpactWeights map[string]float64 `json:"demoImpactWeights" yaml:"demo_impact_weights"`
	EffortCost        map[string]float64 `json:"effortCost" yaml:"effort_cost"`
}

// LoadPriorityMap reads a priority map. A missing file yields the defaults.
func LoadPriorityMap(path string) (PriorityMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return PriorityMap{}, nil
		}
		return PriorityMap{}, fmt.Errorf("read priority map: %w", err)
	}
	var pm PriorityMap
	if err := json.Unmarshal(data, &pm); err != nil {
		return PriorityMap{}, fmt.Errorf("parse priority map: %w", err)
	}
	return pm, nil
}

func weight(m map[string]float64, key string, def float64) float64 {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}

// Score is demoImpact*4 + criteria*3 + reach*2 - effort.
func (pm PriorityMap) Score(is Issue) float64 {
	demo := weight(pm.DemoImpactWeights, string(is.DemoImpact), defaultDemoImpactWeight)
	crit := weight(pm.CriteriaWeights, string(is.Criteria), defaultCriteriaWeight)
	r, ok := reach[is.Layer]
	if !ok {
		r = defaultReach
	}
	effort := weight(pm.EffortCost, string(is.Effort), defaultEffortCost)
	return demo*4 + crit*3 + r*2 - effort
}

// Merge scores and sorts the issues, folds the last verification session
// into the reliability score and computes the summary. A nil session
// counts as a failed verification.
func Merge(r Report, last *session.Session, pm PriorityMap, now time.Time) Report {
	out := r
	out.Issues = make([]Issue, len(r.Issues))
	copy(out.Issues, r.Issues)
	for i := range out.Issues {
		out.Issues[i].PriorityScore = float(pm.Score(out.Issues[i]))
	}
	sort.SliceStable(out.Issues, func(i, j int) bool {
		return *out.Issues[i].PriorityScore > *out.Issues[j].PriorityScore
	})

	verifyOK := last != nil && last.OK
	failedChecks := 0
	if last != nil {
		failedChecks = last.FailedCount
	}

	out.Scores = make([]CriteriaScore, len(r.Scores))
	copy(out.Scores, r.Scores)
	if !verifyOK {
		applyReliabilityPenalty(&out)
	}

	overall := 0.0
	if len(out.Scores) > 0 {
		for _, s := range out.Scores {
			overall += s.Score
		}
		overall /= float64(len(out.Scores))
	}

	out.Summary = &Summary{
		OverallScore:       round(overall, 2),
		OpenIssues:         out.OpenIssues(),
		VerifyOK:           verifyOK,
		VerifyFailedChecks: failedChecks,
		GeneratedAt:        now.UTC().Format(time.RFC3339),
	}
	return out
}

func applyReliabilityPenalty(r *Report) {
	for i := range r.Scores {
		if r.Scores[i].Criteria == CriteriaReliability {
			r.Scores[i].Score = round(max(reliabilityFloor, r.Scores[i].Score-reliabilityPenalty), 1)
			return
		}
	}
}
