package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cgast/dsverify/pkg/domcheck"
	"github.com/cgast/dsverify/pkg/session"
)

// Score floor and penalties applied by a scan.
const (
	baseScore          = 5.0
	minScanScore       = 3.6
	failedGatePenalty  = 0.2
	visualErrorPenalty = 0.1
	domErrorPenalty    = 0.1
	capturePenalty     = 0.3
)

const autoIDPrefix = "UX-AUTO-"

// VisualCapture is the outcome of an external screenshot capture run.
type VisualCapture struct {
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// VisualDiffItem is one screenshot compared against its baseline.
type VisualDiffItem struct {
	File        string  `json:"file"`
	Level       string  `json:"level"`
	ChangeRatio float64 `json:"changeRatio"`
	Method      string  `json:"method,omitempty"`
}

// VisualDiff is the outcome of an external screenshot diff run.
type VisualDiff struct {
	OK     bool             `json:"ok"`
	Reason string           `json:"reason,omitempty"`
	Diffs  []VisualDiffItem `json:"diffs"`
}

// LoadVisualCapture reads a capture result. A missing file is a failed
// capture with reason missing-capture-output.
func LoadVisualCapture(path string) (*VisualCapture, error) {
	var c VisualCapture
	found, err := readJSON(path, &c)
	if err != nil {
		return nil, err
	}
	if !found {
		return &VisualCapture{Reason: "missing-capture-output"}, nil
	}
	return &c, nil
}

// LoadVisualDiff reads a diff result. A missing file is a failed diff with
// no items.
func LoadVisualDiff(path string) (*VisualDiff, error) {
	var d VisualDiff
	found, err := readJSON(path, &d)
	if err != nil {
		return nil, err
	}
	if !found {
		return &VisualDiff{Reason: "missing-diff-output", Diffs: []VisualDiffItem{}}, nil
	}
	return &d, nil
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

// ScanInput is what a scan derives a report from. Capture and Diff are
// optional results of external visual tooling. Previous is the report the
// scan updates, if one exists.
type ScanInput struct {
	Steps    []session.StepResult
	DOM      *domcheck.Result
	Capture  *VisualCapture
	Diff     *VisualDiff
	Strict   bool
	DemoFlow []string
	Previous *Report
	Now      time.Time
}

// CaptureFailed reports whether a strict scan has a failed visual capture.
func (in ScanInput) CaptureFailed() bool {
	return in.Strict && in.Capture != nil && !in.Capture.OK && !in.Capture.Skipped
}

// FromScan builds the report for a scan: one issue per failed gate, failed
// strict capture, visual drift and failed DOM heuristic, and a uniform
// score for every criterion. Issues of the previous report are kept;
// re-detected ones keep their id and status.
func FromScan(in ScanInput) Report {
	if in.Now.IsZero() {
		in.Now = time.Now()
	}
	demoFlow := in.DemoFlow
	if len(demoFlow) == 0 && in.Previous != nil {
		demoFlow = in.Previous.DemoFlow
	}
	if len(demoFlow) == 0 {
		demoFlow = DefaultDemoFlow()
	}

	var detected []Issue
	failedGates := 0
	for _, st := range in.Steps {
		if st.OK {
			continue
		}
		failedGates++
		detected = append(detected, Issue{
			Route:         "/dashboard",
			Criteria:      CriteriaReliability,
			Layer:         LayerComponent,
			Severity:      SeverityP0,
			DemoImpact:    DemoImpactHigh,
			Effort:        EffortS,
			Symptom:       "Automated check failed: " + st.Name,
			FixHypothesis: fmt.Sprintf("Fix failing gate '%s' and re-run ux:scan.", st.Name),
			Owner:         "frontend",
			Status:        StatusOpen,
			DetectedBy:    "rule",
			Confidence:    float(0.98),
		})
	}

	if in.CaptureFailed() {
		detected = append(detected, Issue{
			Route:         "/dashboard",
			Criteria:      CriteriaReliability,
			Layer:         LayerShell,
			Severity:      SeverityP0,
			DemoImpact:    DemoImpactHigh,
			Effort:        EffortS,
			Symptom:       "Visual capture failed: " + orDefault(in.Capture.Reason, "unknown"),
			FixHypothesis: "Ensure the capture tooling is installed and the dev server is running.",
			Owner:         "frontend",
			Status:        StatusOpen,
			DetectedBy:    "visual-capture",
			Confidence:    float(0.95),
		})
	}

	visualErrors := 0
	if in.Diff != nil {
		for _, d := range in.Diff.Diffs {
			if d.Level != "error" && d.Level != "warn" {
				continue
			}
			is := Issue{
				Route:         "/dashboard",
				Criteria:      CriteriaHeroDiff,
				Layer:         LayerShell,
				Severity:      SeverityP2,
				DemoImpact:    DemoImpactMedium,
				Effort:        EffortM,
				Symptom:       fmt.Sprintf("Visual drift detected in %s (ratio=%s, method=%s).", d.File, strconv.FormatFloat(d.ChangeRatio, 'f', -1, 64), orDefault(d.Method, "unknown")),
				FixHypothesis: "Inspect screenshot diff and apply targeted shell/page styling fixes.",
				Owner:         "frontend",
				Status:        StatusOpen,
				DetectedBy:    "visual-diff",
				Confidence:    float(0.7),
			}
			if d.Level == "error" {
				visualErrors++
				is.Severity, is.DemoImpact = SeverityP1, DemoImpactHigh
			}
			if d.Method == "buffer" {
				is.Confidence = float(0.85)
			}
			detected = append(detected, is)
		}
	}

	domErrors := 0
	if in.DOM != nil {
		for _, c := range in.DOM.Failed() {
			domErrors++
			detected = append(detected, Issue{
				Route:         orDefault(c.Route, "/dashboard"),
				Criteria:      Criteria(orDefault(c.Criteria, string(CriteriaA11y))),
				Layer:         LayerShell,
				Severity:      Severity(orDefault(c.Severity, string(SeverityP1))),
				DemoImpact:    DemoImpact(orDefault(c.DemoImpact, string(DemoImpactHigh))),
				Effort:        Effort(orDefault(c.Effort, string(EffortS))),
				Symptom:       orDefault(c.Message, "DOM heuristic violation detected."),
				FixHypothesis: orDefault(c.FixHypothesis, "Fix route markup to satisfy UX DOM heuristics."),
				Owner:         "frontend",
				Status:        StatusOpen,
				DetectedBy:    "rule",
				Confidence:    float(0.9),
				Autofixable:   c.Autofixable,
				AutofixRule:   c.AutofixRule,
			})
		}
	}

	penalty := float64(failedGates)*failedGatePenalty +
		float64(visualErrors)*visualErrorPenalty +
		float64(domErrors)*domErrorPenalty
	if in.Strict && in.Capture != nil && !in.Capture.OK {
		penalty += capturePenalty
	}
	score := round(math.Max(minScanScore, baseScore-penalty), 1)
	note := "All gates passed. Verify visually for narrative quality."
	if failedGates > 0 {
		note = "Derived from failed gates; inspect meta.checks."
	}
	scores := make([]CriteriaScore, 0, len(AllCriteria()))
	for _, c := range AllCriteria() {
		scores = append(scores, CriteriaScore{Criteria: c, Score: score, Note: note})
	}

	steps := in.Steps
	if steps == nil {
		steps = []session.StepResult{}
	}
	r := Report{
		BaselineDate: in.Now.UTC().Format("2006-01-02"),
		Strict:       in.Strict,
		DemoFlow:     demoFlow,
		Scores:       scores,
		Issues:       carryOver(in.Previous, detected),
		Meta: &ScanMeta{
			Checks:        steps,
			VisualCapture: in.Capture,
			VisualDiff:    in.Diff,
			DOMHeuristics: in.DOM,
		},
	}
	if in.Previous != nil {
		r.Summary = in.Previous.Summary
	}
	return r
}

// carryOver appends detected issues to the previous ones. A detection
// matching an unfinished previous issue by route and symptom is dropped in
// favour of it; the rest get ids after the highest existing auto id.
func carryOver(prev *Report, detected []Issue) []Issue {
	issues := []Issue{}
	if prev != nil {
		issues = append(issues, prev.Issues...)
	}
	known := len(issues)
	matched := make([]bool, known)
	seq := highestAutoID(issues)

	for _, d := range detected {
		if i := findOpen(issues[:known], matched, d); i >= 0 {
			matched[i] = true
			continue
		}
		seq++
		d.ID = autoID(seq)
		issues = append(issues, d)
	}
	return issues
}

func findOpen(issues []Issue, matched []bool, d Issue) int {
	for i, is := range issues {
		if matched[i] || is.Status == StatusDone {
			continue
		}
		if is.Route == d.Route && is.Symptom == d.Symptom {
			return i
		}
	}
	return -1
}

func highestAutoID(issues []Issue) int {
	high := 0
	for _, is := range issues {
		rest, ok := strings.CutPrefix(is.ID, autoIDPrefix)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(rest); err == nil && n > high {
			high = n
		}
	}
	return high
}

func autoID(n int) string {
	return fmt.Sprintf("%s%03d", autoIDPrefix, n)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func round(f float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(f*p) / p
}
