// Package audit models the UX audit report: criteria scores, the issue
// backlog and its lifecycle, scan conversion, prioritisation and output.
package audit

import (
	"github.com/cgast/dsverify/pkg/domcheck"
	"github.com/cgast/dsverify/pkg/session"
)

// Criteria is a UX quality criterion.
type Criteria string

const (
	CriteriaFirst5s       Criteria = "first5s"
	CriteriaOneCTA        Criteria = "oneCta"
	CriteriaHeroDiff      Criteria = "heroDiff"
	CriteriaNavConfidence Criteria = "navConfidence"
	CriteriaCalm          Criteria = "calm"
	CriteriaPerformance   Criteria = "performance"
	CriteriaTrust         Criteria = "trust"
	CriteriaCopy          Criteria = "copy"
	CriteriaState         Criteria = "state"
	CriteriaA11y          Criteria = "a11y"
	CriteriaReliability   Criteria = "reliability"
	CriteriaMemorable     Criteria = "memorable"
)

// AllCriteria lists every criterion in report order.
func AllCriteria() []Criteria {
	return []Criteria{
		CriteriaFirst5s, CriteriaOneCTA, CriteriaHeroDiff, CriteriaNavConfidence,
		CriteriaCalm, CriteriaPerformance, CriteriaTrust, CriteriaCopy,
		CriteriaState, CriteriaA11y, CriteriaReliability, CriteriaMemorable,
	}
}

// Layer is where a fix lands.
type Layer string

const (
	LayerToken     Layer = "token"
	LayerComponent Layer = "component"
	LayerShell     Layer = "shell"
	LayerPage      Layer = "page"
	LayerCopy      Layer = "copy"
)

type Severity string

const (
	SeverityP0 Severity = "P0"
	SeverityP1 Severity = "P1"
	SeverityP2 Severity = "P2"
)

type DemoImpact string

const (
	DemoImpactHigh   DemoImpact = "high"
	DemoImpactMedium DemoImpact = "medium"
	DemoImpactLow    DemoImpact = "low"
)

type Effort string

const (
	EffortS Effort = "S"
	EffortM Effort = "M"
	EffortL Effort = "L"
)

// Status is an issue's lifecycle state.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusBlocked    Status = "blocked"
)

// Issue is one UX finding.
type Issue struct {
	ID               string     `json:"id" validate:"required"`
	Route            string     `json:"route" validate:"required"`
	Criteria         Criteria   `json:"criteria" validate:"oneof=first5s oneCta heroDiff navConfidence calm performance trust copy state a11y reliability memorable"`
	Layer            Layer      `json:"layer" validate:"oneof=token component shell page copy"`
	Severity         Severity   `json:"severity" validate:"oneof=P0 P1 P2"`
	DemoImpact       DemoImpact `json:"demoImpact" validate:"oneof=high medium low"`
	Effort           Effort     `json:"effort" validate:"oneof=S M L"`
	Symptom          string     `json:"symptom" validate:"required"`
	FixHypothesis    string     `json:"fixHypothesis"`
	Owner            string     `json:"owner"`
	Status           Status     `json:"status" validate:"oneof=open in_progress done blocked"`
	BeforeShot       string     `json:"beforeShot,omitempty"`
	AfterShot        string     `json:"afterShot,omitempty"`
	DetectedBy       string     `json:"detectedBy,omitempty"`
	Autofixable      bool       `json:"autofixable,omitempty"`
	AutofixRule      string     `json:"autofixRule,omitempty"`
	Confidence       *float64   `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	PatchPreviewPath string     `json:"patchPreviewPath,omitempty"`
	PriorityScore    *float64   `json:"priorityScore,omitempty"`
}

// CriteriaScore rates one criterion from 0 to 5.
type CriteriaScore struct {
	Criteria Criteria `json:"criteria" validate:"oneof=first5s oneCta heroDiff navConfidence calm performance trust copy state a11y reliability memorable"`
	Score    float64  `json:"score" validate:"gte=0,lte=5"`
	Note     string   `json:"note"`
}

// Summary is computed by Merge.
type Summary struct {
	OverallScore       float64 `json:"overallScore" validate:"gte=0,lte=5"`
	OpenIssues         int     `json:"openIssues" validate:"gte=0"`
	VerifyOK           bool    `json:"verifyOk"`
	VerifyFailedChecks int     `json:"verifyFailedChecks" validate:"gte=0"`
	GeneratedAt        string  `json:"generatedAt" validate:"required"`
}

// ScanMeta keeps the raw inputs a scan derived its issues from.
type ScanMeta struct {
	Checks        []session.StepResult `json:"checks"`
	VisualCapture *VisualCapture       `json:"visualCapture,omitempty"`
	VisualDiff    *VisualDiff          `json:"visualDiff,omitempty"`
	DOMHeuristics *domcheck.Result     `json:"domHeuristics,omitempty"`
}

// Report is the UX audit document.
type Report struct {
	BaselineDate string          `json:"baselineDate" validate:"required,datetime=2006-01-02"`
	Strict       bool            `json:"strict"`
	DemoFlow     []string        `json:"demoFlow"`
	Scores       []CriteriaScore `json:"scores" validate:"dive"`
	Issues       []Issue         `json:"issues" validate:"dive"`
	Summary      *Summary        `json:"summary,omitempty"`
	Meta         *ScanMeta       `json:"meta,omitempty"`
}

// Issue returns a pointer to the issue with id, or nil.
func (r *Report) Issue(id string) *Issue {
	for i := range r.Issues {
		if r.Issues[i].ID == id {
			return &r.Issues[i]
		}
	}
	return nil
}

// OpenIssues counts issues in status open.
func (r *Report) OpenIssues() int {
	n := 0
	for _, is := range r.Issues {
		if is.Status == StatusOpen {
			n++
		}
	}
	return n
}

// DefaultDemoFlow is the route sequence walked in product demos.
func DefaultDemoFlow() []string {
	return []string{"/", "/dashboard", "/protect", "/execute", "/govern", "/settings"}
}

func float(f float64) *float64 { return &f }
