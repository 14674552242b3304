package audit

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownIssue is returned for an id not in the report.
	ErrUnknownIssue = errors.New("unknown issue")
	// ErrInvalidTransition is returned for a status change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
)

var transitions = map[Status][]Status{
	StatusOpen:       {StatusInProgress, StatusDone, StatusBlocked},
	StatusInProgress: {StatusOpen, StatusDone, StatusBlocked},
	StatusBlocked:    {StatusOpen, StatusInProgress},
	StatusDone:       nil,
}

// CanTransition reports whether an issue may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition changes the status of issue id.
func (r *Report) Transition(id string, to Status) error {
	is := r.Issue(id)
	if is == nil {
		return fmt.Errorf("%w: %s", ErrUnknownIssue, id)
	}
	if !CanTransition(is.Status, to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, id, is.Status, to)
	}
	is.Status = to
	return nil
}

// AttachShots records before/after screenshot paths. Empty values leave
// the existing path unchanged.
func (r *Report) AttachShots(id, before, after string) error {
	is := r.Issue(id)
	if is == nil {
		return fmt.Errorf("%w: %s", ErrUnknownIssue, id)
	}
	if before != "" {
		is.BeforeShot = before
	}
	if after != "" {
		is.AfterShot = after
	}
	return nil
}

// AttachPatch records the path of a patch preview for issue id.
func (r *Report) AttachPatch(id, path string) error {
	is := r.Issue(id)
	if is == nil {
		return fmt.Errorf("%w: %s", ErrUnknownIssue, id)
	}
	is.PatchPreviewPath = path
	return nil
}
