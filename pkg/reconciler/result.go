package reconciler

import "github.com/agentstation/ownertag/pkg/mapping"

// Status is the outcome of one reconciliation.
type Status string

const (
	// StatusUnchanged means the document already had the right owner-tag.
	StatusUnchanged Status = "unchanged"
	// StatusUpdated means the document's tags were rewritten.
	StatusUpdated Status = "updated"
	// StatusSkipped means the document vanished before it could be read.
	StatusSkipped Status = "skipped"
)

// Result describes what a reconciliation did, or would do in dry-run mode.
type Result struct {
	DocumentID int
	Status     Status

	// Owner is the resolved owner username, empty when none.
	Owner string

	// Desired is the owner-tag name for Owner, empty when none applies.
	Desired string
	Source  mapping.Source

	Added   []int
	Removed []int

	// Tags is the document's tag set after reconciliation.
	Tags []int

	// DryRun is set when an update was computed but not written.
	DryRun bool
}

// Changed reports whether the document needed a tag update.
func (r *Result) Changed() bool {
	return r != nil && r.Status == StatusUpdated
}
