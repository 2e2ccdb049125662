// Package quorum decides whether recorded CAB decisions permit a change to
// move to approved. Evaluation is pure: the caller supplies the freshly-read
// decision set and acts on the verdict.
package quorum

import (
	"fmt"

	"github.com/firelater/firelater/modules/changes/domain/changerequest"
)

type Verdict int

const (
	// Met means the approval threshold is satisfied and nothing blocks it.
	Met Verdict = iota
	// Pending means more distinct approving votes are needed.
	Pending
	// Blocked means policy forbids approval regardless of vote count.
	Blocked
)

func (v Verdict) String() string {
	switch v {
	case Met:
		return "met"
	case Pending:
		return "pending"
	case Blocked:
		return "blocked"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// Result is the outcome of one evaluation. Remaining is meaningful only for
// Pending; Reason only for Blocked.
type Result struct {
	Verdict   Verdict
	Approvals int
	Remaining int
	Reason    string
}

// Tracker evaluates decision sets against a minimum-approvals policy.
type Tracker struct {
	minApprovals int
}

func NewTracker(minApprovals int) Tracker {
	if minApprovals < 1 {
		minApprovals = 1
	}
	return Tracker{minApprovals: minApprovals}
}

func (t Tracker) MinApprovals() int {
	return t.minApprovals
}

// Evaluate counts distinct approvers whose latest decision is approved. When
// cabRequired is false the verdict is always Met: governance does not apply.
// A rejected vote from a chair blocks approval outright, independent of count.
// Approvals are expected to already be unique per approver (the repository
// upserts by approver), so no dedup happens here.
func (t Tracker) Evaluate(cabRequired bool, approvals []changerequest.Approval) Result {
	approved := 0
	for _, a := range approvals {
		if a.Decision == changerequest.DecisionApproved {
			approved++
		}
	}

	if !cabRequired {
		return Result{Verdict: Met, Approvals: approved}
	}

	for _, a := range approvals {
		if a.Decision == changerequest.DecisionRejected && a.ChairVote {
			return Result{
				Verdict:   Blocked,
				Approvals: approved,
				Reason:    fmt.Sprintf("chair %s rejected the change", a.ApproverID),
			}
		}
	}

	if approved >= t.minApprovals {
		return Result{Verdict: Met, Approvals: approved}
	}
	return Result{
		Verdict:   Pending,
		Approvals: approved,
		Remaining: t.minApprovals - approved,
	}
}
