package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/firelater/firelater/modules/changes/domain/changerequest"
	"github.com/firelater/firelater/modules/changes/domain/quorum"
	"github.com/firelater/firelater/pkg/cache"
	"github.com/firelater/firelater/pkg/composables"
	"github.com/firelater/firelater/pkg/eventbus"
	"github.com/firelater/firelater/pkg/serrors"
)

// Options tunes the lifecycle engine. Zero values fall back to defaults.
type Options struct {
	MinApprovals int
	LockRetries  int
	RetryBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.MinApprovals < 1 {
		o.MinApprovals = 2
	}
	if o.LockRetries < 0 {
		o.LockRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 50 * time.Millisecond
	}
	return o
}

// TransitionResult is the success payload of a lifecycle operation.
type TransitionResult struct {
	Change *changerequest.ChangeRequest
	From   changerequest.Status
	To     changerequest.Status
}

// ApprovalOutcome reports what an approve call did. Transitioned is true only
// for the call that pushed the change into approved; otherwise Quorum carries
// the pending/blocked verdict.
type ApprovalOutcome struct {
	Change       *changerequest.ChangeRequest
	Quorum       quorum.Result
	Transitioned bool
}

// ChangeLifecycleService is the façade over the state graph, quorum policy,
// row-lock discipline and cache invalidation. Every mutation locks the change
// row, re-reads, re-validates against the fresh state, writes, invalidates the
// cache and commits as one unit.
type ChangeLifecycleService struct {
	repo      changerequest.Repository
	tracker   quorum.Tracker
	cache     *cache.Layer
	publisher eventbus.EventBus
	tx        TxRunner
	opts      Options
}

func NewChangeLifecycleService(
	repo changerequest.Repository,
	cacheLayer *cache.Layer,
	publisher eventbus.EventBus,
	tx TxRunner,
	opts Options,
) *ChangeLifecycleService {
	opts = opts.withDefaults()
	return &ChangeLifecycleService{
		repo:      repo,
		tracker:   quorum.NewTracker(opts.MinApprovals),
		cache:     cacheLayer,
		publisher: publisher,
		tx:        tx,
		opts:      opts,
	}
}

// Create persists a new draft change for the requester. Classification fields
// are validated; lifecycle gates apply from Submit onward.
func (s *ChangeLifecycleService) Create(ctx context.Context, change *changerequest.ChangeRequest) (*changerequest.ChangeRequest, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(change.Title) == "" {
		return nil, serrors.NewFieldRequiredError("title", "Changes.Fields.title")
	}
	if change.RequesterID == uuid.Nil {
		return nil, serrors.NewFieldRequiredError("requester_id", "Changes.Fields.requester_id")
	}

	change.TenantID = tenantID
	change.Status = changerequest.StatusDraft
	change.ApprovalCount = 0

	created, err := inTxResult(ctx, s.tx, func(txCtx context.Context) (*changerequest.ChangeRequest, error) {
		return s.repo.Create(txCtx, change)
	})
	if err != nil {
		return nil, err
	}
	invalidateChangeCache(ctx, s.cache, tenantID, created.ID)
	return created, nil
}

// Submit moves draft -> submitted after validating the rollback plan and
// planned window.
func (s *ChangeLifecycleService) Submit(ctx context.Context, changeID, actorID uuid.UUID) (*TransitionResult, error) {
	return s.transition(ctx, changeID, actorID, changerequest.ActionSubmit, "", func(_ context.Context, change *changerequest.ChangeRequest) error {
		return change.ValidateForSubmit()
	})
}

// BeginReview moves submitted -> review.
func (s *ChangeLifecycleService) BeginReview(ctx context.Context, changeID, actorID uuid.UUID) (*TransitionResult, error) {
	return s.transition(ctx, changeID, actorID, changerequest.ActionBeginReview, "", nil)
}

// Approve records the approver's decision and advances the change to approved
// when quorum is met (or immediately when no CAB is required). Repeat
// decisions from one approver overwrite, never duplicate.
func (s *ChangeLifecycleService) Approve(ctx context.Context, changeID, approverID uuid.UUID, notes string) (*ApprovalOutcome, error) {
	return s.recordApproval(ctx, changeID, approverID, false, notes)
}

// ApproveAsChair is Approve with the vote marked as a chair vote. Chair votes
// matter on rejection: one chair rejection blocks approval outright.
func (s *ChangeLifecycleService) ApproveAsChair(ctx context.Context, changeID, approverID uuid.UUID, notes string) (*ApprovalOutcome, error) {
	return s.recordApproval(ctx, changeID, approverID, true, notes)
}

func (s *ChangeLifecycleService) recordApproval(ctx context.Context, changeID, approverID uuid.UUID, chair bool, notes string) (*ApprovalOutcome, error) {
	if approverID == uuid.Nil {
		return nil, serrors.NewFieldRequiredError("approver_id", "Changes.Fields.approver_id")
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}

	outcome, err := withLockRetry(ctx, s.opts, func(ctx context.Context) (*ApprovalOutcome, error) {
		return inTxResult(ctx, s.tx, func(txCtx context.Context) (*ApprovalOutcome, error) {
			change, err := s.repo.GetByIDForUpdate(txCtx, changeID)
			if err != nil {
				return nil, err
			}
			// The state graph check runs against the freshly-locked state,
			// never a cached one. A vote that lands after a concurrent voter
			// already pushed the change into approved is still recorded, so
			// the approval count reflects every distinct approver.
			if change.Status != changerequest.StatusApproved {
				if _, err := changerequest.Transition(change.Status, changerequest.ActionApprove); err != nil {
					return nil, err
				}
			}

			approval := changerequest.Approval{
				ID:         uuid.New(),
				ChangeID:   change.ID,
				TenantID:   change.TenantID,
				ApproverID: approverID,
				Decision:   changerequest.DecisionApproved,
				ChairVote:  chair,
				Notes:      notes,
				DecidedAt:  time.Now(),
			}
			if _, err := s.repo.SaveApproval(txCtx, approval); err != nil {
				return nil, err
			}

			approvals, err := s.repo.Approvals(txCtx, change.ID)
			if err != nil {
				return nil, err
			}
			result := s.tracker.Evaluate(change.CabRequired, approvals)
			change.ApprovalCount = result.Approvals

			outcome := &ApprovalOutcome{Change: change, Quorum: result}
			if result.Verdict == quorum.Met && change.Status == changerequest.StatusReview {
				from := change.Status
				next, err := changerequest.Transition(change.Status, changerequest.ActionApprove)
				if err != nil {
					return nil, err
				}
				change.Status = next
				outcome.Transitioned = true
				if err := s.appendHistory(txCtx, change, from, next, changerequest.ActionApprove, approverID, notes); err != nil {
					return nil, err
				}
			}
			if err := s.repo.Update(txCtx, change); err != nil {
				return nil, err
			}
			return outcome, nil
		})
	})
	if err != nil {
		return nil, err
	}

	invalidateChangeCache(ctx, s.cache, tenantID, changeID)
	s.publisher.Publish(changerequest.NewDecisionRecordedEvent(ctx, changerequest.Approval{
		ChangeID:   changeID,
		ApproverID: approverID,
		Decision:   changerequest.DecisionApproved,
		ChairVote:  chair,
	}))
	if outcome.Transitioned {
		s.publisher.Publish(changerequest.NewStatusChangedEvent(
			ctx, outcome.Change, changerequest.StatusReview, changerequest.StatusApproved,
			changerequest.ActionApprove, approverID,
		))
	}
	return outcome, nil
}

// Reject records a rejection and immediately moves the change to rejected.
// One rejection from an authorized decision-maker is terminal; notes are
// mandatory because they are the requester's only feedback.
func (s *ChangeLifecycleService) Reject(ctx context.Context, changeID, approverID uuid.UUID, notes string) (*TransitionResult, error) {
	if strings.TrimSpace(notes) == "" {
		return nil, serrors.NewFieldRequiredError("notes", "Changes.Fields.notes")
	}
	return s.transition(ctx, changeID, approverID, changerequest.ActionReject, notes, func(txCtx context.Context, change *changerequest.ChangeRequest) error {
		approval := changerequest.Approval{
			ID:         uuid.New(),
			ChangeID:   change.ID,
			TenantID:   change.TenantID,
			ApproverID: approverID,
			Decision:   changerequest.DecisionRejected,
			Notes:      notes,
			DecidedAt:  time.Now(),
		}
		_, err := s.repo.SaveApproval(txCtx, approval)
		return err
	})
}

// Schedule moves approved -> scheduled. The quorum invariant holds by
// construction: a change only ever reaches approved through quorum.
func (s *ChangeLifecycleService) Schedule(ctx context.Context, changeID, actorID uuid.UUID) (*TransitionResult, error) {
	return s.transition(ctx, changeID, actorID, changerequest.ActionSchedule, "", func(_ context.Context, change *changerequest.ChangeRequest) error {
		// Belt and braces against direct writes bypassing the façade.
		if change.CabRequired && change.ApprovalCount < s.tracker.MinApprovals() {
			return serrors.NewError(
				"CHANGE_QUORUM_NOT_MET",
				"change cannot be scheduled without quorum",
				"Changes.Errors.QuorumNotMet",
			).WithDetail("approvals", change.ApprovalCount)
		}
		return nil
	})
}

// StartImplementation moves scheduled -> implementing.
func (s *ChangeLifecycleService) StartImplementation(ctx context.Context, changeID, actorID uuid.UUID) (*TransitionResult, error) {
	return s.transition(ctx, changeID, actorID, changerequest.ActionStartImpl, "", nil)
}

// Complete moves implementing -> completed.
func (s *ChangeLifecycleService) Complete(ctx context.Context, changeID, actorID uuid.UUID) (*TransitionResult, error) {
	return s.transition(ctx, changeID, actorID, changerequest.ActionComplete, "", nil)
}

// Fail moves implementing -> failed.
func (s *ChangeLifecycleService) Fail(ctx context.Context, changeID, actorID uuid.UUID, notes string) (*TransitionResult, error) {
	return s.transition(ctx, changeID, actorID, changerequest.ActionFail, notes, nil)
}

// RetrySchedule moves failed -> scheduled for another implementation window.
func (s *ChangeLifecycleService) RetrySchedule(ctx context.Context, changeID, actorID uuid.UUID) (*TransitionResult, error) {
	return s.transition(ctx, changeID, actorID, changerequest.ActionRetrySchedule, "", nil)
}

// Cancel moves any pre-implementation status (or failed) to cancelled.
func (s *ChangeLifecycleService) Cancel(ctx context.Context, changeID, actorID uuid.UUID, notes string) (*TransitionResult, error) {
	return s.transition(ctx, changeID, actorID, changerequest.ActionCancel, notes, nil)
}

// Close moves completed -> closed.
func (s *ChangeLifecycleService) Close(ctx context.Context, changeID, actorID uuid.UUID) (*TransitionResult, error) {
	return s.transition(ctx, changeID, actorID, changerequest.ActionClose, "", nil)
}

// ReevaluateApproval re-runs the quorum check from persisted state and
// advances the change if it now passes. CAB decision recording goes through
// this after forwarding a meeting decision.
func (s *ChangeLifecycleService) ReevaluateApproval(ctx context.Context, changeID, actorID uuid.UUID) (*ApprovalOutcome, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}

	outcome, err := withLockRetry(ctx, s.opts, func(ctx context.Context) (*ApprovalOutcome, error) {
		return inTxResult(ctx, s.tx, func(txCtx context.Context) (*ApprovalOutcome, error) {
			change, err := s.repo.GetByIDForUpdate(txCtx, changeID)
			if err != nil {
				return nil, err
			}
			if change.Status != changerequest.StatusReview {
				// Nothing to re-evaluate; a concurrent call may have advanced
				// the change already.
				return &ApprovalOutcome{Change: change}, nil
			}

			approvals, err := s.repo.Approvals(txCtx, change.ID)
			if err != nil {
				return nil, err
			}
			result := s.tracker.Evaluate(change.CabRequired, approvals)
			change.ApprovalCount = result.Approvals

			outcome := &ApprovalOutcome{Change: change, Quorum: result}
			if result.Verdict == quorum.Met {
				from := change.Status
				change.Status = changerequest.StatusApproved
				outcome.Transitioned = true
				if err := s.appendHistory(txCtx, change, from, change.Status, changerequest.ActionApprove, actorID, ""); err != nil {
					return nil, err
				}
			}
			if err := s.repo.Update(txCtx, change); err != nil {
				return nil, err
			}
			return outcome, nil
		})
	})
	if err != nil {
		return nil, err
	}

	invalidateChangeCache(ctx, s.cache, tenantID, changeID)
	if outcome.Transitioned {
		s.publisher.Publish(changerequest.NewStatusChangedEvent(
			ctx, outcome.Change, changerequest.StatusReview, changerequest.StatusApproved,
			changerequest.ActionApprove, actorID,
		))
	}
	return outcome, nil
}

// transition is the shared lock/re-read/validate/write/invalidate path for
// plain state-graph edges. extra runs inside the transaction against the
// freshly-locked change, before the status write.
func (s *ChangeLifecycleService) transition(
	ctx context.Context,
	changeID, actorID uuid.UUID,
	action changerequest.Action,
	notes string,
	extra func(txCtx context.Context, change *changerequest.ChangeRequest) error,
) (*TransitionResult, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}

	res, err := withLockRetry(ctx, s.opts, func(ctx context.Context) (*TransitionResult, error) {
		return inTxResult(ctx, s.tx, func(txCtx context.Context) (*TransitionResult, error) {
			change, err := s.repo.GetByIDForUpdate(txCtx, changeID)
			if err != nil {
				return nil, err
			}
			next, err := changerequest.Transition(change.Status, action)
			if err != nil {
				return nil, err
			}
			if extra != nil {
				if err := extra(txCtx, change); err != nil {
					return nil, err
				}
			}

			from := change.Status
			change.Status = next
			if err := s.appendHistory(txCtx, change, from, next, action, actorID, notes); err != nil {
				return nil, err
			}
			if err := s.repo.Update(txCtx, change); err != nil {
				return nil, err
			}
			return &TransitionResult{Change: change, From: from, To: next}, nil
		})
	})
	if err != nil {
		return nil, err
	}

	invalidateChangeCache(ctx, s.cache, tenantID, changeID)
	s.publisher.Publish(changerequest.NewStatusChangedEvent(ctx, res.Change, res.From, res.To, action, actorID))
	return res, nil
}

func (s *ChangeLifecycleService) appendHistory(
	ctx context.Context,
	change *changerequest.ChangeRequest,
	from, to changerequest.Status,
	action changerequest.Action,
	actorID uuid.UUID,
	notes string,
) error {
	return s.repo.AppendHistory(ctx, changerequest.StatusChange{
		ID:        uuid.New(),
		ChangeID:  change.ID,
		TenantID:  change.TenantID,
		From:      from,
		To:        to,
		Action:    action,
		ActorID:   actorID,
		Notes:     notes,
		CreatedAt: time.Now(),
	})
}

// withLockRetry retries lock conflicts a bounded number of times with linear
// backoff before surfacing the retryable error to the caller.
func withLockRetry[T any](ctx context.Context, opts Options, fn func(context.Context) (T, error)) (T, error) {
	var out T
	var err error
	for attempt := 0; ; attempt++ {
		out, err = fn(ctx)
		if err == nil || !errors.Is(err, changerequest.ErrConcurrentModification) {
			return out, err
		}
		lockConflictCounter.Inc()
		if attempt >= opts.LockRetries {
			return out, err
		}
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(opts.RetryBackoff * time.Duration(attempt+1)):
		}
	}
}
