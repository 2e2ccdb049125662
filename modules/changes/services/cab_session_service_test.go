package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firelater/firelater/modules/changes/domain/cabmeeting"
	"github.com/firelater/firelater/modules/changes/domain/changerequest"
	"github.com/firelater/firelater/modules/changes/domain/quorum"
)

type cabFixture struct {
	*fixture
	meeting *cabmeeting.Meeting
	chair   uuid.UUID
	member  uuid.UUID
}

// newCabFixture schedules a meeting with a chair and a member and starts it.
func newCabFixture(t *testing.T, opts Options) *cabFixture {
	t.Helper()
	f := newFixture(t, opts)
	chair := uuid.New()
	member := uuid.New()

	meeting, err := f.cab.ScheduleMeeting(f.ctx, time.Now().Add(time.Hour), "weekly CAB", []cabmeeting.Attendee{
		{UserID: chair, Role: cabmeeting.RoleChair},
		{UserID: member, Role: cabmeeting.RoleMember},
	})
	require.NoError(t, err)

	meeting, err = f.cab.StartMeeting(f.ctx, meeting.ID)
	require.NoError(t, err)
	require.Equal(t, cabmeeting.StatusInProgress, meeting.Status)

	return &cabFixture{fixture: f, meeting: meeting, chair: chair, member: member}
}

func (f *cabFixture) onAgenda(t *testing.T) *changerequest.ChangeRequest {
	t.Helper()
	change := f.toReview(t, true)
	_, err := f.cab.AddChangeToAgenda(f.ctx, f.meeting.ID, change.ID)
	require.NoError(t, err)
	return change
}

func TestCabSession_MeetingLifecycle(t *testing.T) {
	f := newFixture(t, Options{})

	meeting, err := f.cab.ScheduleMeeting(f.ctx, time.Now().Add(time.Hour), "", nil)
	require.NoError(t, err)
	assert.Equal(t, cabmeeting.StatusScheduled, meeting.Status)

	_, err = f.cab.CompleteMeeting(f.ctx, meeting.ID, "")
	require.ErrorIs(t, err, cabmeeting.ErrInvalidTransition)

	meeting, err = f.cab.StartMeeting(f.ctx, meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, cabmeeting.StatusInProgress, meeting.Status)

	_, err = f.cab.CancelMeeting(f.ctx, meeting.ID)
	require.ErrorIs(t, err, cabmeeting.ErrInvalidTransition)

	meeting, err = f.cab.CompleteMeeting(f.ctx, meeting.ID, "all items reviewed")
	require.NoError(t, err)
	assert.Equal(t, cabmeeting.StatusCompleted, meeting.Status)
	assert.Equal(t, "all items reviewed", meeting.Minutes)
}

// Racing Start and Cancel on one scheduled meeting must serialize on the row
// lock: exactly one edge commits, the loser re-reads the committed status and
// sees its action rejected instead of silently overwriting.
func TestCabSession_ConcurrentStartCancel(t *testing.T) {
	f := newFixture(t, Options{})
	meeting, err := f.cab.ScheduleMeeting(f.ctx, time.Now().Add(time.Hour), "", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = f.cab.StartMeeting(f.ctx, meeting.ID)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = f.cab.CancelMeeting(f.ctx, meeting.ID)
	}()
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, cabmeeting.ErrInvalidTransition)
		}
	}
	require.Equal(t, 1, succeeded)

	fresh, err := f.cab.GetMeeting(f.ctx, meeting.ID)
	require.NoError(t, err)
	if errs[0] == nil {
		assert.Equal(t, cabmeeting.StatusInProgress, fresh.Status)
	} else {
		assert.Equal(t, cabmeeting.StatusCancelled, fresh.Status)
	}
}

// Once CompleteMeeting commits, the locked status gate rejects any decision
// still trying to land on the meeting.
func TestCabSession_NoDecisionAfterCompletion(t *testing.T) {
	f := newCabFixture(t, Options{MinApprovals: 2})
	change := f.onAgenda(t)

	_, err := f.cab.CompleteMeeting(f.ctx, f.meeting.ID, "")
	require.NoError(t, err)

	_, err = f.cab.RecordDecision(f.ctx, f.meeting.ID, change.ID, changerequest.DecisionApproved, f.member, "")
	require.ErrorIs(t, err, cabmeeting.ErrMeetingNotActive)

	fresh, err := f.repo.GetByID(f.ctx, change.ID)
	require.NoError(t, err)
	assert.Equal(t, changerequest.StatusReview, fresh.Status)
	approvals, err := f.repo.Approvals(f.ctx, change.ID)
	require.NoError(t, err)
	assert.Empty(t, approvals)
}

// The meeting event fires only after the transaction commits: a subscriber
// can immediately take the row lock and sees the committed status, and a
// failed transition publishes nothing.
func TestCabSession_MeetingEventFollowsCommit(t *testing.T) {
	f := newFixture(t, Options{})
	meeting, err := f.cab.ScheduleMeeting(f.ctx, time.Now().Add(time.Hour), "", nil)
	require.NoError(t, err)

	var observed []cabmeeting.Status
	f.bus.Subscribe(func(e *MeetingStatusChangedEvent) {
		err := fakeTxRunner{}.InTx(f.ctx, func(txCtx context.Context) error {
			fresh, err := f.meetings.GetByIDForUpdate(txCtx, e.MeetingID)
			if err != nil {
				return err
			}
			observed = append(observed, fresh.Status)
			return nil
		})
		require.NoError(t, err)
	})

	_, err = f.cab.StartMeeting(f.ctx, meeting.ID)
	require.NoError(t, err)
	require.Equal(t, []cabmeeting.Status{cabmeeting.StatusInProgress}, observed)

	_, err = f.cab.CancelMeeting(f.ctx, meeting.ID)
	require.ErrorIs(t, err, cabmeeting.ErrInvalidTransition)
	assert.Len(t, observed, 1)
}

// Minutes commit together with the completed status; a subscriber reading at
// event time already sees them.
func TestCabSession_CompleteMeetingWritesMinutesAtomically(t *testing.T) {
	f := newCabFixture(t, Options{})

	var minutesAtEvent string
	f.bus.Subscribe(func(e *MeetingStatusChangedEvent) {
		if e.To != cabmeeting.StatusCompleted {
			return
		}
		fresh, err := f.meetings.GetByID(f.ctx, e.MeetingID)
		require.NoError(t, err)
		minutesAtEvent = fresh.Minutes
	})

	meeting, err := f.cab.CompleteMeeting(f.ctx, f.meeting.ID, "all items reviewed")
	require.NoError(t, err)
	assert.Equal(t, "all items reviewed", meeting.Minutes)
	assert.Equal(t, "all items reviewed", minutesAtEvent)

	fresh, err := f.cab.GetMeeting(f.ctx, f.meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, "all items reviewed", fresh.Minutes)
}

func TestCabSession_ScheduleRequiresTime(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.cab.ScheduleMeeting(f.ctx, time.Time{}, "", nil)
	require.Error(t, err)
}

func TestCabSession_AgendaGates(t *testing.T) {
	f := newCabFixture(t, Options{})
	change := f.onAgenda(t)

	// Removal works while the item is undecided.
	require.NoError(t, f.cab.RemoveChangeFromAgenda(f.ctx, f.meeting.ID, change.ID))

	_, err := f.cab.AddChangeToAgenda(f.ctx, f.meeting.ID, change.ID)
	require.NoError(t, err)

	_, err = f.cab.CompleteMeeting(f.ctx, f.meeting.ID, "")
	require.NoError(t, err)

	// A completed meeting accepts no agenda edits.
	_, err = f.cab.AddChangeToAgenda(f.ctx, f.meeting.ID, uuid.New())
	require.ErrorIs(t, err, cabmeeting.ErrMeetingClosed)
	err = f.cab.RemoveChangeFromAgenda(f.ctx, f.meeting.ID, change.ID)
	require.ErrorIs(t, err, cabmeeting.ErrMeetingClosed)
}

func TestCabSession_DecisionRequiresActiveMeeting(t *testing.T) {
	f := newFixture(t, Options{})
	change := f.toReview(t, true)

	meeting, err := f.cab.ScheduleMeeting(f.ctx, time.Now().Add(time.Hour), "", nil)
	require.NoError(t, err)
	_, err = f.cab.AddChangeToAgenda(f.ctx, meeting.ID, change.ID)
	require.NoError(t, err)

	_, err = f.cab.RecordDecision(f.ctx, meeting.ID, change.ID, changerequest.DecisionApproved, uuid.New(), "")
	require.ErrorIs(t, err, cabmeeting.ErrMeetingNotActive)
}

func TestCabSession_DecisionRequiresAgendaMembership(t *testing.T) {
	f := newCabFixture(t, Options{})
	change := f.toReview(t, true)

	_, err := f.cab.RecordDecision(f.ctx, f.meeting.ID, change.ID, changerequest.DecisionApproved, f.member, "")
	require.ErrorIs(t, err, cabmeeting.ErrChangeNotOnAgenda)
}

func TestCabSession_InvalidDecisionRejected(t *testing.T) {
	f := newCabFixture(t, Options{})
	change := f.onAgenda(t)

	_, err := f.cab.RecordDecision(f.ctx, f.meeting.ID, change.ID, changerequest.Decision("maybe"), f.member, "")
	require.Error(t, err)
}

func TestCabSession_ApprovalsReachQuorum(t *testing.T) {
	f := newCabFixture(t, Options{MinApprovals: 2})
	change := f.onAgenda(t)

	first, err := f.cab.RecordDecision(f.ctx, f.meeting.ID, change.ID, changerequest.DecisionApproved, f.member, "")
	require.NoError(t, err)
	assert.False(t, first.Transitioned)
	assert.Equal(t, quorum.Pending, first.Quorum.Verdict)

	second, err := f.cab.RecordDecision(f.ctx, f.meeting.ID, change.ID, changerequest.DecisionApproved, f.chair, "")
	require.NoError(t, err)
	assert.True(t, second.Transitioned)
	assert.Equal(t, changerequest.StatusApproved, second.Change.Status)
}

func TestCabSession_ChairRejectionIsTerminal(t *testing.T) {
	f := newCabFixture(t, Options{MinApprovals: 2})
	change := f.onAgenda(t)

	outcome, err := f.cab.RecordDecision(f.ctx, f.meeting.ID, change.ID, changerequest.DecisionRejected, f.chair, "risk assessment is stale")
	require.NoError(t, err)
	assert.True(t, outcome.Transitioned)
	assert.Equal(t, changerequest.StatusRejected, outcome.Change.Status)

	// Nothing moves a rejected change.
	_, err = f.cab.RecordDecision(f.ctx, f.meeting.ID, change.ID, changerequest.DecisionApproved, f.member, "")
	require.ErrorIs(t, err, changerequest.ErrTerminalState)
}

func TestCabSession_MemberRejectionDoesNotBlock(t *testing.T) {
	f := newCabFixture(t, Options{MinApprovals: 2})
	change := f.onAgenda(t)

	outcome, err := f.cab.RecordDecision(f.ctx, f.meeting.ID, change.ID, changerequest.DecisionRejected, f.member, "needs a longer window")
	require.NoError(t, err)
	assert.False(t, outcome.Transitioned)
	assert.Equal(t, changerequest.StatusReview, outcome.Change.Status)

	// Two approvals still carry the change over quorum.
	_, err = f.cab.RecordDecision(f.ctx, f.meeting.ID, change.ID, changerequest.DecisionApproved, f.chair, "")
	require.NoError(t, err)
	second, err := f.cab.RecordDecision(f.ctx, f.meeting.ID, change.ID, changerequest.DecisionApproved, uuid.New(), "")
	require.NoError(t, err)
	assert.True(t, second.Transitioned)
}

func TestCabSession_DeferredLeavesChangeInReview(t *testing.T) {
	f := newCabFixture(t, Options{MinApprovals: 2})
	change := f.onAgenda(t)

	outcome, err := f.cab.RecordDecision(f.ctx, f.meeting.ID, change.ID, changerequest.DecisionDeferred, f.chair, "revisit next week")
	require.NoError(t, err)
	assert.False(t, outcome.Transitioned)
	assert.Equal(t, changerequest.StatusReview, outcome.Change.Status)

	meeting, err := f.cab.GetMeeting(f.ctx, f.meeting.ID)
	require.NoError(t, err)
	item, ok := meeting.AgendaItemFor(change.ID)
	require.True(t, ok)
	require.True(t, item.Decided())
	assert.Equal(t, changerequest.DecisionDeferred, *item.Decision)
}

func TestCabSession_DecidedItemCannotBeRemoved(t *testing.T) {
	f := newCabFixture(t, Options{MinApprovals: 2})
	change := f.onAgenda(t)

	_, err := f.cab.RecordDecision(f.ctx, f.meeting.ID, change.ID, changerequest.DecisionApproved, f.member, "")
	require.NoError(t, err)

	err = f.cab.RemoveChangeFromAgenda(f.ctx, f.meeting.ID, change.ID)
	require.ErrorIs(t, err, cabmeeting.ErrDecisionRecorded)
}

func TestCabSession_CompleteMeetingLeavesUndecidedInReview(t *testing.T) {
	f := newCabFixture(t, Options{MinApprovals: 2})
	change := f.onAgenda(t)

	_, err := f.cab.CompleteMeeting(f.ctx, f.meeting.ID, "ran out of time")
	require.NoError(t, err)

	fresh, err := f.repo.GetByID(f.ctx, change.ID)
	require.NoError(t, err)
	assert.Equal(t, changerequest.StatusReview, fresh.Status)
}

func TestCabSession_BatchDecisionsIsolateFailures(t *testing.T) {
	f := newCabFixture(t, Options{MinApprovals: 1})
	onAgenda := f.onAgenda(t)
	offAgenda := f.toReview(t, true)

	results := f.cab.RecordDecisions(f.ctx, f.meeting.ID, map[uuid.UUID]changerequest.Decision{
		onAgenda.ID:  changerequest.DecisionApproved,
		offAgenda.ID: changerequest.DecisionApproved,
	}, f.chair)
	require.Len(t, results, 2)

	byChange := make(map[uuid.UUID]DecisionResult, len(results))
	for _, res := range results {
		byChange[res.ChangeID] = res
	}
	require.NoError(t, byChange[onAgenda.ID].Err)
	assert.True(t, byChange[onAgenda.ID].Outcome.Transitioned)
	require.ErrorIs(t, byChange[offAgenda.ID].Err, cabmeeting.ErrChangeNotOnAgenda)

	fresh, err := f.repo.GetByID(f.ctx, onAgenda.ID)
	require.NoError(t, err)
	assert.Equal(t, changerequest.StatusApproved, fresh.Status)
}

func TestCabSession_ActionItems(t *testing.T) {
	f := newCabFixture(t, Options{})

	_, err := f.cab.AddActionItem(f.ctx, f.meeting.ID, "  ", nil, nil)
	require.Error(t, err)

	item, err := f.cab.AddActionItem(f.ctx, f.meeting.ID, "update the runbook", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, cabmeeting.ActionItemOpen, item.Status)

	require.NoError(t, f.cab.CompleteActionItem(f.ctx, f.meeting.ID, item.ID))

	meeting, err := f.cab.GetMeeting(f.ctx, f.meeting.ID)
	require.NoError(t, err)
	require.Len(t, meeting.ActionItems, 1)
	assert.Equal(t, cabmeeting.ActionItemCompleted, meeting.ActionItems[0].Status)
}
