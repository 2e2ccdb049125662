package services

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/firelater/firelater/modules/changes/domain/cabmeeting"
	"github.com/firelater/firelater/modules/changes/domain/changerequest"
	"github.com/firelater/firelater/pkg/cache"
	"github.com/firelater/firelater/pkg/composables"
	"github.com/firelater/firelater/pkg/eventbus"
)

// The fakes below emulate the persistence layer in memory. Row locking is
// modeled with one mutex per change held for the duration of the fake
// transaction; an acquire that exceeds the bounded wait surfaces
// ErrConcurrentModification exactly like the lock_timeout path does.

type txStateKey struct{}

type txState struct {
	mu    sync.Mutex
	locks []*sync.Mutex
}

func (s *txState) hold(l *sync.Mutex) {
	s.mu.Lock()
	s.locks = append(s.locks, l)
	s.mu.Unlock()
}

func (s *txState) holds(l *sync.Mutex) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, held := range s.locks {
		if held == l {
			return true
		}
	}
	return false
}

type fakeTxRunner struct{}

func (fakeTxRunner) InTx(ctx context.Context, fn func(context.Context) error) error {
	st := &txState{}
	err := fn(context.WithValue(ctx, txStateKey{}, st))
	for _, l := range st.locks {
		l.Unlock()
	}
	return err
}

const fakeLockWait = 20 * time.Millisecond

type memChangeRepo struct {
	mu        sync.Mutex
	changes   map[uuid.UUID]*changerequest.ChangeRequest
	approvals map[uuid.UUID]map[uuid.UUID]changerequest.Approval
	history   map[uuid.UUID][]changerequest.StatusChange
	rowLocks  map[uuid.UUID]*sync.Mutex
}

func newMemChangeRepo() *memChangeRepo {
	return &memChangeRepo{
		changes:   make(map[uuid.UUID]*changerequest.ChangeRequest),
		approvals: make(map[uuid.UUID]map[uuid.UUID]changerequest.Approval),
		history:   make(map[uuid.UUID][]changerequest.StatusChange),
		rowLocks:  make(map[uuid.UUID]*sync.Mutex),
	}
}

func cloneChange(c *changerequest.ChangeRequest) *changerequest.ChangeRequest {
	out := *c
	if c.PlannedStart != nil {
		t := *c.PlannedStart
		out.PlannedStart = &t
	}
	if c.PlannedEnd != nil {
		t := *c.PlannedEnd
		out.PlannedEnd = &t
	}
	return &out
}

func (r *memChangeRepo) rowLock(id uuid.UUID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.rowLocks[id]
	if !ok {
		l = &sync.Mutex{}
		r.rowLocks[id] = l
	}
	return l
}

func (r *memChangeRepo) Create(_ context.Context, change *changerequest.ChangeRequest) (*changerequest.ChangeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if change.ID == uuid.Nil {
		change.ID = uuid.New()
	}
	now := time.Now()
	change.CreatedAt = now
	change.UpdatedAt = now
	r.changes[change.ID] = cloneChange(change)
	return cloneChange(change), nil
}

func (r *memChangeRepo) Update(_ context.Context, change *changerequest.ChangeRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.changes[change.ID]; !ok {
		return changerequest.ErrNotFound
	}
	change.UpdatedAt = time.Now()
	r.changes[change.ID] = cloneChange(change)
	return nil
}

func (r *memChangeRepo) GetByID(_ context.Context, id uuid.UUID) (*changerequest.ChangeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	change, ok := r.changes[id]
	if !ok {
		return nil, changerequest.ErrNotFound
	}
	return cloneChange(change), nil
}

func (r *memChangeRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*changerequest.ChangeRequest, error) {
	st, _ := ctx.Value(txStateKey{}).(*txState)
	if st != nil {
		l := r.rowLock(id)
		if !st.holds(l) {
			deadline := time.Now().Add(fakeLockWait)
			for !l.TryLock() {
				if time.Now().After(deadline) {
					return nil, changerequest.ErrConcurrentModification
				}
				time.Sleep(500 * time.Microsecond)
			}
			st.hold(l)
		}
	}
	return r.GetByID(ctx, id)
}

func (r *memChangeRepo) GetPaginated(_ context.Context, params *changerequest.FindParams) ([]*changerequest.ChangeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*changerequest.ChangeRequest, 0, len(r.changes))
	for _, c := range r.changes {
		if matchesFilters(c, params) {
			out = append(out, cloneChange(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func matchesFilters(c *changerequest.ChangeRequest, params *changerequest.FindParams) bool {
	if params == nil {
		return true
	}
	for _, f := range params.Filters {
		if f.Column == changerequest.StatusField && string(c.Status) != f.Value {
			return false
		}
	}
	return true
}

func (r *memChangeRepo) Count(ctx context.Context, params *changerequest.FindParams) (int64, error) {
	items, err := r.GetPaginated(ctx, params)
	if err != nil {
		return 0, err
	}
	return int64(len(items)), nil
}

func (r *memChangeRepo) CountByStatus(_ context.Context) (map[changerequest.Status]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[changerequest.Status]int64)
	for _, c := range r.changes {
		out[c.Status]++
	}
	return out, nil
}

func (r *memChangeRepo) Approvals(_ context.Context, changeID uuid.UUID) ([]changerequest.Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]changerequest.Approval, 0, len(r.approvals[changeID]))
	for _, a := range r.approvals[changeID] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DecidedAt.Before(out[j].DecidedAt) })
	return out, nil
}

func (r *memChangeRepo) SaveApproval(_ context.Context, approval changerequest.Approval) (changerequest.Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byApprover, ok := r.approvals[approval.ChangeID]
	if !ok {
		byApprover = make(map[uuid.UUID]changerequest.Approval)
		r.approvals[approval.ChangeID] = byApprover
	}
	if existing, ok := byApprover[approval.ApproverID]; ok {
		approval.ID = existing.ID
	}
	byApprover[approval.ApproverID] = approval
	return approval, nil
}

func (r *memChangeRepo) AppendHistory(_ context.Context, entry changerequest.StatusChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[entry.ChangeID] = append(r.history[entry.ChangeID], entry)
	return nil
}

func (r *memChangeRepo) History(_ context.Context, changeID uuid.UUID) ([]changerequest.StatusChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]changerequest.StatusChange, len(r.history[changeID]))
	copy(out, r.history[changeID])
	return out, nil
}

type memMeetingRepo struct {
	mu       sync.Mutex
	meetings map[uuid.UUID]*cabmeeting.Meeting
	rowLocks map[uuid.UUID]*sync.Mutex
}

func newMemMeetingRepo() *memMeetingRepo {
	return &memMeetingRepo{
		meetings: make(map[uuid.UUID]*cabmeeting.Meeting),
		rowLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (r *memMeetingRepo) rowLock(id uuid.UUID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.rowLocks[id]
	if !ok {
		l = &sync.Mutex{}
		r.rowLocks[id] = l
	}
	return l
}

func cloneMeeting(m *cabmeeting.Meeting) *cabmeeting.Meeting {
	out := *m
	out.Changes = append([]cabmeeting.AgendaItem(nil), m.Changes...)
	out.Attendees = append([]cabmeeting.Attendee(nil), m.Attendees...)
	out.ActionItems = append([]cabmeeting.ActionItem(nil), m.ActionItems...)
	return &out
}

func (r *memMeetingRepo) Create(_ context.Context, meeting *cabmeeting.Meeting) (*cabmeeting.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if meeting.ID == uuid.Nil {
		meeting.ID = uuid.New()
	}
	now := time.Now()
	meeting.CreatedAt = now
	meeting.UpdatedAt = now
	r.meetings[meeting.ID] = cloneMeeting(meeting)
	return cloneMeeting(meeting), nil
}

func (r *memMeetingRepo) Update(_ context.Context, meeting *cabmeeting.Meeting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.meetings[meeting.ID]
	if !ok {
		return cabmeeting.ErrNotFound
	}
	updated := cloneMeeting(meeting)
	// Relations are managed through their own repository calls.
	updated.Changes = stored.Changes
	updated.Attendees = stored.Attendees
	updated.ActionItems = stored.ActionItems
	updated.UpdatedAt = time.Now()
	r.meetings[meeting.ID] = updated
	return nil
}

func (r *memMeetingRepo) GetByID(_ context.Context, id uuid.UUID) (*cabmeeting.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	meeting, ok := r.meetings[id]
	if !ok {
		return nil, cabmeeting.ErrNotFound
	}
	return cloneMeeting(meeting), nil
}

func (r *memMeetingRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*cabmeeting.Meeting, error) {
	st, _ := ctx.Value(txStateKey{}).(*txState)
	if st != nil {
		l := r.rowLock(id)
		if !st.holds(l) {
			deadline := time.Now().Add(fakeLockWait)
			for !l.TryLock() {
				if time.Now().After(deadline) {
					return nil, changerequest.ErrConcurrentModification
				}
				time.Sleep(500 * time.Microsecond)
			}
			st.hold(l)
		}
	}
	return r.GetByID(ctx, id)
}

func (r *memMeetingRepo) GetPaginated(_ context.Context, limit, offset int) ([]*cabmeeting.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*cabmeeting.Meeting, 0, len(r.meetings))
	for _, m := range r.meetings {
		out = append(out, cloneMeeting(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.After(out[j].ScheduledAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *memMeetingRepo) AddAgendaItem(_ context.Context, item cabmeeting.AgendaItem) (cabmeeting.AgendaItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	meeting, ok := r.meetings[item.MeetingID]
	if !ok {
		return cabmeeting.AgendaItem{}, cabmeeting.ErrNotFound
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	meeting.Changes = append(meeting.Changes, item)
	return item, nil
}

func (r *memMeetingRepo) RemoveAgendaItem(_ context.Context, meetingID, changeID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	meeting, ok := r.meetings[meetingID]
	if !ok {
		return cabmeeting.ErrNotFound
	}
	for i, item := range meeting.Changes {
		if item.ChangeID == changeID {
			meeting.Changes = append(meeting.Changes[:i], meeting.Changes[i+1:]...)
			return nil
		}
	}
	return cabmeeting.ErrChangeNotOnAgenda
}

func (r *memMeetingRepo) GetAgendaItemForUpdate(_ context.Context, meetingID, changeID uuid.UUID) (cabmeeting.AgendaItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	meeting, ok := r.meetings[meetingID]
	if !ok {
		return cabmeeting.AgendaItem{}, cabmeeting.ErrNotFound
	}
	for _, item := range meeting.Changes {
		if item.ChangeID == changeID {
			return item, nil
		}
	}
	return cabmeeting.AgendaItem{}, cabmeeting.ErrChangeNotOnAgenda
}

func (r *memMeetingRepo) SaveAgendaDecision(_ context.Context, meetingID, changeID uuid.UUID, decision changerequest.Decision, decidedBy uuid.UUID, notes string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	meeting, ok := r.meetings[meetingID]
	if !ok {
		return cabmeeting.ErrNotFound
	}
	for i := range meeting.Changes {
		if meeting.Changes[i].ChangeID == changeID {
			d := decision
			by := decidedBy
			meeting.Changes[i].Decision = &d
			meeting.Changes[i].DecidedBy = &by
			meeting.Changes[i].DecisionNotes = notes
			return nil
		}
	}
	return cabmeeting.ErrChangeNotOnAgenda
}

func (r *memMeetingRepo) AddAttendee(_ context.Context, attendee cabmeeting.Attendee) (cabmeeting.Attendee, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	meeting, ok := r.meetings[attendee.MeetingID]
	if !ok {
		return cabmeeting.Attendee{}, cabmeeting.ErrNotFound
	}
	if attendee.ID == uuid.Nil {
		attendee.ID = uuid.New()
	}
	meeting.Attendees = append(meeting.Attendees, attendee)
	return attendee, nil
}

func (r *memMeetingRepo) RemoveAttendee(_ context.Context, meetingID, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	meeting, ok := r.meetings[meetingID]
	if !ok {
		return cabmeeting.ErrNotFound
	}
	for i, a := range meeting.Attendees {
		if a.UserID == userID {
			meeting.Attendees = append(meeting.Attendees[:i], meeting.Attendees[i+1:]...)
			return nil
		}
	}
	return nil
}

func (r *memMeetingRepo) AddActionItem(_ context.Context, item cabmeeting.ActionItem) (cabmeeting.ActionItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	meeting, ok := r.meetings[item.MeetingID]
	if !ok {
		return cabmeeting.ActionItem{}, cabmeeting.ErrNotFound
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	meeting.ActionItems = append(meeting.ActionItems, item)
	return item, nil
}

func (r *memMeetingRepo) CompleteActionItem(_ context.Context, meetingID, itemID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	meeting, ok := r.meetings[meetingID]
	if !ok {
		return cabmeeting.ErrNotFound
	}
	for i := range meeting.ActionItems {
		if meeting.ActionItems[i].ID == itemID {
			meeting.ActionItems[i].Status = cabmeeting.ActionItemCompleted
			return nil
		}
	}
	return cabmeeting.ErrNotFound
}

type fixture struct {
	tenantID  uuid.UUID
	ctx       context.Context
	repo      *memChangeRepo
	meetings  *memMeetingRepo
	cache     *cache.Layer
	redis     *miniredis.Miniredis
	bus       eventbus.EventBus
	lifecycle *ChangeLifecycleService
	cab       *CabSessionService
	query     *ChangeQueryService
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	repo := newMemChangeRepo()
	meetings := newMemMeetingRepo()
	layer := cache.NewLayer(cache.NewRedisCache(client), log)
	publisher := eventbus.NewEventPublisher(log)
	lifecycle := NewChangeLifecycleService(repo, layer, publisher, fakeTxRunner{}, opts)

	tenantID := uuid.New()
	return &fixture{
		tenantID:  tenantID,
		ctx:       composables.WithTenantID(context.Background(), tenantID),
		repo:      repo,
		meetings:  meetings,
		cache:     layer,
		redis:     s,
		bus:       publisher,
		lifecycle: lifecycle,
		cab:       NewCabSessionService(meetings, lifecycle, publisher, fakeTxRunner{}),
		query:     NewChangeQueryService(repo, layer, QueryOptions{}),
	}
}

func (f *fixture) newDraft(t *testing.T, cabRequired bool) *changerequest.ChangeRequest {
	t.Helper()
	start := time.Now().Add(24 * time.Hour)
	end := start.Add(2 * time.Hour)
	change, err := f.lifecycle.Create(f.ctx, &changerequest.ChangeRequest{
		Title:        "Upgrade primary database",
		Description:  "Move the primary to the new cluster",
		Type:         changerequest.TypeNormal,
		RiskLevel:    changerequest.RiskHigh,
		Impact:       changerequest.ImpactMajor,
		CabRequired:  cabRequired,
		RollbackPlan: "Fail back to the old primary",
		PlannedStart: &start,
		PlannedEnd:   &end,
		RequesterID:  uuid.New(),
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	return change
}

// toReview walks a fresh draft to review.
func (f *fixture) toReview(t *testing.T, cabRequired bool) *changerequest.ChangeRequest {
	t.Helper()
	change := f.newDraft(t, cabRequired)
	actor := uuid.New()
	if _, err := f.lifecycle.Submit(f.ctx, change.ID, actor); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.lifecycle.BeginReview(f.ctx, change.ID, actor); err != nil {
		t.Fatalf("begin review: %v", err)
	}
	fresh, err := f.repo.GetByID(f.ctx, change.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	return fresh
}
