package cabmeeting

import (
	"context"

	"github.com/google/uuid"

	"github.com/firelater/firelater/modules/changes/domain/changerequest"
)

// Repository persists meetings with their agenda, attendees and action items.
type Repository interface {
	Create(ctx context.Context, meeting *Meeting) (*Meeting, error)
	Update(ctx context.Context, meeting *Meeting) error
	GetByID(ctx context.Context, id uuid.UUID) (*Meeting, error)
	// GetByIDForUpdate locks the meeting row for the duration of the
	// transaction. Status gates checked against the locked row cannot be
	// invalidated by a concurrent transition before commit.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Meeting, error)
	GetPaginated(ctx context.Context, limit, offset int) ([]*Meeting, error)

	AddAgendaItem(ctx context.Context, item AgendaItem) (AgendaItem, error)
	RemoveAgendaItem(ctx context.Context, meetingID, changeID uuid.UUID) error
	// GetAgendaItemForUpdate locks the join row so concurrent decision
	// recordings for the same change in the same meeting serialize.
	GetAgendaItemForUpdate(ctx context.Context, meetingID, changeID uuid.UUID) (AgendaItem, error)
	SaveAgendaDecision(ctx context.Context, meetingID, changeID uuid.UUID, decision changerequest.Decision, decidedBy uuid.UUID, notes string) error

	AddAttendee(ctx context.Context, attendee Attendee) (Attendee, error)
	RemoveAttendee(ctx context.Context, meetingID, userID uuid.UUID) error

	AddActionItem(ctx context.Context, item ActionItem) (ActionItem, error)
	CompleteActionItem(ctx context.Context, meetingID, itemID uuid.UUID) error
}
