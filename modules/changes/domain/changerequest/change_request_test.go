package changerequest_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firelater/firelater/modules/changes/domain/changerequest"
)

func validDraft() *changerequest.ChangeRequest {
	start := time.Now().Add(24 * time.Hour)
	end := start.Add(2 * time.Hour)
	return &changerequest.ChangeRequest{
		ID:           uuid.New(),
		TenantID:     uuid.New(),
		Title:        "upgrade db cluster",
		Type:         changerequest.TypeNormal,
		RiskLevel:    changerequest.RiskMedium,
		Impact:       changerequest.ImpactModerate,
		Status:       changerequest.StatusDraft,
		CabRequired:  true,
		RollbackPlan: "restore from snapshot",
		PlannedStart: &start,
		PlannedEnd:   &end,
		RequesterID:  uuid.New(),
	}
}

func TestValidateForSubmit(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, validDraft().ValidateForSubmit())
	})

	t.Run("empty rollback plan", func(t *testing.T) {
		t.Parallel()
		c := validDraft()
		c.RollbackPlan = "  "
		err := c.ValidateForSubmit()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rollback_plan")
	})

	t.Run("missing planned start", func(t *testing.T) {
		t.Parallel()
		c := validDraft()
		c.PlannedStart = nil
		assert.Error(t, c.ValidateForSubmit())
	})

	t.Run("missing planned end", func(t *testing.T) {
		t.Parallel()
		c := validDraft()
		c.PlannedEnd = nil
		assert.Error(t, c.ValidateForSubmit())
	})

	t.Run("unordered window", func(t *testing.T) {
		t.Parallel()
		c := validDraft()
		end := c.PlannedStart.Add(-time.Hour)
		c.PlannedEnd = &end
		err := c.ValidateForSubmit()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "planned_end")
	})

	t.Run("equal start and end", func(t *testing.T) {
		t.Parallel()
		c := validDraft()
		c.PlannedEnd = c.PlannedStart
		assert.Error(t, c.ValidateForSubmit())
	})
}
