package permission

import "github.com/google/uuid"

type (
	Resource string
	Action   string
	Modifier string
)

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"

	ModifierAll Modifier = "all"
	ModifierOwn Modifier = "own"
)

type Permission struct {
	ID       uuid.UUID
	Name     string
	Resource Resource
	Action   Action
	Modifier Modifier
}
