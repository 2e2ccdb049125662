package permissions

import (
	"github.com/google/uuid"

	"github.com/firelater/firelater/pkg/permission"
)

const (
	ResourceChangeRequest permission.Resource = "change_request"
	ResourceCabMeeting    permission.Resource = "cab_meeting"
)

var (
	ChangeRequestCreate = &permission.Permission{
		ID:       uuid.MustParse("8f0a2d4e-6b1c-4f3a-9d5e-7c8b9a0f1e2d"),
		Name:     "ChangeRequest.Create",
		Resource: ResourceChangeRequest,
		Action:   permission.ActionCreate,
		Modifier: permission.ModifierAll,
	}
	ChangeRequestRead = &permission.Permission{
		ID:       uuid.MustParse("3c5e7a91-2d4f-46b8-a0c1-9e8d7f6b5a4c"),
		Name:     "ChangeRequest.Read",
		Resource: ResourceChangeRequest,
		Action:   permission.ActionRead,
		Modifier: permission.ModifierAll,
	}
	ChangeRequestUpdate = &permission.Permission{
		ID:       uuid.MustParse("b1d3f5a7-9c8e-4b2d-8f0a-1c3e5d7b9a0f"),
		Name:     "ChangeRequest.Update",
		Resource: ResourceChangeRequest,
		Action:   permission.ActionUpdate,
		Modifier: permission.ModifierAll,
	}
	ChangeRequestDelete = &permission.Permission{
		ID:       uuid.MustParse("6e8a0c2f-4b6d-48f1-b3a5-d7c9e1f3a5b7"),
		Name:     "ChangeRequest.Delete",
		Resource: ResourceChangeRequest,
		Action:   permission.ActionDelete,
		Modifier: permission.ModifierAll,
	}
	CabMeetingCreate = &permission.Permission{
		ID:       uuid.MustParse("0d2f4a6c-8e1b-43d5-97f9-a1b3c5d7e9f1"),
		Name:     "CabMeeting.Create",
		Resource: ResourceCabMeeting,
		Action:   permission.ActionCreate,
		Modifier: permission.ModifierAll,
	}
	CabMeetingRead = &permission.Permission{
		ID:       uuid.MustParse("5b7d9f1a-3c5e-47a9-b2d4-f6a8c0e2d4f6"),
		Name:     "CabMeeting.Read",
		Resource: ResourceCabMeeting,
		Action:   permission.ActionRead,
		Modifier: permission.ModifierAll,
	}
	CabMeetingUpdate = &permission.Permission{
		ID:       uuid.MustParse("a9c1e3f5-7b9d-41f3-85a7-c9e1b3d5f7a9"),
		Name:     "CabMeeting.Update",
		Resource: ResourceCabMeeting,
		Action:   permission.ActionUpdate,
		Modifier: permission.ModifierAll,
	}
)

var Permissions = []*permission.Permission{
	ChangeRequestCreate,
	ChangeRequestRead,
	ChangeRequestUpdate,
	ChangeRequestDelete,
	CabMeetingCreate,
	CabMeetingRead,
	CabMeetingUpdate,
}
