package collab

import "coderoom/internal/services/rooms"

// Outbound events.
const (
	EventJoined            = "joined"
	EventJoinError         = "join-room:error"
	EventError             = "error"
	EventMembersUpdated    = "members-updated"
	EventMemberLeft        = "member-left"
	EventCursorAction      = "cursor-action"
	EventSelectionState    = "selection-state"
	EventCodeEditAction    = "code-edit-action"
	EventCodeEditConfirmed = "code-edit-confirmed"
	EventRoomEdited        = "room-edited"
	EventRoomStateLoaded   = "room-state-loaded"
	EventCompleteSession   = "complete-session"
)

// members-updated triggers.
const (
	TriggerJoin           = "join"
	TriggerLeave          = "leave"
	TriggerUsernameUpdate = "username-update"
)

// RoomRef addresses a room. Token is only read while the connection has no
// bound identity.
type RoomRef struct {
	RoomID string `json:"roomId" validate:"required,max=64"`
	Token  string `json:"token,omitempty"`
}

type JoinRequest struct {
	RoomRef
	Name *string `json:"name,omitempty" validate:"omitempty,max=64"`
}

type EditRoomRequest struct {
	RoomRef
	StudentCursorEnabled    *bool   `json:"studentCursorEnabled,omitempty"`
	StudentSelectionEnabled *bool   `json:"studentSelectionEnabled,omitempty"`
	StudentEditCodeEnabled  *bool   `json:"studentEditCodeEnabled,omitempty"`
	TaskID                  *string `json:"taskId,omitempty" validate:"omitempty,max=64"`
	Language                *string `json:"language,omitempty"`
}

func (r EditRoomRequest) Edit() rooms.RoomEdit {
	return rooms.RoomEdit{
		StudentCursorEnabled:    r.StudentCursorEnabled,
		StudentSelectionEnabled: r.StudentSelectionEnabled,
		StudentEditCodeEnabled:  r.StudentEditCodeEnabled,
		TaskID:                  r.TaskID,
		Language:                r.Language,
	}
}

type CursorRequest struct {
	RoomRef
	Position []float64 `json:"position"`
}

// CodeEditRequest carries an opaque CRDT update, base64 on the wire.
type CodeEditRequest struct {
	RoomRef
	Update []byte `json:"update"`
}

type EditMemberRequest struct {
	RoomRef
	// TargetIdentity defaults to the sender.
	TargetIdentity string `json:"targetIdentity,omitempty"`
	Name           string `json:"name" validate:"max=64"`
}

type CloseSessionRequest struct {
	RoomRef
}

type MembersUpdated struct {
	Members  []MemberView `json:"members"`
	Trigger  string       `json:"trigger"`
	Identity string       `json:"identity"`
}

type Joined struct {
	Identity          string          `json:"identity"`
	CurrentCursors    []CursorView    `json:"currentCursors"`
	CurrentSelections []SelectionView `json:"currentSelections"`
	UserColor         string          `json:"userColor"`
	IsTeacher         bool            `json:"isTeacher"`
	RoomPermissions   Permissions     `json:"roomPermissions"`
	Completed         bool            `json:"completed"`
}

type MemberLeft struct {
	Identity   string `json:"identity"`
	KeepCursor bool   `json:"keepCursor"`
}

type SelectionState struct {
	Selections  []SelectionView `json:"selections"`
	UpdatedUser string          `json:"updatedUser"`
}

type CodeEditAction struct {
	Identity string `json:"identity,omitempty"`
	Update   []byte `json:"update"`
	// Initial marks the full-state sync sent on join.
	Initial bool `json:"initial,omitempty"`
}

type CodeEditConfirmed struct {
	Timestamp int64 `json:"timestamp"`
}

type RoomStateLoaded struct {
	LastCode         string `json:"lastCode"`
	ParticipantCount int    `json:"participantCount"`
}

type CompleteSession struct {
	Message string `json:"message"`
}
