package collab

// Action is a mutating operation subject to authorization.
type Action int

const (
	ActionCursor Action = iota
	ActionSelection
	ActionCodeEdit
	ActionEditRoom
	ActionEditMember
	ActionCloseSession
)

type roomPolicy struct {
	teacher   string
	perms     Permissions
	completed bool
}

// Authorize is the one predicate consulted by every mutating handler.
// The teacher is exempt from the completed and student-permission checks on
// presence, code and member edits. target is only used for ActionEditMember.
func Authorize(act Action, actor, target string, p roomPolicy) error {
	if actor == "" {
		return reject(ErrForbidden, msgInvalidLink)
	}
	teacher := actor == p.teacher

	switch act {
	case ActionCursor:
		if teacher {
			return nil
		}
		if p.completed {
			return silent(ErrRoomCompleted, msgCompleted)
		}
		if !p.perms.StudentCursorEnabled {
			return silent(ErrForbidden, "cursor sharing is disabled")
		}
	case ActionSelection:
		if teacher {
			return nil
		}
		if p.completed {
			return silent(ErrRoomCompleted, msgCompleted)
		}
		if !p.perms.StudentSelectionEnabled {
			return silent(ErrForbidden, "selection sharing is disabled")
		}
	case ActionCodeEdit:
		if teacher {
			return nil
		}
		if p.completed {
			return reject(ErrRoomCompleted, msgCompleted)
		}
		if !p.perms.StudentEditCodeEnabled {
			return reject(ErrForbidden, msgEditDisabled)
		}
	case ActionEditMember:
		if teacher {
			return nil
		}
		if actor != target {
			return reject(ErrForbidden, "only the member or the teacher can rename")
		}
		if p.completed {
			return reject(ErrRoomCompleted, msgCompleted)
		}
	case ActionEditRoom, ActionCloseSession:
		if !teacher {
			return reject(ErrForbidden, msgNotTeacher)
		}
		if p.completed {
			return reject(ErrRoomCompleted, msgCompleted)
		}
	}
	return nil
}

// IdentityResolver maps client tokens to identities.
type IdentityResolver interface {
	// Resolve may mint a guest identity for an empty token.
	Resolve(token string) (string, error)
	// ResolveExisting never mints.
	ResolveExisting(token string) (string, error)
}

// Session is the per-connection state the transport keeps between events.
// Identity is bound by the first successful join and never changes.
type Session struct {
	ConnID   string
	Identity string
	RoomID   string
}

// guard resolves who is acting before an event reaches a room.
type guard struct {
	ids IdentityResolver
}

func (g guard) joinIdentity(s *Session, token string) (string, error) {
	if s.Identity != "" {
		return s.Identity, nil
	}
	id, err := g.ids.Resolve(token)
	if err != nil {
		return "", reject(ErrForbidden, msgInvalidLink)
	}
	return id, nil
}

func (g guard) identity(s *Session, token string) (string, error) {
	if s.Identity != "" {
		return s.Identity, nil
	}
	if token == "" {
		return "", reject(ErrForbidden, msgNotJoined)
	}
	id, err := g.ids.ResolveExisting(token)
	if err != nil {
		return "", reject(ErrForbidden, msgInvalidLink)
	}
	return id, nil
}
