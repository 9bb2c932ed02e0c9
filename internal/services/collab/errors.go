package collab

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidInput  = errors.New("invalid input")
	ErrRoomCompleted = errors.New("room completed")
	ErrPersistence   = errors.New("persistence failure")
)

// RejectError is returned to the transport when an event is refused.
// Kind is one of the sentinel errors above, Message is what the client sees.
// Silent rejections are dropped without telling the client.
type RejectError struct {
	Kind    error
	Message string
	Silent  bool
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

func (e *RejectError) Unwrap() error { return e.Kind }

func reject(kind error, msg string) error {
	return &RejectError{Kind: kind, Message: msg}
}

func silent(kind error, msg string) error {
	return &RejectError{Kind: kind, Message: msg, Silent: true}
}

// IsSilent reports whether err is a rejection the client should not hear about.
func IsSilent(err error) bool {
	var re *RejectError
	return errors.As(err, &re) && re.Silent
}

// ClientMessage returns the text to send back for err.
func ClientMessage(err error) string {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Message
	}
	return "internal error"
}

const (
	msgRoomNotFound   = "room not found"
	msgMemberNotFound = "member not found in room"
	msgInvalidLink    = "invalid link, contact the administrator"
	msgNotTeacher     = "only the teacher can do this"
	msgCompleted      = "session is completed"
	msgEditDisabled   = "code editing is disabled"
	msgNotJoined      = "join the room first"
)
