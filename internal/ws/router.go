package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"coderoom/internal/services/collab"

	"github.com/go-playground/validator/v10"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrBadPayload   = errors.New("invalid payload")
)

// ConnContext is what handlers know about the calling connection.
type ConnContext struct {
	ConnID  string
	Session *collab.Session
}

// internal (untyped) handler signature.
type rawHandler func(ctx context.Context, c *ConnContext, body json.RawMessage) error

type route struct {
	handler rawHandler
	// errEvent names the frame a rejection is reported with.
	errEvent string
}

// Router keeps a map[event]handler, à-la gin.Engine.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]route
	validate *validator.Validate
}

func NewRouter(v *validator.Validate) *Router {
	if v == nil {
		v = validator.New()
	}
	return &Router{handlers: make(map[string]route), validate: v}
}

// Register binds an event to a strongly-typed handler. Bodies are decoded and
// validated before h runs; failures are reported as errEvent.
func Register[Req any](
	r *Router,
	event, errEvent string,
	h func(ctx context.Context, c *ConnContext, req Req) error,
) {
	if event == "" {
		panic("ws router: empty event")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[event] = route{
		errEvent: errEvent,
		handler: func(ctx context.Context, c *ConnContext, body json.RawMessage) error {
			var req Req
			if len(body) > 0 {
				if err := json.Unmarshal(body, &req); err != nil {
					return ErrBadPayload
				}
			}
			if err := r.validate.Struct(req); err != nil {
				return ErrBadPayload
			}
			return h(ctx, c, req)
		},
	}
}

// dispatch is called by the reader loop. It returns the event a failure
// should be reported with.
func (r *Router) dispatch(ctx context.Context, c *ConnContext, env Envelope) (string, error) {
	r.mu.RLock()
	rt, ok := r.handlers[env.Event]
	r.mu.RUnlock()
	if !ok {
		return collab.EventError, ErrUnknownEvent
	}
	return rt.errEvent, rt.handler(ctx, c, env.Body)
}

func clientMessage(err error) string {
	switch {
	case errors.Is(err, ErrUnknownEvent), errors.Is(err, ErrBadPayload):
		return err.Error()
	default:
		return collab.ClientMessage(err)
	}
}
