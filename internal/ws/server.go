package ws

import (
	"context"
	"net/http"
	"time"

	"coderoom/internal/services/collab"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const handlerTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // dev-only
	},
}

type WsServer struct {
	hub    *Hub
	router *Router
	engine *collab.Engine
}

func NewWsServer(h *Hub, engine *collab.Engine, v *validator.Validate) *WsServer {
	srv := &WsServer{
		hub:    h,
		router: NewRouter(v),
		engine: engine,
	}
	srv.registerHandlers() // ← all WS endpoints configured here
	return srv
}

// Handle is the gin entry-point. Identity is established by join-room, not
// by the upgrade request.
func (s *WsServer) Handle(ginCtx *gin.Context) {
	rawConn, err := upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.upgrade", zap.Error(err))
		return
	}

	c := newClientConn(uuid.NewString(), rawConn)
	s.hub.register(c)
	zap.L().Debug("ws.connected", zap.String("conn", c.id))

	go c.writePump()
	go c.readPump(s)
}

func (s *WsServer) registerHandlers() {
	e := s.engine

	Register(s.router, EventJoinRoom, collab.EventJoinError,
		func(ctx context.Context, cc *ConnContext, req collab.JoinRequest) error {
			return e.Join(ctx, cc.Session, req)
		})
	Register(s.router, EventEditRoom, collab.EventError,
		func(ctx context.Context, cc *ConnContext, req collab.EditRoomRequest) error {
			return e.EditRoom(ctx, cc.Session, req)
		})
	Register(s.router, EventCursor, collab.EventError,
		func(ctx context.Context, cc *ConnContext, req collab.CursorRequest) error {
			return e.Cursor(ctx, cc.Session, req)
		})
	Register(s.router, EventSelection, collab.EventError,
		func(ctx context.Context, cc *ConnContext, req collab.SelectionRequest) error {
			return e.Selection(ctx, cc.Session, req)
		})
	Register(s.router, EventCodeEdit, collab.EventError,
		func(ctx context.Context, cc *ConnContext, req collab.CodeEditRequest) error {
			return e.CodeEdit(ctx, cc.Session, req)
		})
	Register(s.router, EventEditMember, collab.EventError,
		func(ctx context.Context, cc *ConnContext, req collab.EditMemberRequest) error {
			return e.EditMember(ctx, cc.Session, req)
		})
	Register(s.router, EventCloseSession, collab.EventError,
		func(ctx context.Context, cc *ConnContext, req collab.CloseSessionRequest) error {
			return e.CloseSession(ctx, cc.Session, req)
		})
}
