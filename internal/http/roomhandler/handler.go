package roomhandler

import (
	"context"
	"errors"
	"net/http"

	"coderoom/internal/services/collab"
	"coderoom/internal/services/rooms"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RoomStore is the part of rooms.IRoomService the REST surface reads.
type RoomStore interface {
	Create(ctx context.Context, teacher string) (*rooms.Room, error)
	Get(ctx context.Context, id string) (*rooms.Room, error)
	List(ctx context.Context, identity string, page, limit int) (*rooms.RoomPage, error)
}

// Sessions is implemented by *collab.Engine. Edits and deletes go through it
// so that live rooms see them.
type Sessions interface {
	EditRoomAs(ctx context.Context, identity, roomID string, edit rooms.RoomEdit) (*rooms.Room, error)
	DeleteRoom(ctx context.Context, identity, roomID string) error
	ActiveRooms() int
	OnlineMembers() int
}

type Identities interface {
	ResolveExisting(token string) (string, error)
}

type Handler struct {
	store    RoomStore
	sessions Sessions
	ids      Identities
}

func New(store RoomStore, sessions Sessions, ids Identities) *Handler {
	return &Handler{store: store, sessions: sessions, ids: ids}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/health", h.health)
	r.GET("/rooms", h.list)
	r.POST("/rooms", h.create)
	r.GET("/rooms/:id", h.info)
	r.PUT("/rooms/:id", h.edit)
	r.DELETE("/rooms/:id", h.remove)
}

// @Summary		Service health
// @Tags			Health
// @Success		200	{object}	HealthResponse
// @Router			/health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:        "ok",
		ActiveRooms:   h.sessions.ActiveRooms(),
		OnlineMembers: h.sessions.OnlineMembers(),
	})
}

// @Summary		Create a room
// @Description	Creates a room owned by the identity behind the token.
// @Tags			Rooms
// @Param			body	body		TokenBody	true	"Owner token"
// @Success		201		{object}	rooms.Room
// @Failure		400		{object}	ErrorResponse
// @Failure		403		{object}	ErrorResponse
// @Router			/rooms [post]
func (h *Handler) create(ginCtx *gin.Context) {
	var body TokenBody
	if err := ginCtx.ShouldBindJSON(&body); err != nil {
		ginCtx.JSON(http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
		return
	}
	identity, ok := h.identity(ginCtx, body.Token)
	if !ok {
		return
	}
	room, err := h.store.Create(ginCtx.Request.Context(), identity)
	if err != nil {
		zap.L().Error("rooms.create", zap.Error(err))
		ginCtx.JSON(http.StatusInternalServerError, &ErrorResponse{Error: "could not create room"})
		return
	}
	ginCtx.JSON(http.StatusCreated, room)
}

// @Summary		List rooms
// @Description	Rooms where the identity is teacher or student, newest first.
// @Tags			Rooms
// @Param			token	query		string	true	"Identity token"
// @Param			page	query		int		false	"Page (1-based)"		minimum(1)	default(1)
// @Param			limit	query		int		false	"Page size (1‑100)"	minimum(1)	maximum(100)	default(5)
// @Success		200		{object}	rooms.RoomPage
// @Failure		400		{object}	ErrorResponse
// @Failure		403		{object}	ErrorResponse
// @Router			/rooms [get]
func (h *Handler) list(c *gin.Context) {
	var q ListRoomsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	identity, ok := h.identity(c, q.Token)
	if !ok {
		return
	}
	out, err := h.store.List(c.Request.Context(), identity, q.Page, q.Limit)
	if err != nil {
		zap.L().Error("rooms.list", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "could not list rooms"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// @Summary		Get room details
// @Tags			Rooms
// @Param			id	path		string	true	"Room ID"
// @Success		200	{object}	rooms.Room
// @Failure		404	{object}	ErrorResponse
// @Router			/rooms/{id} [get]
func (h *Handler) info(c *gin.Context) {
	room, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, rooms.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
			return
		}
		zap.L().Error("rooms.get", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "could not load room"})
		return
	}
	c.JSON(http.StatusOK, room)
}

// @Summary		Edit a room
// @Description	Teacher changes permissions, task or language. Live sessions get room-edited.
// @Tags			Rooms
// @Param			id		path		string			true	"Room ID"
// @Param			body	body		EditRoomBody	true	"Fields to change"
// @Success		200		{object}	rooms.Room
// @Failure		400		{object}	ErrorResponse
// @Failure		403		{object}	ErrorResponse
// @Failure		404		{object}	ErrorResponse
// @Router			/rooms/{id} [put]
func (h *Handler) edit(ginCtx *gin.Context) {
	var body EditRoomBody
	if err := ginCtx.ShouldBindJSON(&body); err != nil {
		ginCtx.JSON(http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
		return
	}
	identity, ok := h.identity(ginCtx, body.Token)
	if !ok {
		return
	}
	room, err := h.sessions.EditRoomAs(ginCtx.Request.Context(), identity, ginCtx.Param("id"), rooms.RoomEdit{
		StudentCursorEnabled:    body.StudentCursorEnabled,
		StudentSelectionEnabled: body.StudentSelectionEnabled,
		StudentEditCodeEnabled:  body.StudentEditCodeEnabled,
		TaskID:                  body.TaskID,
		Language:                body.Language,
	})
	if err != nil {
		ginCtx.JSON(statusOf(err), &ErrorResponse{Error: collab.ClientMessage(err)})
		return
	}
	ginCtx.JSON(http.StatusOK, room)
}

// @Summary		Delete a room
// @Description	Teacher deletes the room; connected members get complete-session.
// @Tags			Rooms
// @Param			id		path	string		true	"Room ID"
// @Param			body	body	TokenBody	true	"Teacher token"
// @Success		204
// @Failure		403	{object}	ErrorResponse
// @Failure		404	{object}	ErrorResponse
// @Router			/rooms/{id} [delete]
func (h *Handler) remove(ginCtx *gin.Context) {
	var body TokenBody
	if err := ginCtx.ShouldBindJSON(&body); err != nil {
		ginCtx.JSON(http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
		return
	}
	identity, ok := h.identity(ginCtx, body.Token)
	if !ok {
		return
	}
	if err := h.sessions.DeleteRoom(ginCtx.Request.Context(), identity, ginCtx.Param("id")); err != nil {
		ginCtx.JSON(statusOf(err), &ErrorResponse{Error: collab.ClientMessage(err)})
		return
	}
	ginCtx.Status(http.StatusNoContent)
}

func (h *Handler) identity(c *gin.Context, token string) (string, bool) {
	id, err := h.ids.ResolveExisting(token)
	if err != nil {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "invalid token"})
		return "", false
	}
	return id, true
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, collab.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, collab.ErrForbidden), errors.Is(err, collab.ErrRoomCompleted):
		return http.StatusForbidden
	case errors.Is(err, collab.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
