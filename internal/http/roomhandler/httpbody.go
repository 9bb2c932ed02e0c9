package roomhandler

type TokenBody struct {
	Token string `json:"token" binding:"required" example:"FKHYvO1aeOLsWKNT9RGt1g"`
} // @name TokenRequest

type EditRoomBody struct {
	Token                   string  `json:"token"   binding:"required"`
	StudentCursorEnabled    *bool   `json:"studentCursorEnabled,omitempty"`
	StudentSelectionEnabled *bool   `json:"studentSelectionEnabled,omitempty"`
	StudentEditCodeEnabled  *bool   `json:"studentEditCodeEnabled,omitempty"`
	TaskID                  *string `json:"taskId,omitempty"   binding:"omitempty,max=64"`
	Language                *string `json:"language,omitempty" example:"python"`
} // @name EditRoomRequest

type ErrorResponse struct {
	Error string `json:"error"`
} // @name ErrorResponse

type ListRoomsQuery struct {
	Token string `form:"token" binding:"required"`
	Page  int    `form:"page,default=1"   binding:"gte=1"`
	Limit int    `form:"limit,default=5"  binding:"gte=1,lte=100"`
} // @name ListRoomsQuery

type HealthResponse struct {
	Status        string `json:"status" example:"ok"`
	ActiveRooms   int    `json:"activeRooms"`
	OnlineMembers int    `json:"onlineMembers"`
} // @name HealthResponse
