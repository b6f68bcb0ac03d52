package chat

import "time"

// Session captures a transient anonymous conversation bound to a role.
type Session struct {
	ID        string    `json:"id"`
	RoleID    string    `json:"roleId"`
	CreatedAt time.Time `json:"createdAt"`
}
