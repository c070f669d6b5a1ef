package model

// Conversation 由消息表实时计算得出, 不落库
type Conversation struct {
	User        UserProfile `json:"user"`
	LastMessage Message     `json:"lastMessage"`
	UnreadCount int         `json:"unreadCount"`
}
