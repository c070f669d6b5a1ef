package model

import "time"

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusInactive UserStatus = "inactive"
	UserStatusBanned   UserStatus = "banned"
)

type User struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	Username  string     `gorm:"type:varchar(50);not null;uniqueIndex" json:"username"`
	Password  string     `gorm:"type:varchar(255);not null" json:"-"`
	Email     string     `gorm:"type:varchar(100);not null;uniqueIndex" json:"email"`
	AvatarURL string     `gorm:"type:varchar(255)" json:"avatar_url"`
	Status    UserStatus `gorm:"type:varchar(16);not null;default:'active';index" json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// UserProfile 会话列表里展示的对方信息
type UserProfile struct {
	ID        uint   `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}

func (u *User) Profile() UserProfile {
	return UserProfile{ID: u.ID, Username: u.Username, AvatarURL: u.AvatarURL}
}
