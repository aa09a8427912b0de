package storage

import (
	"time"

	"roomchat/internal/chat"
)

type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

type Room struct {
	ID        int64
	Name      string
	CreatedBy int64
	CreatedAt time.Time
	// Password is stored and compared as plaintext; empty means the room
	// is open.
	Password string
}

// HasPassword reports whether the room is password-gated.
func (r Room) HasPassword() bool { return r.Password != "" }

type Membership struct {
	UserID   int64
	RoomID   int64
	Role     chat.Role
	JoinedAt time.Time
}

// Member is a membership row joined with its user, as shown in member lists.
type Member struct {
	UserID   int64
	Username string
	Role     chat.Role
}

type Message struct {
	ID       int64
	RoomID   int64
	AuthorID int64
	// Author is the author's username; populated by read queries only,
	// not by CreateMessage.
	Author    string
	Content   string
	CreatedAt time.Time
	EditedAt  *time.Time
	IsDeleted bool
}

// RoomSummary is a directory row: a room plus its most recent message, if
// any. Last* fields are nil for rooms with no messages.
type RoomSummary struct {
	ID                   int64
	Name                 string
	HasPassword          bool
	CreatedBy            string
	LastMessageContent   *string
	LastMessageAuthor    *string
	LastMessageIsDeleted *bool
	LastMessageAt        *time.Time
}
