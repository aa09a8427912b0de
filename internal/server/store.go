package server

import (
	"context"
	"time"

	"roomchat/internal/chat"
	"roomchat/internal/storage"
)

// Store is what the handlers need from the persistence layer. *storage.Store
// satisfies it; tests substitute an in-memory fake.
type Store interface {
	CreateUser(ctx context.Context, username, passwordHash string) (int64, error)
	UserByUsername(ctx context.Context, username string) (storage.User, error)
	UserByID(ctx context.Context, id int64) (storage.User, error)

	CreateRoom(ctx context.Context, name, password string, createdBy int64) (int64, error)
	RoomByID(ctx context.Context, id int64) (storage.Room, error)
	RenameRoom(ctx context.Context, id int64, name string) error
	DeleteRoom(ctx context.Context, id int64) error
	RoomsByRecency(ctx context.Context) ([]storage.RoomSummary, error)

	MembershipOf(ctx context.Context, userID, roomID int64) (storage.Membership, error)
	EnsureMembership(ctx context.Context, userID, roomID int64, announcement string) (storage.Membership, bool, error)
	SetMemberRole(ctx context.Context, roomID, userID int64, role chat.Role, actorID int64, announcement string) error
	Members(ctx context.Context, roomID int64) ([]storage.Member, error)

	CreateMessage(ctx context.Context, roomID, authorID int64, content string) (storage.Message, error)
	MessageByID(ctx context.Context, roomID, messageID int64) (storage.Message, error)
	MessagesAfter(ctx context.Context, roomID, afterID int64, limit int) ([]storage.Message, error)
	LastMessages(ctx context.Context, roomID int64, n int) ([]storage.Message, error)
	DeletedMessageIDs(ctx context.Context, roomID int64, since time.Time) ([]int64, error)
	SoftDeleteMessage(ctx context.Context, roomID, messageID int64) error
}
