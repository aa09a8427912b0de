package server

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"roomchat/internal/chat"
	"roomchat/internal/storage"
)

// fakeStore is an in-memory Store used by the handler tests. It mirrors the
// semantics of the SQL implementation, including the atomic
// membership+announcement and role+announcement writes, with a deterministic
// clock so recency ordering is stable.
type fakeStore struct {
	mu          sync.Mutex
	users       map[int64]storage.User
	rooms       map[int64]storage.Room
	memberships map[[2]int64]storage.Membership // key: (user, room)
	messages    []storage.Message
	nextUser    int64
	nextRoom    int64
	nextMessage int64
	clock       time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[int64]storage.User),
		rooms:       make(map[int64]storage.Room),
		memberships: make(map[[2]int64]storage.Membership),
		clock:       time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// tick returns a strictly increasing timestamp.
func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeStore) CreateUser(_ context.Context, username, passwordHash string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if u.Username == username {
			return 0, storage.ErrUserExists
		}
	}

	f.nextUser++
	f.users[f.nextUser] = storage.User{
		ID:           f.nextUser,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    f.tick(),
	}
	return f.nextUser, nil
}

func (f *fakeStore) UserByUsername(_ context.Context, username string) (storage.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return storage.User{}, storage.ErrUserNotExist
}

func (f *fakeStore) UserByID(_ context.Context, id int64) (storage.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[id]
	if !ok {
		return storage.User{}, storage.ErrUserNotExist
	}
	return u, nil
}

func (f *fakeStore) CreateRoom(_ context.Context, name, password string, createdBy int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, r := range f.rooms {
		if r.Name == name {
			return 0, storage.ErrRoomExists
		}
	}

	f.nextRoom++
	now := f.tick()
	f.rooms[f.nextRoom] = storage.Room{
		ID:        f.nextRoom,
		Name:      name,
		CreatedBy: createdBy,
		CreatedAt: now,
		Password:  password,
	}
	f.memberships[[2]int64{createdBy, f.nextRoom}] = storage.Membership{
		UserID:   createdBy,
		RoomID:   f.nextRoom,
		Role:     chat.RoleOwner,
		JoinedAt: now,
	}
	return f.nextRoom, nil
}

func (f *fakeStore) RoomByID(_ context.Context, id int64) (storage.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.rooms[id]
	if !ok {
		return storage.Room{}, storage.ErrRoomNotExist
	}
	return r, nil
}

func (f *fakeStore) RenameRoom(_ context.Context, id int64, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.rooms[id]
	if !ok {
		return storage.ErrRoomNotExist
	}
	for _, other := range f.rooms {
		if other.ID != id && strings.EqualFold(other.Name, name) {
			return storage.ErrRoomExists
		}
	}
	r.Name = name
	f.rooms[id] = r
	return nil
}

func (f *fakeStore) DeleteRoom(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.rooms[id]; !ok {
		return storage.ErrRoomNotExist
	}
	delete(f.rooms, id)
	for key := range f.memberships {
		if key[1] == id {
			delete(f.memberships, key)
		}
	}
	kept := f.messages[:0]
	for _, m := range f.messages {
		if m.RoomID != id {
			kept = append(kept, m)
		}
	}
	f.messages = kept
	return nil
}

func (f *fakeStore) RoomsByRecency(_ context.Context) ([]storage.RoomSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	epoch := time.Unix(0, 0).UTC()

	var out []storage.RoomSummary
	for _, r := range f.rooms {
		s := storage.RoomSummary{
			ID:          r.ID,
			Name:        r.Name,
			HasPassword: r.Password != "",
			CreatedBy:   f.users[r.CreatedBy].Username,
		}
		for i := len(f.messages) - 1; i >= 0; i-- {
			if f.messages[i].RoomID != r.ID {
				continue
			}
			m := f.messages[i]
			content := m.Content
			isDeleted := m.IsDeleted
			at := m.CreatedAt
			author := f.users[m.AuthorID].Username
			s.LastMessageContent = &content
			s.LastMessageAuthor = &author
			s.LastMessageIsDeleted = &isDeleted
			s.LastMessageAt = &at
			break
		}
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool {
		ti, tj := epoch, epoch
		if out[i].LastMessageAt != nil {
			ti = *out[i].LastMessageAt
		}
		if out[j].LastMessageAt != nil {
			tj = *out[j].LastMessageAt
		}
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].Name < out[j].Name
	})

	return out, nil
}

func (f *fakeStore) MembershipOf(_ context.Context, userID, roomID int64) (storage.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.memberships[[2]int64{userID, roomID}]
	if !ok {
		return storage.Membership{}, storage.ErrNotMember
	}
	return m, nil
}

func (f *fakeStore) EnsureMembership(_ context.Context, userID, roomID int64, announcement string) (storage.Membership, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.rooms[roomID]; !ok {
		return storage.Membership{}, false, storage.ErrRoomNotExist
	}

	key := [2]int64{userID, roomID}
	if m, ok := f.memberships[key]; ok {
		return m, false, nil
	}

	m := storage.Membership{
		UserID:   userID,
		RoomID:   roomID,
		Role:     chat.RoleMember,
		JoinedAt: f.tick(),
	}
	f.memberships[key] = m
	f.appendMessage(roomID, userID, announcement)
	return m, true, nil
}

func (f *fakeStore) SetMemberRole(_ context.Context, roomID, userID int64, role chat.Role, actorID int64, announcement string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := [2]int64{userID, roomID}
	m, ok := f.memberships[key]
	if !ok {
		return storage.ErrNotMember
	}
	m.Role = role
	f.memberships[key] = m
	f.appendMessage(roomID, actorID, announcement)
	return nil
}

func (f *fakeStore) Members(_ context.Context, roomID int64) ([]storage.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []storage.Member
	for key, m := range f.memberships {
		if key[1] != roomID {
			continue
		}
		out = append(out, storage.Member{
			UserID:   m.UserID,
			Username: f.users[m.UserID].Username,
			Role:     m.Role,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Role.Order() != out[j].Role.Order() {
			return out[i].Role.Order() < out[j].Role.Order()
		}
		return out[i].Username < out[j].Username
	})

	return out, nil
}

// appendMessage must be called with the mutex held.
func (f *fakeStore) appendMessage(roomID, authorID int64, content string) storage.Message {
	f.nextMessage++
	m := storage.Message{
		ID:        f.nextMessage,
		RoomID:    roomID,
		AuthorID:  authorID,
		Author:    f.users[authorID].Username,
		Content:   content,
		CreatedAt: f.tick(),
	}
	f.messages = append(f.messages, m)
	return m
}

func (f *fakeStore) CreateMessage(_ context.Context, roomID, authorID int64, content string) (storage.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.rooms[roomID]; !ok {
		return storage.Message{}, storage.ErrRoomNotExist
	}
	return f.appendMessage(roomID, authorID, content), nil
}

func (f *fakeStore) MessageByID(_ context.Context, roomID, messageID int64) (storage.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, m := range f.messages {
		if m.ID == messageID && m.RoomID == roomID {
			return m, nil
		}
	}
	return storage.Message{}, storage.ErrMessageNotExist
}

func (f *fakeStore) MessagesAfter(_ context.Context, roomID, afterID int64, limit int) ([]storage.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []storage.Message
	for _, m := range f.messages {
		if m.RoomID == roomID && m.ID > afterID {
			out = append(out, m)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) LastMessages(_ context.Context, roomID int64, n int) ([]storage.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var all []storage.Message
	for _, m := range f.messages {
		if m.RoomID == roomID {
			all = append(all, m)
		}
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func (f *fakeStore) DeletedMessageIDs(_ context.Context, roomID int64, since time.Time) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ids []int64
	for _, m := range f.messages {
		if m.RoomID == roomID && m.IsDeleted && m.EditedAt != nil && m.EditedAt.After(since) {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

func (f *fakeStore) SoftDeleteMessage(_ context.Context, roomID, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, m := range f.messages {
		if m.ID != messageID || m.RoomID != roomID {
			continue
		}
		if m.IsDeleted {
			return nil
		}
		now := f.tick()
		f.messages[i].IsDeleted = true
		f.messages[i].EditedAt = &now
		return nil
	}
	return storage.ErrMessageNotExist
}
