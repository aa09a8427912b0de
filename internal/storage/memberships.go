package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"

	"roomchat/internal/chat"
)

// MembershipOf returns the membership of user in room, without creating one.
func (s *Store) MembershipOf(ctx context.Context, userID, roomID int64) (Membership, error) {
	var m Membership
	sql := "select user_id, room_id, role, joined_at from memberships where user_id = $1 and room_id = $2"
	err := s.db.QueryRow(ctx, sql, userID, roomID).Scan(&m.UserID, &m.RoomID, &m.Role, &m.JoinedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Membership{}, ErrNotMember
		}
		return Membership{}, err
	}

	return m, nil
}

// EnsureMembership returns the membership of user in room, creating a MEMBER
// row on first contact. The insert uses on conflict do nothing, so two
// concurrent first contacts degrade to one insert and one plain get. When a
// row is created, the announcement message is written in the same
// transaction; the two writes are observed together or not at all. The caller
// is responsible for the room's password gate.
func (s *Store) EnsureMembership(ctx context.Context, userID, roomID int64, announcement string) (Membership, bool, error) {
	s.logger.Debugf("Ensuring membership of user (id: %d) in room (id: %d)", userID, roomID)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Membership{}, false, err
	}
	defer tx.Rollback(context.Background())

	now := time.Now()

	m := Membership{UserID: userID, RoomID: roomID, Role: chat.RoleMember, JoinedAt: now}
	sql := `insert into memberships (user_id, room_id, role, joined_at)
			values ($1, $2, $3, $4)
			on conflict (user_id, room_id) do nothing`
	tag, err := tx.Exec(ctx, sql, userID, roomID, chat.RoleMember, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.ForeignKeyViolation {
				switch pgErr.ConstraintName {
				case "memberships_room_id_fkey":
					return Membership{}, false, ErrRoomNotExist
				case "memberships_user_id_fkey":
					return Membership{}, false, ErrUserNotExist
				}
			}
		}
		return Membership{}, false, err
	}

	if tag.RowsAffected() == 0 {
		// lost the race or already a member; read the existing row
		sql = "select user_id, room_id, role, joined_at from memberships where user_id = $1 and room_id = $2"
		err = tx.QueryRow(ctx, sql, userID, roomID).Scan(&m.UserID, &m.RoomID, &m.Role, &m.JoinedAt)
		if err != nil {
			return Membership{}, false, err
		}
		if err = tx.Commit(ctx); err != nil {
			return Membership{}, false, err
		}
		return m, false, nil
	}

	sql = "insert into messages (room_id, author_id, content, created_at) values ($1, $2, $3, $4)"
	if _, err = tx.Exec(ctx, sql, roomID, userID, announcement, now); err != nil {
		return Membership{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return Membership{}, false, err
	}

	s.logger.Debugf("User (id: %d) joined room (id: %d)", userID, roomID)

	return m, true, nil
}

// SetMemberRole updates a member's role and appends the announcement message
// authored by the acting user, atomically.
func (s *Store) SetMemberRole(ctx context.Context, roomID, userID int64, role chat.Role, actorID int64, announcement string) error {
	s.logger.Debugf("Setting role of user (id: %d) in room (id: %d) to %s", userID, roomID, role)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(context.Background())

	sql := "update memberships set role = $1 where user_id = $2 and room_id = $3"
	tag, err := tx.Exec(ctx, sql, role, userID, roomID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotMember
	}

	sql = "insert into messages (room_id, author_id, content, created_at) values ($1, $2, $3, $4)"
	if _, err = tx.Exec(ctx, sql, roomID, actorID, announcement, time.Now()); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Members lists a room's memberships joined with their users, owner first,
// banned last, names alphabetical within a role.
func (s *Store) Members(ctx context.Context, roomID int64) ([]Member, error) {
	sql := `select memberships.user_id,
				   users.username,
				   memberships.role
			  from memberships
			  join users
				on users.id = memberships.user_id
			 where memberships.room_id = $1
			 order by case memberships.role
						  when 'OWNER' then 0
						  when 'MOD' then 1
						  when 'MEMBER' then 2
						  when 'BANNED' then 3
						  else 9
					  end,
					  users.username asc`

	rows, err := s.db.Query(ctx, sql, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err = rows.Scan(&m.UserID, &m.Username, &m.Role); err != nil {
			return nil, err
		}
		members = append(members, m)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return members, nil
}
