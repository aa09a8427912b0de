package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"

	"roomchat/internal/chat"
)

// CreateRoom performs a two-step transaction (insert room record; grant the
// creator OWNER membership) and returns the room id. A room never exists
// without its owner.
func (s *Store) CreateRoom(ctx context.Context, name, password string, createdBy int64) (int64, error) {
	s.logger.Debugf("Creating room (%s) for user (id: %d)", name, createdBy)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	// error handling can be omitted for rollback according docs
	// see https://pkg.go.dev/github.com/jackc/pgx/v4?tab=doc#hdr-Transactions or any source comment on Rollback
	defer tx.Rollback(context.Background())

	now := time.Now()

	var id int64
	sql := "insert into rooms (name, password, created_by, created_at) values ($1, $2, $3, $4) returning id"
	err = tx.QueryRow(ctx, sql, name, password, createdBy, now).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.UniqueViolation:
				return 0, ErrRoomExists
			case pgerrcode.ForeignKeyViolation:
				return 0, ErrUserNotExist
			}
		}
		return 0, err
	}

	sql = "insert into memberships (user_id, room_id, role, joined_at) values ($1, $2, $3, $4)"
	_, err = tx.Exec(ctx, sql, createdBy, id, chat.RoleOwner, now)
	if err != nil {
		return 0, err
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}

	s.logger.Debugf("Created room (%s) with id %d", name, id)

	return id, nil
}

// RoomByID returns the room with the given id.
func (s *Store) RoomByID(ctx context.Context, id int64) (Room, error) {
	var r Room
	sql := "select id, name, created_by, created_at, password from rooms where id = $1"
	err := s.db.QueryRow(ctx, sql, id).Scan(&r.ID, &r.Name, &r.CreatedBy, &r.CreatedAt, &r.Password)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Room{}, ErrRoomNotExist
		}
		return Room{}, err
	}

	return r, nil
}

// RenameRoom updates a room's name. Uniqueness is checked case-insensitively
// against every other room.
func (s *Store) RenameRoom(ctx context.Context, id int64, name string) error {
	s.logger.Debugf("Renaming room (id: %d) to (%s)", id, name)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(context.Background())

	var taken bool
	sql := "select exists(select 1 from rooms where lower(name) = lower($1) and id <> $2)"
	if err = tx.QueryRow(ctx, sql, name, id).Scan(&taken); err != nil {
		return err
	}
	if taken {
		return ErrRoomExists
	}

	tag, err := tx.Exec(ctx, "update rooms set name = $1 where id = $2", name, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrRoomExists
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotExist
	}

	return tx.Commit(ctx)
}

// DeleteRoom removes a room; memberships and messages go with it through the
// schema's cascade rules.
func (s *Store) DeleteRoom(ctx context.Context, id int64) error {
	s.logger.Debugf("Deleting room (id: %d)", id)

	tag, err := s.db.Exec(ctx, "delete from rooms where id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotExist
	}

	return nil
}

// RoomsByRecency returns every room with its most recent message, most
// recently active first; rooms without messages sort last (epoch sentinel)
// and ties break on name.
func (s *Store) RoomsByRecency(ctx context.Context) ([]RoomSummary, error) {
	s.logger.Debug("Retrieving room directory")

	sql := `select rooms.id,
				   rooms.name,
				   rooms.password <> '' as has_password,
				   users.username as created_by,
				   last.content,
				   last.author,
				   last.is_deleted,
				   last.created_at
			  from rooms
			  join users
				on users.id = rooms.created_by
			  left join lateral (
					select messages.content,
						   authors.username as author,
						   messages.is_deleted,
						   messages.created_at
					  from messages
					  join users as authors
						on authors.id = messages.author_id
					 where messages.room_id = rooms.id
					 order by messages.id desc
					 limit 1
			  ) as last on true
			 order by coalesce(last.created_at, 'epoch'::timestamptz) desc, rooms.name asc`

	rows, err := s.db.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []RoomSummary
	for rows.Next() {
		var (
			r         RoomSummary
			content   pgtype.Text
			author    pgtype.Text
			isDeleted pgtype.Bool
			createdAt pgtype.Timestamptz
		)
		err = rows.Scan(&r.ID, &r.Name, &r.HasPassword, &r.CreatedBy, &content, &author, &isDeleted, &createdAt)
		if err != nil {
			return nil, err
		}

		if content.Status == pgtype.Present {
			r.LastMessageContent = &content.String
		}
		if author.Status == pgtype.Present {
			r.LastMessageAuthor = &author.String
		}
		if isDeleted.Status == pgtype.Present {
			r.LastMessageIsDeleted = &isDeleted.Bool
		}
		if createdAt.Status == pgtype.Present {
			at := createdAt.Time
			r.LastMessageAt = &at
		}

		summaries = append(summaries, r)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	s.logger.Debugf("Retrieved %d rooms", len(summaries))

	return summaries, nil
}
