package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
)

// CreateMessage creates a new message and returns it with id and created_at
// assigned. Author username is not filled in; the caller already knows it.
func (s *Store) CreateMessage(ctx context.Context, roomID, authorID int64, content string) (Message, error) {
	s.logger.Debugf("Creating message from user (id: %d) in room (id: %d)", authorID, roomID)

	m := Message{RoomID: roomID, AuthorID: authorID, Content: content}
	sql := "insert into messages (room_id, author_id, content, created_at) values ($1, $2, $3, $4) returning id, created_at"
	err := s.db.QueryRow(ctx, sql, roomID, authorID, content, time.Now()).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.ForeignKeyViolation {
				switch pgErr.ConstraintName {
				case "messages_room_id_fkey":
					return Message{}, ErrRoomNotExist
				case "messages_author_id_fkey":
					return Message{}, ErrUserNotExist
				}
			}
		}
		return Message{}, err
	}

	return m, nil
}

// MessageByID returns a message scoped to its room.
func (s *Store) MessageByID(ctx context.Context, roomID, messageID int64) (Message, error) {
	var m Message
	sql := `select messages.id,
				   messages.room_id,
				   messages.author_id,
				   users.username,
				   messages.content,
				   messages.created_at,
				   messages.edited_at,
				   messages.is_deleted
			  from messages
			  join users
				on users.id = messages.author_id
			 where messages.id = $1 and messages.room_id = $2`
	err := s.db.QueryRow(ctx, sql, messageID, roomID).
		Scan(&m.ID, &m.RoomID, &m.AuthorID, &m.Author, &m.Content, &m.CreatedAt, &m.EditedAt, &m.IsDeleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrMessageNotExist
		}
		return Message{}, err
	}

	return m, nil
}

// MessagesAfter returns up to limit messages of the room with id greater than
// afterID, oldest first. The id order is the sync cursor contract.
func (s *Store) MessagesAfter(ctx context.Context, roomID, afterID int64, limit int) ([]Message, error) {
	s.logger.Debugf("Retrieving messages after id %d for room (id: %d)", afterID, roomID)

	sql := `select messages.id,
				   messages.room_id,
				   messages.author_id,
				   users.username,
				   messages.content,
				   messages.created_at,
				   messages.edited_at,
				   messages.is_deleted
			  from messages
			  join users
				on users.id = messages.author_id
			 where messages.room_id = $1 and messages.id > $2
			 order by messages.id asc
			 limit $3`

	rows, err := s.db.Query(ctx, sql, roomID, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	s.logger.Debugf("Retrieved %d messages", len(messages))

	return messages, nil
}

// LastMessages returns the latest n messages of the room in ascending id
// order, used to bootstrap the room view.
func (s *Store) LastMessages(ctx context.Context, roomID int64, n int) ([]Message, error) {
	sql := `select * from (
				select messages.id,
					   messages.room_id,
					   messages.author_id,
					   users.username,
					   messages.content,
					   messages.created_at,
					   messages.edited_at,
					   messages.is_deleted
				  from messages
				  join users
					on users.id = messages.author_id
				 where messages.room_id = $1
				 order by messages.id desc
				 limit $2
			) as latest order by latest.id asc`

	rows, err := s.db.Query(ctx, sql, roomID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

// DeletedMessageIDs returns ids of the room's messages soft-deleted after
// since, so polling clients can mark cached messages without re-fetching.
func (s *Store) DeletedMessageIDs(ctx context.Context, roomID int64, since time.Time) ([]int64, error) {
	sql := "select id from messages where room_id = $1 and is_deleted and edited_at > $2 order by id asc"

	rows, err := s.db.Query(ctx, sql, roomID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return ids, nil
}

// SoftDeleteMessage flips is_deleted once and stamps edited_at. Deleting an
// already-deleted message is a no-op that leaves edited_at untouched, so the
// flag stays monotone and replays are safe.
func (s *Store) SoftDeleteMessage(ctx context.Context, roomID, messageID int64) error {
	s.logger.Debugf("Soft-deleting message (id: %d) in room (id: %d)", messageID, roomID)

	sql := "update messages set is_deleted = true, edited_at = $1 where id = $2 and room_id = $3 and not is_deleted"
	tag, err := s.db.Exec(ctx, sql, time.Now(), messageID, roomID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// nothing updated: either the message is already deleted (fine) or it
	// does not exist in this room
	var exists bool
	err = s.db.QueryRow(ctx, "select exists(select 1 from messages where id = $1 and room_id = $2)", messageID, roomID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return ErrMessageNotExist
	}

	return nil
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	var messages []Message
	for rows.Next() {
		var m Message
		err := rows.Scan(&m.ID, &m.RoomID, &m.AuthorID, &m.Author, &m.Content, &m.CreatedAt, &m.EditedAt, &m.IsDeleted)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return messages, nil
}
