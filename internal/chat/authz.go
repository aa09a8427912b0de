package chat

import (
	"strings"
	"unicode/utf8"
)

const (
	// MaxMessageLen caps message content length in characters.
	MaxMessageLen = 2000
	// MaxRoomNameLen caps room name length in characters.
	MaxRoomNameLen = 80
)

// Denial is a refusal of an action with a stable machine-readable reason code.
// Codes are part of the API contract and never change.
type Denial struct {
	Code string
}

func (d *Denial) Error() string { return d.Code }

var (
	ErrBanned            = &Denial{Code: "banned"}
	ErrForbidden         = &Denial{Code: "forbidden"}
	ErrEmpty             = &Denial{Code: "empty"}
	ErrTooLong           = &Denial{Code: "too_long"}
	ErrNameEmpty         = &Denial{Code: "name_empty"}
	ErrNameTooLong       = &Denial{Code: "name_too_long"}
	ErrNameTaken         = &Denial{Code: "name_taken"}
	ErrCannotBanOwner    = &Denial{Code: "cannot_ban_owner"}
	ErrNotBanned         = &Denial{Code: "not_banned"}
	ErrCannotChangeOwner = &Denial{Code: "cannot_change_owner"}
	ErrNotMod            = &Denial{Code: "not_mod"}
)

// RoomPasswordMatches decides whether a provided room password unlocks a room.
// Plain string equality mirrors the stored-plaintext model; kept as a single
// swappable function so hashing can be introduced without touching call sites.
var RoomPasswordMatches = func(stored, provided string) bool {
	return stored == provided
}

// CanRead allows any member except a banned one to read room state and
// messages. The banned check always runs before any other rule.
func CanRead(actor Role) error {
	if actor == RoleBanned {
		return ErrBanned
	}
	return nil
}

// CanPost validates both the actor and the content of a prospective message.
func CanPost(actor Role, content string) error {
	if actor == RoleBanned {
		return ErrBanned
	}
	if content == "" {
		return ErrEmpty
	}
	if utf8.RuneCountInString(content) > MaxMessageLen {
		return ErrTooLong
	}
	return nil
}

// CanDeleteMessage allows owners, moderators and the message's own author to
// soft-delete a message. It doubles as the per-message can_delete flag
// reported to sync clients.
func CanDeleteMessage(actor Role, isAuthor bool) error {
	if actor == RoleBanned {
		return ErrBanned
	}
	if actor == RoleOwner || actor == RoleMod || isAuthor {
		return nil
	}
	return ErrForbidden
}

// CanRenameRoom and CanDeleteRoom are owner-only actions.
func CanRenameRoom(actor Role) error { return ownerOnly(actor) }
func CanDeleteRoom(actor Role) error { return ownerOnly(actor) }

// CanBan allows owners and moderators to ban anyone but the owner.
func CanBan(actor, target Role) error {
	if err := moderatorGate(actor); err != nil {
		return err
	}
	if target == RoleOwner {
		return ErrCannotBanOwner
	}
	return nil
}

// CanUnban allows owners and moderators to lift a ban; the target must
// currently be banned.
func CanUnban(actor, target Role) error {
	if err := moderatorGate(actor); err != nil {
		return err
	}
	if target != RoleBanned {
		return ErrNotBanned
	}
	return nil
}

// CanPromote allows the owner to make any non-owner a moderator.
func CanPromote(actor, target Role) error {
	if err := ownerOnly(actor); err != nil {
		return err
	}
	if target == RoleOwner {
		return ErrCannotChangeOwner
	}
	return nil
}

// CanDemote allows the owner to strip moderator status; the target must
// currently be a moderator.
func CanDemote(actor, target Role) error {
	if err := ownerOnly(actor); err != nil {
		return err
	}
	if target != RoleMod {
		return ErrNotMod
	}
	return nil
}

// ValidateRoomName checks a prospective room name against length rules.
// Uniqueness is checked at write time by the storage layer.
func ValidateRoomName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameEmpty
	}
	if utf8.RuneCountInString(name) > MaxRoomNameLen {
		return ErrNameTooLong
	}
	return nil
}

func ownerOnly(actor Role) error {
	if actor == RoleBanned {
		return ErrBanned
	}
	if actor != RoleOwner {
		return ErrForbidden
	}
	return nil
}

func moderatorGate(actor Role) error {
	if actor == RoleBanned {
		return ErrBanned
	}
	if actor != RoleOwner && actor != RoleMod {
		return ErrForbidden
	}
	return nil
}
