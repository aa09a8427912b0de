package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"roomchat/internal/chat"
	"roomchat/internal/metrics"
	"roomchat/internal/presence"
	"roomchat/internal/session"
	"roomchat/internal/storage"
)

// initialHistory is how many recent messages the room view loads; older ones
// are reachable through the sync endpoint.
const initialHistory = 50

// syncPageSize caps one incremental sync response.
const syncPageSize = 200

type parsers struct {
	signupPool     fastjson.ParserPool
	loginPool      fastjson.ParserPool
	createRoomPool fastjson.ParserPool
	roomViewPool   fastjson.ParserPool
	renamePool     fastjson.ParserPool
	sendPool       fastjson.ParserPool
}

type handler struct {
	logger   *zap.SugaredLogger
	store    Store
	sessions *session.Manager
	typing   *presence.Cache
	parsers  parsers
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writeDenial maps a reason code to its HTTP status: authorization denials
// are 403, validation and domain-state conflicts are 400.
func writeDenial(w http.ResponseWriter, d *chat.Denial) {
	status := http.StatusBadRequest
	if d == chat.ErrBanned || d == chat.ErrForbidden {
		status = http.StatusForbidden
	}
	writeError(w, status, d.Code)
}

func (h *handler) internalError(w http.ResponseWriter, err error) {
	h.logger.Error(err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func pathInt64(r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}

// roomFromRequest resolves the {id} path variable to a room or terminates
// the request with 404.
func (h *handler) roomFromRequest(w http.ResponseWriter, r *http.Request) (storage.Room, bool) {
	id, ok := pathInt64(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return storage.Room{}, false
	}

	room, err := h.store.RoomByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrRoomNotExist) {
			writeError(w, http.StatusNotFound, "not_found")
		} else {
			h.internalError(w, err)
		}
		return storage.Room{}, false
	}

	return room, true
}

// provisionedMember resolves the requester's membership, creating one on
// first contact with an open room. Password-gated rooms never auto-provision
// through API calls; the room view is the only place a password can be
// submitted.
func (h *handler) provisionedMember(w http.ResponseWriter, r *http.Request, room storage.Room) (storage.Membership, bool) {
	id := identityFrom(r)

	m, err := h.store.MembershipOf(r.Context(), id.UserID, room.ID)
	if err == nil {
		return m, true
	}
	if !errors.Is(err, storage.ErrNotMember) {
		h.internalError(w, err)
		return storage.Membership{}, false
	}

	if room.HasPassword() {
		writeDenial(w, chat.ErrForbidden)
		return storage.Membership{}, false
	}

	m, created, err := h.store.EnsureMembership(r.Context(), id.UserID, room.ID, chat.JoinAnnouncement(id.Username))
	if err != nil {
		h.internalError(w, err)
		return storage.Membership{}, false
	}
	if created {
		metrics.MembershipsProvisioned.Inc()
	}

	return m, true
}

// existingMember resolves the requester's membership without provisioning;
// strangers are denied.
func (h *handler) existingMember(w http.ResponseWriter, r *http.Request, room storage.Room) (storage.Membership, bool) {
	id := identityFrom(r)

	m, err := h.store.MembershipOf(r.Context(), id.UserID, room.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotMember) {
			writeDenial(w, chat.ErrForbidden)
		} else {
			h.internalError(w, err)
		}
		return storage.Membership{}, false
	}

	return m, true
}

type messagePayload struct {
	ID        int64  `json:"id"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
	IsDeleted bool   `json:"is_deleted"`
	CanDelete bool   `json:"can_delete"`
}

// renderMessage shapes a message for the requesting viewer: deleted content
// is replaced with the placeholder and can_delete is computed per viewer.
func renderMessage(m storage.Message, viewerRole chat.Role, viewerID int64) messagePayload {
	content := m.Content
	if m.IsDeleted {
		content = chat.DeletedPlaceholder
	}

	return messagePayload{
		ID:        m.ID,
		Author:    m.Author,
		Content:   content,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
		IsDeleted: m.IsDeleted,
		CanDelete: chat.CanDeleteMessage(viewerRole, m.AuthorID == viewerID) == nil,
	}
}

func renderMessages(msgs []storage.Message, viewerRole chat.Role, viewerID int64) []messagePayload {
	out := make([]messagePayload, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, renderMessage(m, viewerRole, viewerID))
	}
	return out
}

type memberPayload struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func renderMembers(members []storage.Member) []memberPayload {
	out := make([]memberPayload, 0, len(members))
	for _, m := range members {
		out = append(out, memberPayload{UserID: m.UserID, Username: m.Username, Role: string(m.Role)})
	}
	return out
}

type roomSummaryPayload struct {
	ID                   int64   `json:"id"`
	Name                 string  `json:"name"`
	HasPassword          bool    `json:"has_password"`
	CreatedBy            string  `json:"created_by"`
	LastMessageContent   *string `json:"last_message_content"`
	LastMessageAuthor    *string `json:"last_message_author"`
	LastMessageIsDeleted *bool   `json:"last_message_is_deleted"`
	LastMessageCreatedAt *string `json:"last_message_created_at"`
}

// roomDirectory handles GET "/" and "/api/rooms/": every room ordered by
// recency of its last message.
func (h *handler) roomDirectory(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.store.RoomsByRecency(r.Context())
	if err != nil {
		h.internalError(w, err)
		return
	}

	rooms := make([]roomSummaryPayload, 0, len(summaries))
	for _, s := range summaries {
		p := roomSummaryPayload{
			ID:                   s.ID,
			Name:                 s.Name,
			HasPassword:          s.HasPassword,
			CreatedBy:            s.CreatedBy,
			LastMessageContent:   s.LastMessageContent,
			LastMessageAuthor:    s.LastMessageAuthor,
			LastMessageIsDeleted: s.LastMessageIsDeleted,
		}
		if s.LastMessageIsDeleted != nil && *s.LastMessageIsDeleted {
			placeholder := chat.DeletedPlaceholder
			p.LastMessageContent = &placeholder
		}
		if s.LastMessageAt != nil {
			at := s.LastMessageAt.UTC().Format(time.RFC3339Nano)
			p.LastMessageCreatedAt = &at
		}
		rooms = append(rooms, p)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"rooms": rooms})
}

// createRoom handles POST "/rooms/create/"; the creator becomes OWNER in the
// same transaction.
func (h *handler) createRoom(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)

	parser := h.parsers.createRoomPool.Get()
	defer h.parsers.createRoomPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	name := strings.TrimSpace(string(v.GetStringBytes("name")))
	if err := chat.ValidateRoomName(name); err != nil {
		var d *chat.Denial
		if errors.As(err, &d) {
			writeDenial(w, d)
			return
		}
		h.internalError(w, err)
		return
	}

	password := string(v.GetStringBytes("password"))

	id := identityFrom(r)
	roomID, err := h.store.CreateRoom(r.Context(), name, password, id.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrRoomExists) {
			writeDenial(w, chat.ErrNameTaken)
			return
		}
		h.internalError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]int64{"id": roomID})
}

// roomView handles GET/POST "/rooms/{id}/". This is the one endpoint where a
// room password can be submitted; until it matches, nothing is provisioned
// and no message content leaves the server.
func (h *handler) roomView(w http.ResponseWriter, r *http.Request) {
	room, ok := h.roomFromRequest(w, r)
	if !ok {
		return
	}

	id := identityFrom(r)
	ctx := r.Context()

	m, err := h.store.MembershipOf(ctx, id.UserID, room.ID)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotMember):
		provided := ""
		if r.Method == "POST" {
			parser := h.parsers.roomViewPool.Get()
			v, _ := parser.ParseBytes(readBody(r))
			provided = strings.TrimSpace(string(v.GetStringBytes("room_password")))
			h.parsers.roomViewPool.Put(parser)
		}

		if room.HasPassword() && !chat.RoomPasswordMatches(room.Password, provided) {
			// error reports whether a wrong password was submitted,
			// as opposed to none at all
			writeJSON(w, http.StatusForbidden, map[string]bool{
				"password_required": true,
				"error":             r.Method == "POST",
			})
			return
		}

		var created bool
		m, created, err = h.store.EnsureMembership(ctx, id.UserID, room.ID, chat.JoinAnnouncement(id.Username))
		if err != nil {
			h.internalError(w, err)
			return
		}
		if created {
			metrics.MembershipsProvisioned.Inc()
		}
	default:
		h.internalError(w, err)
		return
	}

	if err := chat.CanRead(m.Role); err != nil {
		writeDenial(w, chat.ErrBanned)
		return
	}

	members, err := h.store.Members(ctx, room.ID)
	if err != nil {
		h.internalError(w, err)
		return
	}

	msgs, err := h.store.LastMessages(ctx, room.ID, initialHistory)
	if err != nil {
		h.internalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"room":     map[string]interface{}{"id": room.ID, "name": room.Name},
		"role":     string(m.Role),
		"members":  renderMembers(members),
		"messages": renderMessages(msgs, m.Role, id.UserID),
	})
}

// renameRoom handles POST "/rooms/{id}/rename/", owner only.
func (h *handler) renameRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := h.roomFromRequest(w, r)
	if !ok {
		return
	}

	m, ok := h.existingMember(w, r, room)
	if !ok {
		return
	}

	if err := chat.CanRenameRoom(m.Role); err != nil {
		writeDenial(w, err.(*chat.Denial))
		return
	}

	parser := h.parsers.renamePool.Get()
	defer h.parsers.renamePool.Put(parser)
	v, _ := parser.ParseBytes(readBody(r))

	name := strings.TrimSpace(string(v.GetStringBytes("name")))
	if err := chat.ValidateRoomName(name); err != nil {
		writeDenial(w, err.(*chat.Denial))
		return
	}

	if err := h.store.RenameRoom(r.Context(), room.ID, name); err != nil {
		if errors.Is(err, storage.ErrRoomExists) {
			writeDenial(w, chat.ErrNameTaken)
			return
		}
		h.internalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// deleteRoom handles POST "/rooms/{id}/delete/", owner only; memberships and
// messages cascade.
func (h *handler) deleteRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := h.roomFromRequest(w, r)
	if !ok {
		return
	}

	m, ok := h.existingMember(w, r, room)
	if !ok {
		return
	}

	if err := chat.CanDeleteRoom(m.Role); err != nil {
		writeDenial(w, err.(*chat.Denial))
		return
	}

	if err := h.store.DeleteRoom(r.Context(), room.ID); err != nil {
		h.internalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// roomState handles GET "/api/rooms/{id}/state/": the requester's role plus
// the member list. Non-members get no state at all.
func (h *handler) roomState(w http.ResponseWriter, r *http.Request) {
	room, ok := h.roomFromRequest(w, r)
	if !ok {
		return
	}

	m, ok := h.existingMember(w, r, room)
	if !ok {
		return
	}

	if err := chat.CanRead(m.Role); err != nil {
		writeDenial(w, chat.ErrBanned)
		return
	}

	members, err := h.store.Members(r.Context(), room.ID)
	if err != nil {
		h.internalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"room":    map[string]interface{}{"id": room.ID, "name": room.Name},
		"role":    string(m.Role),
		"members": renderMembers(members),
	})
}

// listMessages handles GET "/api/rooms/{id}/messages/": the incremental sync
// endpoint. after is the id cursor, since marks the last server_now the
// client saw; the response carries new messages, ids deleted since then, and
// the next server_now.
func (h *handler) listMessages(w http.ResponseWriter, r *http.Request) {
	room, ok := h.roomFromRequest(w, r)
	if !ok {
		return
	}

	m, ok := h.provisionedMember(w, r, room)
	if !ok {
		return
	}

	if err := chat.CanRead(m.Role); err != nil {
		writeDenial(w, chat.ErrBanned)
		return
	}

	var afterID int64
	if after := r.URL.Query().Get("after"); after != "" {
		// garbage cursors reset to the start rather than failing the poll
		if parsed, err := strconv.ParseInt(after, 10, 64); err == nil && parsed > 0 {
			afterID = parsed
		}
	}

	var since time.Time
	var sinceSet bool
	if s := r.URL.Query().Get("since"); s != "" {
		if parsed, err := parseTimestamp(s); err == nil {
			since = parsed
			sinceSet = true
		}
	}

	id := identityFrom(r)
	ctx := r.Context()

	msgs, err := h.store.MessagesAfter(ctx, room.ID, afterID, syncPageSize)
	if err != nil {
		h.internalError(w, err)
		return
	}

	deletedIDs := make([]int64, 0)
	if sinceSet {
		ids, err := h.store.DeletedMessageIDs(ctx, room.ID, since)
		if err != nil {
			h.internalError(w, err)
			return
		}
		deletedIDs = append(deletedIDs, ids...)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages":    renderMessages(msgs, m.Role, id.UserID),
		"deleted_ids": deletedIDs,
		"server_now":  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// sendMessage handles POST "/api/rooms/{id}/send/".
func (h *handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	room, ok := h.roomFromRequest(w, r)
	if !ok {
		return
	}

	m, ok := h.provisionedMember(w, r, room)
	if !ok {
		return
	}

	parser := h.parsers.sendPool.Get()
	defer h.parsers.sendPool.Put(parser)
	v, _ := parser.ParseBytes(readBody(r))

	content := strings.TrimSpace(string(v.GetStringBytes("content")))
	if err := chat.CanPost(m.Role, content); err != nil {
		writeDenial(w, err.(*chat.Denial))
		return
	}

	id := identityFrom(r)
	msg, err := h.store.CreateMessage(r.Context(), room.ID, id.UserID, content)
	if err != nil {
		h.internalError(w, err)
		return
	}
	msg.Author = id.Username

	metrics.MessagesPosted.Inc()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"message": renderMessage(msg, m.Role, id.UserID),
	})
}

// deleteMessage handles POST "/api/rooms/{id}/delete/{message_id}/".
func (h *handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	room, ok := h.roomFromRequest(w, r)
	if !ok {
		return
	}

	m, ok := h.provisionedMember(w, r, room)
	if !ok {
		return
	}

	if err := chat.CanRead(m.Role); err != nil {
		writeDenial(w, chat.ErrBanned)
		return
	}

	messageID, valid := pathInt64(r, "message_id")
	if !valid {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}

	msg, err := h.store.MessageByID(r.Context(), room.ID, messageID)
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotExist) {
			writeError(w, http.StatusNotFound, "not_found")
		} else {
			h.internalError(w, err)
		}
		return
	}

	id := identityFrom(r)
	if err := chat.CanDeleteMessage(m.Role, msg.AuthorID == id.UserID); err != nil {
		writeDenial(w, err.(*chat.Denial))
		return
	}

	if err := h.store.SoftDeleteMessage(r.Context(), room.ID, messageID); err != nil {
		h.internalError(w, err)
		return
	}

	metrics.MessagesDeleted.Inc()

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// moderate is the shared flow behind ban/unban/mod/unmod: resolve actor and
// target, run the role check, apply the new role with its announcement.
func (h *handler) moderate(w http.ResponseWriter, r *http.Request, check func(actor, target chat.Role) error, newRole chat.Role, announce func(string) string) {
	room, ok := h.roomFromRequest(w, r)
	if !ok {
		return
	}

	actor, ok := h.existingMember(w, r, room)
	if !ok {
		return
	}

	targetID, valid := pathInt64(r, "user_id")
	if !valid {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}

	ctx := r.Context()
	target, err := h.store.MembershipOf(ctx, targetID, room.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotMember) {
			writeError(w, http.StatusNotFound, "not_found")
		} else {
			h.internalError(w, err)
		}
		return
	}

	if err := check(actor.Role, target.Role); err != nil {
		writeDenial(w, err.(*chat.Denial))
		return
	}

	targetUser, err := h.store.UserByID(ctx, targetID)
	if err != nil {
		h.internalError(w, err)
		return
	}

	id := identityFrom(r)
	err = h.store.SetMemberRole(ctx, room.ID, targetID, newRole, id.UserID, announce(targetUser.Username))
	if err != nil {
		h.internalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *handler) banUser(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, chat.CanBan, chat.RoleBanned, chat.BanAnnouncement)
}

func (h *handler) unbanUser(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, chat.CanUnban, chat.RoleMember, chat.UnbanAnnouncement)
}

func (h *handler) setModerator(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, chat.CanPromote, chat.RoleMod, chat.ModAnnouncement)
}

func (h *handler) unsetModerator(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, chat.CanDemote, chat.RoleMember, chat.UnmodAnnouncement)
}

// typingStatus handles GET/POST "/api/rooms/{id}/typing/". Membership is
// required but never provisioned here; a keystroke is not first contact.
func (h *handler) typingStatus(w http.ResponseWriter, r *http.Request) {
	room, ok := h.roomFromRequest(w, r)
	if !ok {
		return
	}

	m, ok := h.existingMember(w, r, room)
	if !ok {
		return
	}

	if err := chat.CanRead(m.Role); err != nil {
		writeDenial(w, chat.ErrBanned)
		return
	}

	id := identityFrom(r)

	if r.Method == "POST" {
		h.typing.MarkTyping(room.ID, id.Username)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	users := h.typing.Typing(room.ID, id.Username)
	if users == nil {
		users = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"typing": users})
}

func readBody(r *http.Request) []byte {
	body, _ := io.ReadAll(r.Body)
	return body
}

// parseTimestamp accepts the RFC3339 shape emitted as server_now, with or
// without fractional seconds.
func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
