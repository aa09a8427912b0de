package server

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"roomchat/internal/session"
	"roomchat/internal/storage"
)

const maxUsernameLen = 150

// signup handles POST "/signup/". The account password is bcrypt-hashed;
// only room passwords stay plaintext.
func (h *handler) signup(w http.ResponseWriter, r *http.Request) {
	parser := h.parsers.signupPool.Get()
	defer h.parsers.signupPool.Put(parser)
	v, _ := parser.ParseBytes(readBody(r))

	username := strings.TrimSpace(string(v.GetStringBytes("username")))
	password := string(v.GetStringBytes("password"))

	if username == "" || utf8.RuneCountInString(username) > maxUsernameLen {
		writeError(w, http.StatusBadRequest, "invalid_username")
		return
	}
	if password == "" {
		writeError(w, http.StatusBadRequest, "invalid_password")
		return
	}

	hash, err := session.HashPassword(password)
	if err != nil {
		h.internalError(w, err)
		return
	}

	id, err := h.store.CreateUser(r.Context(), username, hash)
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			writeError(w, http.StatusBadRequest, "user_exists")
			return
		}
		h.internalError(w, err)
		return
	}

	token, err := h.sessions.Issue(session.Identity{UserID: id, Username: username})
	if err != nil {
		h.internalError(w, err)
		return
	}
	h.sessions.SetCookie(w, token)

	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// login handles POST "/login/".
func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	parser := h.parsers.loginPool.Get()
	defer h.parsers.loginPool.Put(parser)
	v, _ := parser.ParseBytes(readBody(r))

	username := strings.TrimSpace(string(v.GetStringBytes("username")))
	password := string(v.GetStringBytes("password"))

	user, err := h.store.UserByUsername(r.Context(), username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotExist) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		h.internalError(w, err)
		return
	}

	if !session.VerifyPassword(user.PasswordHash, password) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	token, err := h.sessions.Issue(session.Identity{UserID: user.ID, Username: user.Username})
	if err != nil {
		h.internalError(w, err)
		return
	}
	h.sessions.SetCookie(w, token)

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// logout handles POST "/logout/".
func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.ClearCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
