package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	t.Parallel()

	m := NewManager("test-secret", time.Hour)

	token, err := m.Issue(Identity{UserID: 42, Username: "alice"})
	require.NoError(t, err)

	id, err := m.Verify(token)
	require.NoError(t, err)
	require.Equal(t, int64(42), id.UserID)
	require.Equal(t, "alice", id.Username)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	t.Parallel()

	token, err := NewManager("secret-a", time.Hour).Issue(Identity{UserID: 1, Username: "alice"})
	require.NoError(t, err)

	_, err = NewManager("secret-b", time.Hour).Verify(token)
	require.Error(t, err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	t.Parallel()

	m := NewManager("test-secret", time.Hour)
	issuedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	m.now = func() time.Time { return issuedAt }
	token, err := m.Issue(Identity{UserID: 1, Username: "alice"})
	require.NoError(t, err)

	m.now = func() time.Time { return issuedAt.Add(2 * time.Hour) }
	_, err = m.Verify(token)
	require.Error(t, err)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	t.Parallel()

	m := NewManager("test-secret", time.Hour)
	_, err := m.Verify("not-a-token")
	require.Error(t, err)
}

func TestCookieRoundTrip(t *testing.T) {
	t.Parallel()

	m := NewManager("test-secret", time.Hour)
	token, err := m.Issue(Identity{UserID: 7, Username: "bob"})
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	m.SetCookie(rr, token)

	req := httptest.NewRequest("GET", "/", nil)
	for _, c := range rr.Result().Cookies() {
		req.AddCookie(c)
	}

	id, err := m.FromRequest(req)
	require.NoError(t, err)
	require.Equal(t, int64(7), id.UserID)
	require.Equal(t, "bob", id.Username)
}

func TestFromRequestNoCookie(t *testing.T) {
	t.Parallel()

	m := NewManager("test-secret", time.Hour)
	req := httptest.NewRequest("GET", "/", nil)

	_, err := m.FromRequest(req)
	require.Equal(t, ErrInvalidToken, err)
}

func TestClearCookie(t *testing.T) {
	t.Parallel()

	m := NewManager("test-secret", time.Hour)
	rr := httptest.NewRecorder()
	m.ClearCookie(rr)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, CookieName, cookies[0].Name)
	require.Empty(t, cookies[0].Value)
	require.Less(t, cookies[0].MaxAge, 0)
	require.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
}

func TestHashAndVerifyPassword(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	require.NotEqual(t, "hunter2", hash)
	require.True(t, VerifyPassword(hash, "hunter2"))
	require.False(t, VerifyPassword(hash, "hunter3"))
}
