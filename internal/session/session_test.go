package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgellow/handoff/internal/cookie"
	"github.com/dgellow/handoff/internal/crypto"
	"github.com/dgellow/handoff/internal/idp"
	"github.com/dgellow/handoff/internal/loginview"
	"github.com/dgellow/handoff/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestService(t *testing.T) (*Service, *storage.MemoryStorage, *storage.User) {
	t.Helper()
	store := storage.NewMemoryStorage()
	user, err := store.UpsertUser(context.Background(), "github", idp.Identity{
		Subject: "1",
		Email:   "ada@example.com",
		Name:    "Ada",
	})
	require.NoError(t, err)
	return NewService(store, testKey, time.Hour, 24*time.Hour), store, user
}

// requestWithCookies replays the Set-Cookie headers of w onto a new request
func requestWithCookies(w *httptest.ResponseRecorder) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/login", nil)
	for _, c := range w.Result().Cookies() {
		if c.MaxAge >= 0 {
			r.AddCookie(c)
		}
	}
	return r
}

func TestCreateAndLookup(t *testing.T) {
	svc, store, user := newTestService(t)
	ctx := context.Background()

	w := httptest.NewRecorder()
	sess, err := svc.Create(ctx, w, user, storage.SessionBrowser)
	require.NoError(t, err)
	assert.Equal(t, user.ID, sess.UserID)

	r := requestWithCookies(w)
	raw, err := cookie.GetSession(r)
	require.NoError(t, err)
	assert.NotContains(t, raw, sess.ID, "the cookie never carries the storage key")

	gotSession, gotUser, err := svc.Lookup(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, gotSession.ID)
	assert.Equal(t, "Ada", gotUser.Name)

	stored, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.SessionBrowser, stored.Kind)
}

func TestLookupRejectsTamperedCookie(t *testing.T) {
	svc, _, _ := newTestService(t)

	tests := []struct {
		name  string
		value string
	}{
		{name: "no signature", value: "abc"},
		{name: "bad signature", value: "abc.def"},
		{name: "signed unknown id", value: "abc." + crypto.SignData("abc", testKey)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/login", nil)
			r.AddCookie(&http.Cookie{Name: cookie.SessionCookie, Value: tt.value})

			_, _, err := svc.Lookup(context.Background(), r)
			assert.ErrorIs(t, err, ErrNoSession)
		})
	}
}

func TestDestroy(t *testing.T) {
	svc, _, user := newTestService(t)
	ctx := context.Background()

	w := httptest.NewRecorder()
	_, err := svc.Create(ctx, w, user, storage.SessionBrowser)
	require.NoError(t, err)
	r := requestWithCookies(w)

	out := httptest.NewRecorder()
	require.NoError(t, svc.Destroy(ctx, out, r))

	cleared := out.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, -1, cleared[0].MaxAge)

	_, _, err = svc.Lookup(ctx, r)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestIssueNative(t *testing.T) {
	svc, store, user := newTestService(t)

	token, expiresAt, err := svc.IssueNative(context.Background(), user)
	require.NoError(t, err)
	assert.Len(t, token, 43)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), expiresAt, time.Minute)

	stored, err := store.GetSession(context.Background(), crypto.HashToken(token))
	require.NoError(t, err)
	assert.Equal(t, storage.SessionNative, stored.Kind)
}

func TestRequestStatusLifecycle(t *testing.T) {
	svc, _, user := newTestService(t)
	ctx := context.Background()

	w := httptest.NewRecorder()
	_, err := svc.Create(ctx, w, user, storage.SessionBrowser)
	require.NoError(t, err)

	req := svc.ForRequest(httptest.NewRecorder(), requestWithCookies(w))
	assert.Equal(t, loginview.StatusLoading, req.Status())
	assert.Nil(t, req.Identity())

	var seen []loginview.SessionStatus
	unsubscribe := req.Subscribe(func(s loginview.SessionStatus) { seen = append(seen, s) })

	require.NoError(t, req.Refresh(ctx))
	require.NoError(t, req.Refresh(ctx))
	assert.Equal(t, loginview.StatusAuthenticated, req.Status())
	assert.Equal(t, []loginview.SessionStatus{loginview.StatusAuthenticated}, seen, "only changes notify")

	identity := req.Identity()
	require.NotNil(t, identity)
	assert.Equal(t, user.ID, identity.UserID)
	assert.Equal(t, "ada@example.com", identity.Email)

	require.NoError(t, req.SignOut(ctx))
	require.NoError(t, req.Refresh(ctx))
	assert.Equal(t, loginview.StatusUnauthenticated, req.Status())
	assert.Nil(t, req.User())

	unsubscribe()
	require.NoError(t, req.Refresh(ctx))
	assert.Len(t, seen, 2)
}

func TestRequestWithoutCookie(t *testing.T) {
	svc, _, _ := newTestService(t)

	req := svc.ForRequest(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/login", nil))
	require.NoError(t, req.Refresh(context.Background()))

	assert.Equal(t, loginview.StatusUnauthenticated, req.Status())
}
