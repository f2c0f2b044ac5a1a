package session

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/dgellow/handoff/internal/loginview"
	"github.com/dgellow/handoff/internal/storage"
)

var _ loginview.SessionService = (*Request)(nil)

// Request is the session as observed while serving one HTTP request. Its
// status is loading until the first Refresh.
type Request struct {
	svc *Service
	w   http.ResponseWriter
	r   *http.Request

	mu          sync.Mutex
	status      loginview.SessionStatus
	user        *storage.User
	subscribers map[int]func(loginview.SessionStatus)
	nextID      int
}

// ForRequest binds the service to one request/response pair
func (s *Service) ForRequest(w http.ResponseWriter, r *http.Request) *Request {
	return &Request{
		svc:         s,
		w:           w,
		r:           r,
		status:      loginview.StatusLoading,
		subscribers: make(map[int]func(loginview.SessionStatus)),
	}
}

func (q *Request) Status() loginview.SessionStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

// User is the signed-in user, or nil
func (q *Request) User() *storage.User {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.user == nil {
		return nil
	}
	u := *q.user
	return &u
}

func (q *Request) Identity() *loginview.Identity {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.status != loginview.StatusAuthenticated || q.user == nil {
		return nil
	}
	return &loginview.Identity{
		UserID:   q.user.ID,
		Name:     q.user.Name,
		Email:    q.user.Email,
		Picture:  q.user.Picture,
		Provider: q.user.Provider,
	}
}

func (q *Request) Subscribe(fn func(loginview.SessionStatus)) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextID
	q.nextID++
	q.subscribers[id] = fn
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.subscribers, id)
	}
}

// Refresh reloads the session and notifies subscribers when the status changed.
// On a storage error the previous status is kept.
func (q *Request) Refresh(ctx context.Context) error {
	_, user, err := q.svc.Lookup(ctx, q.r)
	status := loginview.StatusAuthenticated
	if err != nil {
		if !errors.Is(err, ErrNoSession) {
			return err
		}
		status = loginview.StatusUnauthenticated
		user = nil
	}
	q.set(status, user)
	return nil
}

// SignOut deletes the session and clears the cookie. The status changes
// on the next Refresh.
func (q *Request) SignOut(ctx context.Context) error {
	return q.svc.Destroy(ctx, q.w, q.r)
}

func (q *Request) set(status loginview.SessionStatus, user *storage.User) {
	q.mu.Lock()
	changed := q.status != status
	q.status = status
	q.user = user
	var subs []func(loginview.SessionStatus)
	if changed {
		subs = make([]func(loginview.SessionStatus), 0, len(q.subscribers))
		for _, fn := range q.subscribers {
			subs = append(subs, fn)
		}
	}
	q.mu.Unlock()

	for _, fn := range subs {
		fn(status)
	}
}
