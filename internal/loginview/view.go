package loginview

import (
	"context"
	"net/url"
	"sync"

	"github.com/dgellow/handoff/internal/log"
)

// QueryProvider is the query parameter that triggers an automatic login
const QueryProvider = "provider"

// State is the instance-scoped part of a mount that must survive across
// HTTP requests belonging to the same page
type State struct {
	Redirecting       bool `json:"r,omitempty"`
	AttemptedAutoOpen bool `json:"a,omitempty"`
}

// Option configures a View
type Option func(*View)

// WithState continues an earlier mount instead of starting fresh
func WithState(s State) Option {
	return func(v *View) {
		v.redirecting = s.Redirecting
		v.attemptedAutoOpen = s.AttemptedAutoOpen
	}
}

// Screen selects which branch of the page renders
type Screen string

const (
	ScreenRedirecting   Screen = "redirecting"
	ScreenAuthenticated Screen = "authenticated"
	ScreenProviders     Screen = "providers"
)

// Model is everything the page needs to render
type Model struct {
	Screen    Screen
	Status    SessionStatus
	AppName   string
	Identity  *Identity
	Providers []AuthProvider
	State     State
}

// View is one mount of the login page. It is safe for concurrent use;
// collaborators are always called without the lock held.
type View struct {
	cfg           Config
	deps          Deps
	providerParam string

	mu                sync.Mutex
	status            SessionStatus
	redirecting       bool
	attemptedAutoOpen bool
	mounted           bool
	unmounted         bool
	unsubscribe       func()
	ctx               context.Context
	cancel            context.CancelFunc
}

// New creates a view. The provider query parameter is read once, here.
func New(cfg Config, deps Deps, query url.Values, opts ...Option) *View {
	v := &View{
		cfg:           cfg,
		deps:          deps,
		providerParam: query.Get(QueryProvider),
		status:        StatusLoading,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Mount subscribes to session changes and applies the current status.
// Mounting twice is a no-op, as is mounting after Unmount.
func (v *View) Mount(ctx context.Context) {
	v.mu.Lock()
	if v.mounted || v.unmounted {
		v.mu.Unlock()
		return
	}
	v.mounted = true
	v.ctx, v.cancel = context.WithCancel(ctx)
	v.mu.Unlock()

	unsubscribe := v.deps.Session.Subscribe(v.onStatus)

	v.mu.Lock()
	if v.unmounted {
		v.mu.Unlock()
		unsubscribe()
		return
	}
	v.unsubscribe = unsubscribe
	v.mu.Unlock()

	v.onStatus(v.deps.Session.Status())
}

// Unmount cancels in-flight work. Continuations that finish afterwards
// neither navigate nor change state.
func (v *View) Unmount() {
	v.mu.Lock()
	if v.unmounted {
		v.mu.Unlock()
		return
	}
	v.unmounted = true
	cancel, unsubscribe := v.cancel, v.unsubscribe
	v.unsubscribe = nil
	v.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (v *View) onStatus(status SessionStatus) {
	v.mu.Lock()
	if v.unmounted {
		v.mu.Unlock()
		return
	}
	v.status = status

	beginLogin := false
	if status == StatusUnauthenticated && v.providerParam != "" && !v.redirecting {
		v.redirecting = true
		beginLogin = true
	}
	autoOpen := false
	if status == StatusAuthenticated && !v.attemptedAutoOpen {
		v.attemptedAutoOpen = true
		autoOpen = true
	}
	ctx := v.ctx
	v.mu.Unlock()

	if beginLogin {
		log.LogDebugWithFields("loginview", "Starting login from query parameter", map[string]any{
			"provider": v.providerParam,
		})
		if err := v.deps.Login.BeginLogin(ctx, v.providerParam); err != nil {
			log.LogWarnWithFields("loginview", "Automatic login failed to start", map[string]any{
				"provider": v.providerParam,
				"error":    err.Error(),
			})
		}
	}
	if autoOpen {
		v.OpenApp(ctx)
	}
}

// SelectProvider is the provider button handler
func (v *View) SelectProvider(ctx context.Context, key string) error {
	ctx, stop := v.actionContext(ctx)
	defer stop()
	if v.isUnmounted() {
		return context.Canceled
	}
	return v.deps.Login.BeginLogin(ctx, key)
}

// OpenApp issues a callback payload and opens the deep link. Failed or
// empty issuance is silent: nothing navigates and nothing changes.
func (v *View) OpenApp(ctx context.Context) bool {
	ctx, stop := v.actionContext(ctx)
	defer stop()
	if v.isUnmounted() {
		return false
	}

	payload, err := v.deps.Tokens.IssueSessionToken(ctx)
	if err != nil {
		log.LogDebugWithFields("loginview", "Session token issuance failed", map[string]any{
			"error": err.Error(),
		})
		return false
	}
	if payload == nil {
		return false
	}
	if v.isUnmounted() || ctx.Err() != nil {
		return false
	}

	v.deps.Navigator.OpenTop(DeepLink(v.cfg.DeepLinkScheme, *payload))
	return true
}

// SignOut ends the session and refreshes the status; the view re-derives
// its model from the refreshed status.
func (v *View) SignOut(ctx context.Context) error {
	ctx, stop := v.actionContext(ctx)
	defer stop()
	if v.isUnmounted() {
		return context.Canceled
	}

	if err := v.deps.Session.SignOut(ctx); err != nil {
		return err
	}
	if v.isUnmounted() {
		return nil
	}
	return v.deps.Session.Refresh(ctx)
}

// ContinueInBrowser leaves the login page for the web app
func (v *View) ContinueInBrowser() {
	if v.isUnmounted() {
		return
	}
	v.deps.Navigator.Assign(v.cfg.ContinueURL)
}

// State snapshots the one-shot guards of this mount
func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return State{Redirecting: v.redirecting, AttemptedAutoOpen: v.attemptedAutoOpen}
}

// Render derives the page model from current state
func (v *View) Render() Model {
	v.mu.Lock()
	status, redirecting := v.status, v.redirecting
	state := State{Redirecting: v.redirecting, AttemptedAutoOpen: v.attemptedAutoOpen}
	v.mu.Unlock()

	m := Model{Status: status, AppName: v.cfg.AppName, State: state}
	switch {
	case redirecting:
		m.Screen = ScreenRedirecting
	case status == StatusAuthenticated:
		m.Screen = ScreenAuthenticated
		m.Identity = v.deps.Session.Identity()
	default:
		m.Screen = ScreenProviders
		m.Providers = v.deps.Providers.Providers()
	}
	return m
}

func (v *View) isUnmounted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.unmounted
}

// actionContext merges ctx with the view's lifetime so Unmount cancels
// actions started from outside the mount goroutine
func (v *View) actionContext(ctx context.Context) (context.Context, func()) {
	v.mu.Lock()
	viewCtx := v.ctx
	v.mu.Unlock()

	if viewCtx == nil {
		return ctx, func() {}
	}
	merged, cancel := context.WithCancel(ctx)
	stopAfter := context.AfterFunc(viewCtx, cancel)
	return merged, func() {
		stopAfter()
		cancel()
	}
}
