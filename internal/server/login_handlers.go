package server

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"net/url"

	"github.com/dgellow/handoff/internal/browserauth"
	"github.com/dgellow/handoff/internal/callbacktoken"
	"github.com/dgellow/handoff/internal/cookie"
	"github.com/dgellow/handoff/internal/crypto"
	jsonwriter "github.com/dgellow/handoff/internal/json"
	"github.com/dgellow/handoff/internal/log"
	"github.com/dgellow/handoff/internal/loginview"
	"github.com/dgellow/handoff/internal/metrics"
	"github.com/dgellow/handoff/internal/session"
)

// Form fields shared by every login page action
const (
	formCSRF      = "csrf_token"
	formViewState = "view_state"
	formProvider  = "provider"
)

// LoginHandlers serve the login page. Each request is one mount of a
// loginview.View; POST actions restore the mount's state from the form.
type LoginHandlers struct {
	view      loginview.Config
	paths     LoginPaths
	sessions  *session.Service
	providers loginview.ProviderDirectory
	initiator *browserauth.Initiator
	issuer    *callbacktoken.Issuer
	csrf      crypto.CSRFProtection
	viewState crypto.TokenSigner
	metrics   *metrics.Metrics
}

// NewLoginHandlers creates the login page handlers
func NewLoginHandlers(
	view loginview.Config,
	paths LoginPaths,
	sessions *session.Service,
	providers loginview.ProviderDirectory,
	initiator *browserauth.Initiator,
	issuer *callbacktoken.Issuer,
	csrf crypto.CSRFProtection,
	viewState crypto.TokenSigner,
	m *metrics.Metrics,
) *LoginHandlers {
	return &LoginHandlers{
		view:      view,
		paths:     paths,
		sessions:  sessions,
		providers: providers,
		initiator: initiator,
		issuer:    issuer,
		csrf:      csrf,
		viewState: viewState,
		metrics:   m,
	}
}

// mount builds and mounts a view for this request, then loads the session.
// The caller must Unmount.
func (h *LoginHandlers) mount(w http.ResponseWriter, r *http.Request, query url.Values, opts ...loginview.Option) (*loginview.View, *recordingNavigator) {
	nav := &recordingNavigator{}
	sess := h.sessions.ForRequest(w, r)

	view := loginview.New(h.view, loginview.Deps{
		Session:   sess,
		Providers: h.providers,
		Login:     &countingInitiator{next: h.initiator.ForRequest(w, nav, h.paths.Login), metrics: h.metrics},
		Tokens: &countingIssuer{
			next: h.issuer.ForUser(func() string {
				if u := sess.User(); u != nil {
					return u.ID
				}
				return ""
			}),
			metrics: h.metrics,
		},
		Navigator: nav,
	}, query, opts...)

	view.Mount(r.Context())
	if err := sess.Refresh(r.Context()); err != nil {
		log.LogErrorWithFields("login", "Failed to load session", map[string]any{
			"error": err.Error(),
		})
	}
	return view, nav
}

// restore validates the form and continues the mount it was rendered by
func (h *LoginHandlers) restore(w http.ResponseWriter, r *http.Request) (*loginview.View, *recordingNavigator, bool) {
	if err := r.ParseForm(); err != nil {
		jsonwriter.WriteBadRequest(w, "Invalid form")
		return nil, nil, false
	}
	binding, _ := cookie.GetCSRF(r)
	if !h.csrf.Validate(r.PostFormValue(formCSRF), binding) {
		log.LogWarnWithFields("login", "CSRF validation failed", map[string]any{
			"path": r.URL.Path,
		})
		jsonwriter.WriteForbidden(w, "Invalid or expired form, reload the page")
		return nil, nil, false
	}
	var state loginview.State
	if err := h.viewState.Verify(r.PostFormValue(formViewState), &state); err != nil {
		jsonwriter.WriteBadRequest(w, "Invalid view state")
		return nil, nil, false
	}

	view, nav := h.mount(w, r, nil, loginview.WithState(state))
	return view, nav, true
}

// LoginPage renders the login page (GET /login)
func (h *LoginHandlers) LoginPage(w http.ResponseWriter, r *http.Request) {
	view, nav := h.mount(w, r, r.URL.Query())
	defer view.Unmount()
	h.render(w, r, view, nav)
}

// SelectProvider handles a provider button (POST /login)
func (h *LoginHandlers) SelectProvider(w http.ResponseWriter, r *http.Request) {
	view, nav, ok := h.restore(w, r)
	if !ok {
		return
	}
	defer view.Unmount()

	// Signed in since the page rendered: restoring already handed off
	if target := nav.Opened(); target != "" {
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}

	if err := view.SelectProvider(r.Context(), r.PostFormValue(formProvider)); err != nil {
		if !errors.Is(err, browserauth.ErrUnknownProvider) {
			log.LogErrorWithFields("login", "Failed to start login", map[string]any{
				"error": err.Error(),
			})
			jsonwriter.WriteInternalServerError(w, "Failed to start login")
			return
		}
	}
	h.seeOther(w, r, nav.Last())
}

// OpenApp hands the session off to the native app (POST /login/open-app).
// A failed issuance is silent: 204 and nothing navigates.
func (h *LoginHandlers) OpenApp(w http.ResponseWriter, r *http.Request) {
	view, nav, ok := h.restore(w, r)
	if !ok {
		return
	}
	defer view.Unmount()

	// Restoring may already have auto-opened; one key per request is enough
	if nav.Opened() == "" {
		view.OpenApp(r.Context())
	}
	if target := nav.Opened(); target != "" {
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SignOut ends the browser session (POST /login/sign-out)
func (h *LoginHandlers) SignOut(w http.ResponseWriter, r *http.Request) {
	view, _, ok := h.restore(w, r)
	if !ok {
		return
	}
	defer view.Unmount()

	if err := view.SignOut(r.Context()); err != nil && !errors.Is(err, context.Canceled) {
		log.LogErrorWithFields("login", "Failed to sign out", map[string]any{
			"error": err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Failed to sign out")
		return
	}
	http.Redirect(w, r, h.paths.Login, http.StatusSeeOther)
}

// ContinueInBrowser leaves for the web app (POST /login/continue)
func (h *LoginHandlers) ContinueInBrowser(w http.ResponseWriter, r *http.Request) {
	view, nav, ok := h.restore(w, r)
	if !ok {
		return
	}
	defer view.Unmount()

	view.ContinueInBrowser()
	h.seeOther(w, r, nav.Assigned())
}

func (h *LoginHandlers) seeOther(w http.ResponseWriter, r *http.Request, target string) {
	if target == "" {
		target = h.paths.Login
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// csrfBinding returns the browser's CSRF binding, setting a new one if absent
func (h *LoginHandlers) csrfBinding(w http.ResponseWriter, r *http.Request) (string, error) {
	if binding, err := cookie.GetCSRF(r); err == nil && binding != "" {
		return binding, nil
	}
	binding, err := h.csrf.NewBinding()
	if err != nil {
		return "", err
	}
	cookie.SetCSRF(w, binding)
	return binding, nil
}

func (h *LoginHandlers) render(w http.ResponseWriter, r *http.Request, view *loginview.View, nav *recordingNavigator) {
	model := view.Render()

	binding, err := h.csrfBinding(w, r)
	if err != nil {
		log.LogError("Failed to create CSRF binding: %v", err)
		jsonwriter.WriteInternalServerError(w, "Internal server error")
		return
	}
	csrfToken, err := h.csrf.Generate(binding)
	if err != nil {
		log.LogError("Failed to generate CSRF token: %v", err)
		jsonwriter.WriteInternalServerError(w, "Internal server error")
		return
	}
	viewState, err := h.viewState.Sign(model.State)
	if err != nil {
		log.LogError("Failed to sign view state: %v", err)
		jsonwriter.WriteInternalServerError(w, "Internal server error")
		return
	}

	data := LoginPageData{
		Title:     "Log in to " + model.AppName,
		Model:     model,
		CSRFToken: csrfToken,
		ViewState: viewState,
		Paths:     h.paths,
	}
	switch model.Screen {
	case loginview.ScreenRedirecting:
		data.RedirectURL = nav.Assigned()
		if data.RedirectURL == "" {
			data.RedirectURL = h.paths.Login
		}
	case loginview.ScreenAuthenticated:
		// The scheme comes from config, so the link is trusted
		data.DeepLink = template.URL(nav.Opened())
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := loginPageTemplate.Execute(w, data); err != nil {
		log.LogError("Failed to render login page: %v", err)
	}
}

// countingInitiator counts logins that actually left for a provider
type countingInitiator struct {
	next    loginview.LoginInitiator
	metrics *metrics.Metrics
}

func (c *countingInitiator) BeginLogin(ctx context.Context, providerKey string) error {
	err := c.next.BeginLogin(ctx, providerKey)
	if err == nil && c.metrics != nil {
		c.metrics.LoginsStarted.WithLabelValues(providerKey).Inc()
	}
	return err
}

// countingIssuer counts callback keys handed to the app
type countingIssuer struct {
	next    loginview.TokenIssuer
	metrics *metrics.Metrics
}

func (c *countingIssuer) IssueSessionToken(ctx context.Context) (*loginview.CallbackPayload, error) {
	payload, err := c.next.IssueSessionToken(ctx)
	if err == nil && payload != nil && c.metrics != nil {
		c.metrics.HandoffsIssued.Inc()
	}
	return payload, err
}
