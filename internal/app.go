package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgellow/handoff/internal/browserauth"
	"github.com/dgellow/handoff/internal/callbacktoken"
	"github.com/dgellow/handoff/internal/config"
	"github.com/dgellow/handoff/internal/crypto"
	"github.com/dgellow/handoff/internal/idp"
	"github.com/dgellow/handoff/internal/log"
	"github.com/dgellow/handoff/internal/loginview"
	"github.com/dgellow/handoff/internal/metrics"
	"github.com/dgellow/handoff/internal/server"
	"github.com/dgellow/handoff/internal/session"
	"github.com/dgellow/handoff/internal/storage"
	"golang.org/x/sync/errgroup"
)

// viewStateTTL bounds how long a rendered login page can still post actions
const viewStateTTL = time.Hour

// App is the complete handoff service
type App struct {
	config     config.Config
	handler    http.Handler
	httpServer *server.HTTPServer
	storage    storage.Storage
	cleanup    *storage.CleanupManager
	metrics    *metrics.Metrics
}

// NewApp builds every component from cfg
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	log.LogInfoWithFields("app", "Building handoff application", map[string]any{
		"baseURL":   cfg.Server.BaseURL,
		"providers": len(cfg.Auth.Providers),
		"storage":   string(cfg.Auth.Storage),
	})

	keys, err := crypto.DeriveKeys([]byte(cfg.Auth.EncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("deriving keys: %w", err)
	}

	store, err := setupStorage(ctx, cfg, keys.Encryption)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	directory, err := idp.NewDirectory(ctx, cfg.Auth.Providers)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to setup providers: %w", err)
	}

	m := metrics.New()
	handler := buildHTTPHandler(cfg, store, directory, keys, m)

	return &App{
		config:     cfg,
		handler:    handler,
		httpServer: server.NewHTTPServer(handler, cfg.Server.Addr),
		storage:    store,
		cleanup:    storage.NewCleanupManager(store, cfg.Auth.CleanupInterval, observeCleanup(m)),
		metrics:    m,
	}, nil
}

// Handler is the root HTTP handler
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run serves until SIGINT/SIGTERM or a server error, then shuts down gracefully
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.run(ctx)
}

func (a *App) run(ctx context.Context) error {
	log.LogInfoWithFields("app", "Starting handoff", map[string]any{
		"addr": a.config.Server.Addr,
	})

	g, gctx := errgroup.WithContext(ctx)
	a.cleanup.Start(gctx)

	g.Go(func() error {
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		reason := "shutdown requested"
		if err := context.Cause(gctx); err != nil && !errors.Is(err, context.Canceled) {
			reason = err.Error()
		}
		log.LogInfoWithFields("app", "Starting graceful shutdown", map[string]any{
			"reason":  reason,
			"timeout": "30s",
		})

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := a.httpServer.Stop(shutdownCtx)
		a.cleanup.Stop()
		return err
	})

	err := g.Wait()
	if closeErr := a.storage.Close(); closeErr != nil {
		log.LogErrorWithFields("app", "Failed to close storage", map[string]any{
			"error": closeErr.Error(),
		})
	}
	if err != nil {
		return err
	}
	log.LogInfoWithFields("app", "Application shutdown complete", nil)
	return nil
}

func observeCleanup(m *metrics.Metrics) storage.CleanupObserver {
	return func(r storage.CleanupResult) {
		m.ExpiredRemoved.WithLabelValues("session").Add(float64(r.Sessions))
		m.ExpiredRemoved.WithLabelValues("callback_token").Add(float64(r.CallbackTokens))
	}
}

// setupStorage creates storage based on configuration
func setupStorage(ctx context.Context, cfg config.Config, encryptionKey []byte) (storage.Storage, error) {
	if cfg.Auth.Storage == config.StorageFirestore {
		log.LogInfoWithFields("storage", "Using Firestore storage", map[string]any{
			"project":  cfg.Auth.GCPProject,
			"database": cfg.Auth.FirestoreDatabase,
			"prefix":   cfg.Auth.FirestoreCollectionPrefix,
		})
		encryptor, err := crypto.NewEncryptor(encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		return storage.NewFirestoreStorage(
			ctx,
			cfg.Auth.GCPProject,
			cfg.Auth.FirestoreDatabase,
			cfg.Auth.FirestoreCollectionPrefix,
			encryptor,
		)
	}

	log.LogInfoWithFields("storage", "Using in-memory storage", map[string]any{})
	return storage.NewMemoryStorage(), nil
}

// buildHTTPHandler creates the complete HTTP handler with all routing and middleware
func buildHTTPHandler(
	cfg config.Config,
	store storage.Storage,
	directory *idp.Directory,
	keys crypto.Keys,
	m *metrics.Metrics,
) http.Handler {
	mux := http.NewServeMux()
	basePath := cfg.Server.BasePath

	route := func(path string) string {
		if basePath == "/" {
			return path
		}
		return basePath + path
	}

	paths := server.LoginPaths{
		Login:    route("/login"),
		OpenApp:  route("/login/open-app"),
		SignOut:  route("/login/sign-out"),
		Continue: route("/login/continue"),
	}

	sessions := session.NewService(store, keys.Session, cfg.Auth.SessionTTL, cfg.Auth.NativeSessionTTL)
	initiator := browserauth.NewInitiator(directory, keys.State, paths.Login)
	issuer := callbacktoken.NewIssuer(store, cfg.Auth.CallbackTokenTTL)

	loginHandlers := server.NewLoginHandlers(
		loginview.Config{
			AppName:        cfg.App.Name,
			DeepLinkScheme: cfg.App.DeepLinkScheme,
			ContinueURL:    cfg.App.ContinueURL,
		},
		paths,
		sessions,
		directory,
		initiator,
		issuer,
		crypto.NewCSRFProtection(keys.CSRF, viewStateTTL),
		crypto.NewTokenSigner(keys.ViewState, viewStateTTL),
		m,
	)
	callbackHandler := server.NewCallbackHandler(directory, initiator, store, sessions, cfg.Auth.AllowedDomains, m)
	apiHandlers := server.NewAPIHandlers(sessions, directory, issuer, store, m)

	// Recovery middleware should be last (outermost)
	common := []server.MiddlewareFunc{
		server.NewSecurityHeadersMiddleware(),
		server.NewMetricsMiddleware(m),
		server.NewLoggerMiddleware("http"),
		server.NewRecoverMiddleware("http"),
	}
	limiter := server.NewIPRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	limited := append([]server.MiddlewareFunc{server.NewRateLimitMiddleware(limiter, m)}, common...)

	handle := func(pattern string, h http.HandlerFunc, mws []server.MiddlewareFunc) {
		mux.Handle(pattern, server.ChainMiddleware(h, mws...))
	}

	handle("GET "+paths.Login, loginHandlers.LoginPage, common)
	handle("POST "+paths.Login, loginHandlers.SelectProvider, common)
	handle("POST "+paths.OpenApp, loginHandlers.OpenApp, limited)
	handle("POST "+paths.SignOut, loginHandlers.SignOut, common)
	handle("POST "+paths.Continue, loginHandlers.ContinueInBrowser, common)
	mux.Handle("GET "+route("/oauth/callback/{provider}"), server.ChainMiddleware(callbackHandler, common...))

	handle("GET "+route("/api/session"), apiHandlers.SessionStatus, common)
	handle("GET "+route("/api/auth/providers"), apiHandlers.ListProviders, common)
	handle("POST "+route("/api/handoff/redeem"), apiHandlers.Redeem, limited)

	mux.Handle("GET "+route("/health"), server.NewHealthHandler(directory))
	mux.Handle("GET "+route("/metrics"), m.Handler())

	log.LogInfoWithFields("server", "Handoff server initialized", map[string]any{
		"login": paths.Login,
	})
	return mux
}
