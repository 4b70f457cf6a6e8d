package main

import (
	"expvar"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/zk1tty/wf-backend/internal/browsersession"
	"github.com/zk1tty/wf-backend/internal/config"
	"github.com/zk1tty/wf-backend/internal/control"
	"github.com/zk1tty/wf-backend/internal/crypto"
	"github.com/zk1tty/wf-backend/internal/db"
	"github.com/zk1tty/wf-backend/internal/httpapi"
	"github.com/zk1tty/wf-backend/internal/k8s"
	"github.com/zk1tty/wf-backend/internal/sessionmgr"
	"github.com/zk1tty/wf-backend/internal/storagestate"
	"github.com/zk1tty/wf-backend/internal/streamchannel"
	"github.com/zk1tty/wf-backend/internal/streamer"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	keyring, err := openKeyring(cfg)
	if err != nil {
		logger.Error("failed to initialize cookie keyring", "error", err)
		os.Exit(1)
	}

	store := storagestate.New(database, keyring, cfg.CookieKID)
	loader := storagestate.NewPriorityLoader(store, storagestate.LoaderConfig{
		FileDir:    cfg.StorageStateFileDir,
		SharedFile: cfg.StorageStateSharedFile,
		EnvBlob:    cfg.StorageStateEnvBlob,
	}, logger)

	runner := newBrowserRunner(cfg)
	streams := streamer.NewRegistry()

	sessions := sessionmgr.NewManager(database, loader, store, runner, streams, sessionmgr.ManagerConfig{
		AutoSaveSessionState: cfg.AutoSaveSessionState,
		CookieVerifyTTLHours: cfg.CookieVerifyTTLHours,
		EventBufferSize:      cfg.EventBufferSize,
		ClientWriteQueue:     cfg.ClientWriteQueue,
		ClientReadyMaxWait:   cfg.ClientReadyMaxWait,
		SessionTimeout:       cfg.SessionTimeout,
		CleanupInterval:      cfg.CleanupInterval,
	}, logger)
	sessions.Start()
	defer sessions.Stop()

	authenticator, err := newAuthenticator(cfg)
	if err != nil {
		logger.Error("failed to initialize authenticator", "error", err)
		os.Exit(1)
	}

	app := &httpapi.App{
		DB:                   database,
		Store:                store,
		Sessions:             sessions,
		Stream:               streamchannel.NewHandler(streams, logger),
		Control:              control.NewHandler(lookupBrowserSession(sessions), cfg.ControlRatePerSec, cfg.ControlMaxDuration, logger),
		Authenticator:        authenticator,
		CookieVerifyTTLHours: cfg.CookieVerifyTTLHours,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/", app.Handler())

	expvar.NewString("app.name").Set("wf-backend")
	expvar.NewString("app.start_time").Set(time.Now().UTC().Format(time.RFC3339))

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("visual streaming core starting", "addr", "http://localhost"+addr, "browser_runner", cfg.BrowserRunner)

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// openKeyring loads the RSA keypair backing C1's envelope seal/open
// operations. Key paths are required regardless of FEATURE_USE_COOKIES:
// C2's Store always needs a keyring to construct, even when no caller
// exercises cookie verification in a given deployment.
func openKeyring(cfg *config.Config) (*crypto.FileKeyring, error) {
	if cfg.CookiePublicKeyPath == "" || cfg.CookiePrivateKeyPath == "" {
		return nil, fmt.Errorf("COOKIE_PUBLIC_KEY_PATH and COOKIE_PRIVATE_KEY_PATH must both be set to a valid RSA keypair")
	}
	kid := cfg.CookieKID
	if kid == "" {
		kid = "default"
	}
	return crypto.NewFileKeyring(kid, cfg.CookiePublicKeyPath, cfg.CookiePrivateKeyPath)
}

// newBrowserRunner selects the C3 Runner implementation per
// BROWSER_RUNNER, mirroring the teacher's local-vs-Kubernetes pod
// provisioning split.
func newBrowserRunner(cfg *config.Config) browsersession.Runner {
	switch cfg.BrowserRunner {
	case config.BrowserRunnerKubernetes:
		k8s.Configure(cfg.K8sNamespace, cfg.K8sKubeconfig)
		k8s.ConfigureBrowserImage(cfg.BrowserPodImage)
		return browsersession.NewK8sRunner()
	default:
		return browsersession.NewLocalRunner(cfg.Environment != "development")
	}
}

// newAuthenticator builds the C11 Authenticator seam: RS256 verification
// against JWT_PUBLIC_KEY_PATH when configured, otherwise a Noop
// authenticator for local development, mirroring the teacher's fallback to
// NoopAuthProvider when no JWT secret is configured.
func newAuthenticator(cfg *config.Config) (httpapi.Authenticator, error) {
	if cfg.JWTPublicKeyPath == "" {
		slog.Warn("JWT_PUBLIC_KEY_PATH not set - bearer token verification disabled, using anonymous owner")
		return httpapi.NoopAuthenticator{}, nil
	}
	return httpapi.NewJWTAuthenticator(cfg.JWTPublicKeyPath)
}

// lookupBrowserSession projects the Session Registry's live Entry down to
// the BrowserSession the Control Channel forwards input to.
func lookupBrowserSession(sessions *sessionmgr.Manager) control.SessionLookup {
	return func(sessionID string) (browsersession.BrowserSession, bool) {
		entry, ok := sessions.Registry().Lookup(sessionID)
		if !ok || entry.Browser == nil {
			return nil, false
		}
		return entry.Browser, true
	}
}
