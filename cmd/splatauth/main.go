// Command splatauth manages the credential chain for the game's web API:
// it mints and refreshes the gtoken and bullet token from a stored session
// token and persists them for other tools to use.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/splatauth/internal/adapter/driven/configfile"
	"github.com/ericfisherdev/splatauth/internal/adapter/driven/envtokens"
	"github.com/ericfisherdev/splatauth/internal/adapter/driven/imink"
	"github.com/ericfisherdev/splatauth/internal/adapter/driven/nso"
	sqliteadapter "github.com/ericfisherdev/splatauth/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/splatauth/internal/application"
	"github.com/ericfisherdev/splatauth/internal/config"
	"github.com/ericfisherdev/splatauth/internal/domain/model"
	"github.com/ericfisherdev/splatauth/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	storeKind := pflag.String("store", "file", "token store backend: file, env, or sqlite")
	configPath := pflag.String("config", "", "path to the token config file (overrides SPLATAUTH_CONFIG_PATH)")
	dbPath := pflag.String("db", "", "path to the sqlite database (overrides SPLATAUTH_DB_PATH)")
	regenerate := pflag.Bool("regenerate", false, "force regeneration of the gtoken and bullet token")
	show := pflag.Bool("show", false, "print token status and exit")
	daemon := pflag.Bool("daemon", false, "keep running and refresh tokens before they expire")
	pflag.Parse()

	// 1. Load configuration, then apply flag overrides.
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *configPath != "" {
		cfg.ConfigPath = *configPath
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	slog.Info("config loaded",
		"store", *storeKind,
		"signing_endpoints", len(cfg.SigningEndpoints),
		"refresh_interval", cfg.RefreshInterval,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Wire the signing caller and the platform session client.
	signer := imink.NewSigner(imink.Config{
		Endpoints:   cfg.SigningEndpoints,
		MaxAttempts: cfg.SigningMaxAttempts,
	})
	sessionClient := nso.NewClient(signer)

	// 4. Select the token store.
	store, cleanup, err := buildStore(*storeKind, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	// 5. Bootstrap the manager from the store, falling back to the
	// environment-supplied session token when the store is empty.
	manager, err := application.NewTokenManagerFromStore(ctx, store, sessionClient)
	if errors.Is(err, driven.ErrNoSessionToken) && cfg.HasSessionToken() {
		manager = application.NewTokenManager(sessionClient)
		if addErr := manager.AddValue(model.SessionToken, cfg.SessionToken); addErr != nil {
			return addErr
		}
		slog.Info("bootstrapped from SPLATAUTH_SESSION_TOKEN; store had no tokens")
		err = nil
	}
	if err != nil {
		return err
	}
	slog.Info("token manager ready", "origin", manager.Origin().Kind)

	// 6. Run the requested action.
	if *show {
		printStatus(manager)
		return nil
	}

	if *regenerate {
		if err := manager.RegenerateTokens(ctx); err != nil {
			return fmt.Errorf("regenerating tokens: %w", err)
		}
	} else {
		// Minting the bullet token exercises the whole chain, regenerating
		// anything expired or absent along the way.
		if _, err := manager.Get(ctx, model.BulletToken); err != nil {
			return fmt.Errorf("minting token chain: %w", err)
		}
	}

	if err := persist(ctx, store, manager); err != nil {
		return err
	}
	printStatus(manager)

	// 7. Daemon mode: refresh tokens ahead of expiry until signaled.
	if *daemon {
		refresher := application.NewRefreshService(manager, store, cfg.RefreshInterval, cfg.RefreshMargin)
		slog.Info("refresh daemon started", "interval", cfg.RefreshInterval, "margin", cfg.RefreshMargin)
		refresher.Start(ctx)
	}

	return nil
}

// buildStore constructs the selected TokenStore. The returned cleanup closes
// any underlying resources and is safe to call unconditionally.
func buildStore(kind string, cfg *config.Config) (driven.TokenStore, func(), error) {
	noop := func() {}
	switch kind {
	case "file":
		return configfile.NewStore(cfg.ConfigPath), noop, nil
	case "env":
		return envtokens.NewStore(), noop, nil
	case "sqlite":
		db, err := sqliteadapter.NewDB(cfg.DBPath)
		if err != nil {
			return nil, noop, err
		}
		if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		cleanup := func() {
			if err := db.Close(); err != nil {
				slog.Error("error closing database", "error", err)
			}
		}
		return sqliteadapter.NewTokenRepo(db, cfg.SecretKey), cleanup, nil
	default:
		return nil, noop, fmt.Errorf("unknown store backend %q", kind)
	}
}

// persist saves the manager's tokens to the store, tolerating read-only
// backends.
func persist(ctx context.Context, store driven.TokenStore, manager *application.TokenManager) error {
	err := store.Save(ctx, manager.Snapshot())
	if errors.Is(err, driven.ErrReadOnlyStore) {
		slog.Warn("store is read-only, refreshed tokens were not persisted")
		return nil
	}
	if err != nil {
		return fmt.Errorf("persisting tokens: %w", err)
	}
	return nil
}

// printStatus writes one line per token with its age and remaining lifetime.
func printStatus(manager *application.TokenManager) {
	now := time.Now()
	for _, tok := range manager.Tokens() {
		remaining := "never expires"
		if left := tok.TimeLeft(now); left < time.Duration(1<<62) {
			remaining = left.Round(time.Second).String()
		}
		fmt.Printf("%-14s issued %s ago, expires in %s\n",
			tok.Name,
			now.Sub(tok.IssuedAt).Round(time.Second),
			remaining,
		)
	}
}
