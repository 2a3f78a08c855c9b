package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	credfile "github.com/bnema/multisession/internal/adapters/credentials/file"
	"github.com/bnema/multisession/internal/adapters/engine/loopback"
	"github.com/bnema/multisession/internal/adapters/httpapi"
	statusadapter "github.com/bnema/multisession/internal/adapters/render/status"
	tomlrepo "github.com/bnema/multisession/internal/adapters/repo/toml"
	chainstore "github.com/bnema/multisession/internal/adapters/secrets/chain"
	filestore "github.com/bnema/multisession/internal/adapters/secrets/file"
	passstore "github.com/bnema/multisession/internal/adapters/secrets/pass"
	"github.com/bnema/multisession/internal/application"
	"github.com/bnema/multisession/internal/config"
	"github.com/bnema/multisession/internal/domain"
	"github.com/bnema/multisession/internal/observability"
	"github.com/bnema/multisession/internal/ports"
	"github.com/bnema/multisession/internal/version"
	"github.com/rs/zerolog"
)

const (
	appName          = "msd"
	engineLoopback   = "loopback"
	defaultLocalHost = "127.0.0.1"
)

type app struct {
	cfg            config.Config
	logger         zerolog.Logger
	store          *credfile.Store
	statuses       *tomlrepo.StatusRepository
	secrets        ports.SecretStore
	statusRenderer func([]domain.SessionStatus, statusadapter.RenderOptions) (string, error)
	httpClient     *http.Client
	now            func() time.Time
}

// daemon is everything msd serve keeps alive.
type daemon struct {
	registry    *application.Registry
	coordinator *application.PairingCoordinator
	server      *httpapi.Server
}

func wireApp(configPath string, logOutput io.Writer) (*app, error) {
	v, err := config.New(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	statuses, err := tomlrepo.NewStatusRepository(v)
	if err != nil {
		return nil, fmt.Errorf("wire status repository: %w", err)
	}

	secrets, err := newSecretStore(cfg.Secrets)
	if err != nil {
		return nil, fmt.Errorf("wire secret store: %w", err)
	}

	logger := observability.NewLogger(appName, observability.LogOptions{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: logOutput,
	})

	return &app{
		cfg:            cfg,
		logger:         logger,
		store:          credfile.NewStore(cfg.SessionsDir),
		statuses:       statuses,
		secrets:        secrets,
		statusRenderer: statusadapter.Render,
		httpClient:     http.DefaultClient,
		now:            time.Now,
	}, nil
}

func newSecretStore(cfg config.Secrets) (ports.SecretStore, error) {
	switch cfg.Backend {
	case config.SecretsBackendPass:
		return passstore.NewStore(), nil
	case config.SecretsBackendAuto:
		return chainstore.NewPassFirstWithFileFallback(cfg.Dir)
	default:
		return filestore.NewStore(cfg.Dir), nil
	}
}

// resolvePairingToken fills in the pairing token from the secret store when
// neither config nor environment set one.
func (a *app) resolvePairingToken(ctx context.Context) error {
	if a.cfg.Pairing.Token != "" {
		return nil
	}

	token, err := a.secrets.Get(ctx, a.cfg.Pairing.TokenKey)
	if err != nil {
		if errors.Is(err, domain.ErrSecretNotFound) {
			return nil
		}
		return fmt.Errorf("read pairing token: %w", err)
	}

	a.cfg.Pairing.Token = token
	return nil
}

func (a *app) newEngine() (ports.Engine, error) {
	switch strings.ToLower(a.cfg.Engine.Driver) {
	case engineLoopback:
		return loopback.New(loopback.Options{
			ConnectDelay: a.cfg.Engine.ConnectDelay,
			AutoConfirm:  a.cfg.Engine.AutoConfirm,
			Logger:       a.logger.With().Str("component", "engine").Logger(),
		}), nil
	default:
		return nil, fmt.Errorf("unsupported engine driver %q", a.cfg.Engine.Driver)
	}
}

func (a *app) supervisorConfig() application.SupervisorConfig {
	cfg := application.DefaultSupervisorConfig()
	cfg.PairingSettleDelay = a.cfg.Pairing.SettleDelay
	cfg.NotifyOnConnect = a.cfg.Sessions.NotifyOnConnect
	cfg.Backoff = application.BackoffConfig{
		InitialDelay: a.cfg.Reconnect.InitialDelay,
		MaxDelay:     a.cfg.Reconnect.MaxDelay,
		Multiplier:   a.cfg.Reconnect.Multiplier,
		Jitter:       a.cfg.Reconnect.Jitter,
	}
	return cfg
}

func (a *app) wireDaemon() (*daemon, error) {
	engine, err := a.newEngine()
	if err != nil {
		return nil, err
	}

	dispatcher := application.NewDefaultDispatcher(
		a.logger.With().Str("component", "dispatcher").Logger(),
		application.WithIgnoreSelf(a.cfg.Commands.IgnoreSelf),
	)

	registry, err := application.NewRegistry(application.Dependencies{
		Store:      a.store,
		Statuses:   a.statuses,
		Engine:     engine,
		Dispatcher: dispatcher,
		Clock:      ports.SystemClock{},
	}, a.supervisorConfig(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("wire session registry: %w", err)
	}

	coordinator := application.NewPairingCoordinator(registry, a.cfg.Pairing.Timeout, a.logger)

	server := httpapi.New(coordinator, registry, httpapi.Options{
		Token:           a.cfg.Pairing.Token,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		Version:         version.Version,
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
		Logger:          a.logger.With().Str("component", "http").Logger(),
	})

	return &daemon{registry: registry, coordinator: coordinator, server: server}, nil
}

// serverURL turns the listen address into a URL the CLI can dial.
func (a *app) serverURL() string {
	listen := a.cfg.Listen
	if strings.HasPrefix(listen, ":") {
		listen = defaultLocalHost + listen
	}
	if strings.HasPrefix(listen, "0.0.0.0:") {
		listen = defaultLocalHost + strings.TrimPrefix(listen, "0.0.0.0")
	}
	return "http://" + listen
}
