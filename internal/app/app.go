// Package app assembles the gateway from a loaded Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/oauth2"

	"papers-gateway/handler"
	"papers-gateway/internal/auth"
	"papers-gateway/internal/config"
	"papers-gateway/internal/integrations/agentrun"
	"papers-gateway/internal/integrations/paramstore"
	"papers-gateway/internal/metrics"
	"papers-gateway/internal/repository"
	"papers-gateway/internal/usecase"
)

// App holds the wired components. Close releases the user store.
type App struct {
	Handler  *handler.Handler
	Router   http.Handler
	Users    usecase.UserStore
	Registry *prometheus.Registry

	closers []func() error
}

// awsLoader loads the shared AWS config on first use only, so local runs
// against SQLite with no SSM parameters never touch AWS.
type awsLoader struct {
	load   func(ctx context.Context) (aws.Config, error)
	cfg    aws.Config
	loaded bool
}

func newAWSLoader() *awsLoader {
	return &awsLoader{load: func(ctx context.Context) (aws.Config, error) {
		return awsconfig.LoadDefaultConfig(ctx)
	}}
}

func (l *awsLoader) get(ctx context.Context) (aws.Config, error) {
	if l.loaded {
		return l.cfg, nil
	}
	cfg, err := l.load(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("app: load AWS config: %w", err)
	}
	l.cfg, l.loaded = cfg, true
	return cfg, nil
}

func (l *awsLoader) params(ctx context.Context) (*paramstore.Client, error) {
	cfg, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return paramstore.New(awsssm.NewFromConfig(cfg))
}

// New builds every component described by cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cloud := newAWSLoader()
	a := &App{}

	authCfg, err := resolveAuth(ctx, cfg.Auth, cloud, logger)
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewService(&authCfg)
	if err != nil {
		return nil, fmt.Errorf("app: token service: %w", err)
	}

	users, closeUsers, err := openUserStore(ctx, cfg.Store, cloud)
	if err != nil {
		return nil, err
	}
	a.Users = users
	if closeUsers != nil {
		a.closers = append(a.closers, closeUsers)
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(a.Registry)

	ts, err := agentTokenSource(ctx, cfg.Agent, cloud)
	if err != nil {
		a.Close()
		return nil, err
	}
	runtime, err := agentrun.NewClient(cfg.Agent.BaseURL, cfg.Agent.AppName,
		agentrun.WithTokenSource(ts),
		agentrun.WithTimeouts(cfg.Agent.SessionTimeout, cfg.Agent.RunTimeout),
		agentrun.WithLogger(logger),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: agent client: %w", err)
	}
	bridge, err := usecase.NewBridge(runtime, collector)
	if err != nil {
		a.Close()
		return nil, err
	}
	svc, err := usecase.NewService(users, tokens, bridge)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Handler, err = handler.NewHandler(svc, tokens, handler.WithRecorder(collector))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Router = handler.NewRouter(a.Handler, handler.RouterConfig{
		Logger:            logger,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Metrics:           metrics.Handler(a.Registry),
	})

	logger.Info("gateway assembled",
		"user_store", cfg.Store.Backend,
		"agent_url", cfg.Agent.BaseURL,
		"agent_app", cfg.Agent.AppName,
		"agent_auth", cfg.Agent.AuthMode,
	)
	return a, nil
}

// OpenUserStore opens only the configured user store, for tools that do not
// need the rest of the gateway.
func OpenUserStore(ctx context.Context, cfg config.Store) (usecase.UserStore, func() error, error) {
	users, closer, err := openUserStore(ctx, cfg, newAWSLoader())
	if err != nil {
		return nil, nil, err
	}
	if closer == nil {
		closer = func() error { return nil }
	}
	return users, closer, nil
}

func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// resolveAuth swaps in the SSM secret when a parameter is configured.
func resolveAuth(ctx context.Context, cfg config.Auth, cloud *awsLoader, logger *slog.Logger) (config.Auth, error) {
	if cfg.SecretParam != "" {
		params, err := cloud.params(ctx)
		if err != nil {
			return cfg, err
		}
		secret, err := paramstore.Secret(ctx, params, cfg.SecretParam)
		if err != nil {
			return cfg, fmt.Errorf("app: load signing secret: %w", err)
		}
		cfg.Secret = secret
		cfg.DefaultSecret = false
	}
	if cfg.DefaultSecret {
		logger.Warn("JWT_SECRET_KEY not set, signing tokens with the built-in default secret")
	}
	return cfg, nil
}

func openUserStore(ctx context.Context, cfg config.Store, cloud *awsLoader) (usecase.UserStore, func() error, error) {
	switch cfg.Backend {
	case config.StoreSQLite:
		s, err := repository.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.StoreDynamoDB:
		awsCfg, err := cloud.get(ctx)
		if err != nil {
			return nil, nil, err
		}
		c, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.UsersTable)
		if err != nil {
			return nil, nil, err
		}
		return c, nil, nil
	default:
		return nil, nil, fmt.Errorf("app: unknown user store %q", cfg.Backend)
	}
}

func agentTokenSource(ctx context.Context, cfg config.Agent, cloud *awsLoader) (oauth2.TokenSource, error) {
	switch cfg.AuthMode {
	case config.AgentAuthNone:
		return nil, nil
	case config.AgentAuthIDToken:
		return agentrun.IDTokenSource(ctx, cfg.BaseURL)
	case config.AgentAuthStatic:
		params, err := cloud.params(ctx)
		if err != nil {
			return nil, err
		}
		token, err := paramstore.Token(ctx, params, cfg.TokenParam)
		if err != nil {
			return nil, fmt.Errorf("app: load agent token: %w", err)
		}
		return agentrun.StaticTokenSource(token), nil
	default:
		return nil, fmt.Errorf("app: unknown agent auth mode %q", cfg.AuthMode)
	}
}
