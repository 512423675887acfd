package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ma12/companion-api/pkg/api"
	"github.com/ma12/companion-api/pkg/archive"
	"github.com/ma12/companion-api/pkg/audit"
	"github.com/ma12/companion-api/pkg/config"
	"github.com/ma12/companion-api/pkg/mail"
	"github.com/ma12/companion-api/pkg/ratelimit"
	"github.com/ma12/companion-api/pkg/sobriety"
	"github.com/ma12/companion-api/pkg/store"
	"github.com/ma12/companion-api/pkg/support"
	"github.com/ma12/companion-api/pkg/system"
)

// core holds the long-lived components shared by the server and the operator commands.
type core struct {
	cfg      config.Config
	log      *zap.SugaredLogger
	store    store.Store
	auditor  *audit.Manager
	mail     *mail.Service
	support  *support.Service
	sobriety *sobriety.Service
}

func newCore(ctx context.Context, cfg config.Config, logger *zap.Logger) (*core, error) {
	log := logger.Sugar()
	st, err := store.Open(ctx, cfg.Database, store.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	c := &core{cfg: cfg, log: log, store: st}

	c.auditor, err = audit.NewFromConfig(cfg.Audit, logger)
	if err != nil {
		c.close(ctx)
		return nil, fmt.Errorf("init audit: %w", err)
	}
	c.mail, err = mail.NewService(cfg.Mail, log)
	if err != nil {
		c.close(ctx)
		return nil, fmt.Errorf("init mail: %w", err)
	}
	arch, err := archive.Open(ctx, cfg.Archive, log)
	if err != nil {
		c.close(ctx)
		return nil, err
	}

	mailboxes := support.MailboxesFromConfig(cfg.Support)
	if err := mailboxes.Validate(); err != nil {
		log.Warnw("Support mailboxes incomplete, affected notifications will fail", "error", err)
	}
	notifier := support.NewNotifier(st, c.mail.Sender(), mailboxes, log).
		WithArchive(arch, cfg.Archive.Prefix).
		WithAudit(c.auditor)
	c.mail.Queue().OnPermanentFailure(notifier.HandlePermanentFailure)

	c.support = support.NewService(st, c.mail, notifier, log,
		support.WithDispatchDelay(config.MustDuration(cfg.Mail.DispatchDelay, config.DefaultDispatchDelay)),
		support.WithAudit(c.auditor))
	c.sobriety = sobriety.NewService(st, log)
	return c, nil
}

// close stops the mail queue, flushes audit events and closes the store.
func (c *core) close(ctx context.Context) {
	var errs []error
	if c.mail != nil {
		errs = append(errs, c.mail.Stop(ctx))
	}
	errs = append(errs, c.auditor.Close())
	if c.store != nil {
		errs = append(errs, c.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		c.log.Warnw("Errors during shutdown", "error", err)
	}
}

// app is the core plus the HTTP surface.
type app struct {
	*core
	server  *api.Server
	limiter *ratelimit.IPRateLimiter
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger, debug bool) (*app, error) {
	c, err := newCore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &app{core: c}

	var submitMiddleware []gin.HandlerFunc
	if !cfg.Server.RateLimit.Disabled {
		a.limiter = ratelimit.New(ratelimit.ConfigFrom(cfg.Server.RateLimit))
		submitMiddleware = append(submitMiddleware, a.limiter.Middleware("support_submit"))
	}

	a.server, err = api.NewServer(logger, cfg.Server, debug, c.store)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	err = a.server.RegisterAll([]api.APIController{
		sobriety.NewController(c.sobriety, c.auditor, c.log),
		support.NewController(c.support, c.auditor, c.log, support.ControllerOptions{
			StatsToken:       cfg.Server.StatsToken,
			SubmitMiddleware: submitMiddleware,
		}),
	})
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

// run serves until ctx is cancelled, then shuts everything down.
func (a *app) run(ctx context.Context) error {
	a.mail.Start()
	info := system.GetBuildInfo()
	a.log.Infow("Starting companion-api", "version", info.Short(), "address", a.cfg.Server.ListenAddress)
	a.auditor.System(ctx, audit.EventSystemStartup, map[string]any{
		"version": info.Version,
		"address": a.cfg.Server.ListenAddress,
	})

	err := a.server.Run(ctx)

	a.auditor.System(context.Background(), audit.EventSystemShutdown, nil)
	a.close(context.Background())
	return err
}

func (a *app) close(ctx context.Context) {
	if a.limiter != nil {
		a.limiter.Stop()
	}
	a.core.close(ctx)
}
