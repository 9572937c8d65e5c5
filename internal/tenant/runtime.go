package tenant

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/restcore/internal/auth"
	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/services"
	"github.com/roach88/restcore/internal/storage"
	"github.com/roach88/restcore/internal/triggers"
)

// Runtime bundles the configuration and collaborators of one tenant. It is
// shared by every request of the tenant; per-request state lives in the
// query and write descriptors.
type Runtime struct {
	Config   Config
	TenantID string

	Storage       storage.Adapter
	Triggers      *triggers.Registry
	Files         *services.Files
	Cache         *services.Cache
	LiveQuery     *services.LiveQuery
	Users         *services.UserController
	AuthProviders *auth.Providers

	IDs    ir.IDGenerator
	Clock  func() time.Time
	Logger *slog.Logger

	wg sync.WaitGroup
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithTriggers shares a trigger registry between runtimes.
func WithTriggers(r *triggers.Registry) Option {
	return func(rt *Runtime) { rt.Triggers = r }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(rt *Runtime) { rt.Clock = now }
}

// WithIDs replaces the objectId generator.
func WithIDs(ids ir.IDGenerator) Option {
	return func(rt *Runtime) { rt.IDs = ids }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(rt *Runtime) { rt.Logger = l }
}

// WithMail sets the adapter used for verification emails.
func WithMail(m services.MailAdapter) Option {
	return func(rt *Runtime) { rt.Users.Mail = m }
}

// WithAuthProviders replaces the third-party auth validators.
func WithAuthProviders(p *auth.Providers) Option {
	return func(rt *Runtime) { rt.AuthProviders = p }
}

// New builds the runtime of the tenant described by cfg.
func New(cfg Config, adapter storage.Adapter, opts ...Option) *Runtime {
	rt := &Runtime{
		Config:        cfg,
		TenantID:      cfg.AppID,
		Storage:       adapter,
		Triggers:      triggers.New(),
		Files:         &services.Files{BaseURL: cfg.ServerURL, AppID: cfg.AppID},
		Cache:         services.NewCache(),
		LiveQuery:     services.NewLiveQuery(cfg.LiveQueryClasses...),
		AuthProviders: auth.NewProviders(),
		IDs:           ir.RandomIDs{},
		Clock:         time.Now,
		Logger:        slog.Default(),
	}
	rt.Users = &services.UserController{
		VerifyEmails:  cfg.VerifyUserEmails,
		TokenValidity: cfg.EmailVerifyTokenValidity,
		BaseURL:       cfg.ServerURL,
		AppID:         cfg.AppID,
		AppName:       cfg.AppName,
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.Users.Now = rt.Clock
	if rt.Users.Mail == nil {
		rt.Users.Mail = services.LogMailAdapter{Logger: rt.Logger}
	}

	// Committed saves of live classes reach the tenant's registered
	// live query handlers.
	rt.LiveQuery.Subscribe(func(ev services.LiveQueryEvent) {
		rt.Triggers.RunLiveQueryHandlers(rt.TenantID, ev)
	})
	return rt
}

// Now returns the current time in UTC, truncated to the wire precision.
func (rt *Runtime) Now() time.Time {
	return rt.Clock().UTC().Truncate(time.Millisecond)
}

// NewObjectID returns a fresh objectId of the configured size.
func (rt *Runtime) NewObjectID() string {
	return rt.IDs.NewObjectID(rt.Config.ObjectIDSize)
}

// HookCommon builds the caller fields shared by every hook request.
func (rt *Runtime) HookCommon(a *auth.Auth) triggers.Common {
	c := triggers.Common{Log: rt.Logger}
	if a != nil {
		c.Master = a.IsMaster
		c.User = ir.CloneObject(a.User)
		c.InstallationID = a.InstallationID
	}
	return c
}

// Go runs fn in the background. Errors are logged, never returned.
func (rt *Runtime) Go(name string, fn func(ctx context.Context) error) {
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		if err := fn(context.Background()); err != nil {
			rt.Logger.Warn("background task failed", "task", name, "tenant_id", rt.TenantID, "error", err)
			return
		}
		rt.Logger.Debug("background task done", "task", name, "tenant_id", rt.TenantID)
	}()
}

// Wait blocks until every task started with Go has finished.
func (rt *Runtime) Wait() {
	rt.wg.Wait()
}
