// Package app assembles the helpdesk object graph shared by the API server
// and the admin CLI.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/notify"
	"github.com/spec-kit/helpdesk/internal/observability"
	"github.com/spec-kit/helpdesk/internal/persistence"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/service"
	"github.com/spec-kit/helpdesk/internal/storage"
)

// Container holds the long-lived dependencies.
type Container struct {
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Postgres *persistence.Postgres
	Redis    *persistence.Redis

	Users    repository.UserRepository
	Profiles repository.ProfileRepository

	Auth           *service.AuthService
	Tickets        *service.TicketService
	Assignments    *service.AssignmentService
	Activity       *service.ActivityService
	SLA            *service.SLAService
	Dashboard      *service.DashboardService
	Notifications  *service.NotificationService
	AuthMiddleware *auth.AuthMiddleware
}

// Build connects to Postgres and Redis and wires every service. Migrations run
// first when POSTGRES_RUN_MIGRATIONS is set and migrate is true.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, migrate bool) (*Container, error) {
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, cfg.App.Name, logger)
	if err != nil {
		return nil, err
	}
	if migrate && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			pg.Close()
			return nil, err
		}
	}

	files, err := storage.NewLocalStore(cfg.Storage.Root)
	if err != nil {
		pg.Close()
		return nil, fmt.Errorf("open attachment storage: %w", err)
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	pool := pg.PoolHandle()

	users := repository.NewUserRepository(pool)
	profiles := repository.NewCachedProfileRepository(
		repository.NewProfileRepository(pool), redis.Client, cfg.Redis.RoleCacheTTL(), logger)
	tickets := repository.NewTicketRepository(pool)
	comments := repository.NewCommentRepository(pool)
	attachments := repository.NewAttachmentRepository(pool)
	audit := repository.NewAuditLogRepository(pool)
	tx := persistence.NewTxManager(pool)

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(logger)
	countEvents(dispatcher, metrics)

	authService := service.NewAuthService(*cfg, service.AuthDependencies{
		TxManager:   tx,
		UserRepo:    users,
		ProfileRepo: profiles,
	})

	c := &Container{
		Config:   cfg,
		Logger:   logger,
		Metrics:  metrics,
		Postgres: pg,
		Redis:    redis,
		Users:    users,
		Profiles: profiles,
		Auth:     authService,
		Tickets: service.NewTicketService(service.TicketDependencies{
			TxManager:      tx,
			TicketRepo:     tickets,
			CommentRepo:    comments,
			AttachmentRepo: attachments,
			AuditRepo:      audit,
			Dispatcher:     dispatcher,
			Location:       cfg.App.Location(),
			Logger:         logger,
		}),
		Assignments: service.NewAssignmentService(service.AssignmentDependencies{
			TxManager:   tx,
			TicketRepo:  tickets,
			UserRepo:    users,
			ProfileRepo: profiles,
			AuditRepo:   audit,
			Dispatcher:  dispatcher,
		}),
		Activity: service.NewActivityService(service.ActivityDependencies{
			TxManager:      tx,
			TicketRepo:     tickets,
			CommentRepo:    comments,
			AttachmentRepo: attachments,
			AuditRepo:      audit,
			FileStore:      files,
			Dispatcher:     dispatcher,
			Logger:         logger,
		}),
		SLA:            service.NewSLAService(tickets, cfg.App.Location(), nil, logger),
		Dashboard:      service.NewDashboardService(tickets, users),
		Notifications:  service.NewNotificationService(dispatcher, users, notify.NewSender(cfg.Mail, logger), cfg.Mail.SendTimeout(), logger),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager(), users, profiles),
	}
	c.Notifications.RegisterHandlers()
	return c, nil
}

// Close waits for in-flight mail, then releases connections.
func (c *Container) Close() {
	c.Notifications.Wait()
	c.Redis.Close()
	c.Postgres.Close()
}

func countEvents(dispatcher events.Dispatcher, metrics *observability.Metrics) {
	count := func(_ context.Context, event events.Event) error {
		metrics.RecordTicketEvent(string(event.Type))
		return nil
	}
	for _, t := range []events.EventType{
		events.EventTicketCreated,
		events.EventTicketUpdated,
		events.EventTicketStatusChanged,
		events.EventTicketAssigned,
		events.EventCommentAdded,
		events.EventAttachmentAdded,
	} {
		dispatcher.Subscribe(t, count)
	}
}
