package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"bizmatch/internal/auth"
	"bizmatch/internal/config"
	"bizmatch/internal/database"
	"bizmatch/internal/jobs"
	"bizmatch/internal/models"
	"bizmatch/internal/notify"
	"bizmatch/internal/realtime"
	"bizmatch/internal/storage"
	"bizmatch/internal/toast"
	"bizmatch/internal/workflow"
)

type Server struct {
	port     int
	cfg      *config.Config
	log      logrus.FieldLogger
	svc      database.Service
	db       *models.DB
	bridge   *auth.Bridge
	workflow *workflow.Orchestrator
	notifier *notify.Dispatcher
	toasts   *toast.Center
	hub      *realtime.Hub

	scheduler *jobs.Scheduler
	closers   []func() error
}

func (s *Server) GetDB() *models.DB {
	return s.db
}

func (s *Server) GetAuth() *auth.Bridge {
	return s.bridge
}

func (s *Server) GetWorkflow() *workflow.Orchestrator {
	return s.workflow
}

func (s *Server) GetNotifier() *notify.Dispatcher {
	return s.notifier
}

func (s *Server) GetToasts() *toast.Center {
	return s.toasts
}

func (s *Server) GetHub() *realtime.Hub {
	return s.hub
}

func (s *Server) GetConfig() *config.Config {
	return s.cfg
}

func (s *Server) GetLogger() logrus.FieldLogger {
	return s.log
}

// New opens the stores and wires every service of the portal.
func New(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Server, error) {
	svc, err := database.Open(ctx, cfg.Database.DSN, log)
	if err != nil {
		return nil, err
	}
	if err := svc.RunMigrations(); err != nil {
		svc.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s := &Server{
		port: cfg.Port,
		cfg:  cfg,
		log:  log,
		svc:  svc,
		db:   models.NewDB(svc),
	}

	var toastStore toast.Store = toast.NewMemory()
	if cfg.Redis.URL != "" {
		rdb, err := toast.OpenRedis(ctx, cfg.Redis.URL)
		if err != nil {
			svc.Close()
			return nil, err
		}
		toastStore = rdb
		s.closers = append(s.closers, rdb.Close)
	}
	s.toasts = toast.NewCenter(toastStore, cfg.Toast.TTL, log.WithField("component", "toasts"))
	s.notifier = notify.NewDispatcher(s.db, s.toasts, log.WithField("component", "notify"))

	var durable storage.Blobs
	if cfg.S3.Bucket != "" {
		s3Service, err := storage.NewS3Service(ctx, cfg.S3)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to initialize S3 service: %w", err)
		}
		durable = s3Service
	} else {
		log.Warn("AWS_S3_BUCKET not set, invoice documents are kept in memory")
	}
	pdfs := storage.NewInvoiceStore(durable, log.WithField("component", "storage"))

	var verifier *auth.TokenVerifier
	if cfg.Identity.JWTSecret != "" {
		verifier = auth.NewTokenVerifier(cfg.Identity.JWTSecret)
	}
	s.bridge = auth.NewBridge(
		auth.NewGoTrueClient(cfg.Identity.URL, cfg.Identity.APIKey),
		verifier,
		s.db,
		s.notifier,
		auth.Options{
			OperatorEmail:     cfg.Identity.OperatorEmail,
			ReconcileAttempts: cfg.Identity.ReconcileAttempts,
			ReconcileDelay:    cfg.Identity.ReconcileDelay,
		},
		log.WithField("component", "auth"),
	)

	s.workflow = workflow.NewOrchestrator(
		s.db,
		s.notifier,
		workflow.NewWebhookGenerator(cfg.Webhook.InvoiceURL, cfg.Webhook.Timeout),
		pdfs,
		workflow.Options{Billing: cfg.Billing, Location: cfg.Location()},
		log.WithField("component", "workflow"),
	)

	s.hub = realtime.NewHub(svc, s.toasts, []string{cfg.FrontendURL}, log.WithField("component", "realtime"))

	s.scheduler = jobs.NewScheduler(cfg.Location(), log.WithField("component", "jobs"))
	if err := s.scheduler.Add("overdue_invoices", cfg.Jobs.OverdueSchedule, jobs.OverdueInvoices(s.workflow, log)); err != nil {
		s.Close()
		return nil, err
	}

	providers := auth.InitGothProviders(cfg.OAuth, cfg.Session.Secret, cfg.IsProduction())
	log.WithField("providers", providers).Info("oauth providers registered")
	return s, nil
}

// HTTPServer builds the listener for the portal API.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
}

// StartJobs starts the background scheduler.
func (s *Server) StartJobs() {
	s.scheduler.Start()
}

// Shutdown stops background work and closes live connections and stores.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Shutdown()
	err := s.scheduler.Stop(ctx)
	return errors.Join(err, s.Close())
}

func (s *Server) Close() error {
	var errs []error
	for _, closeFn := range s.closers {
		errs = append(errs, closeFn())
	}
	s.svc.Close()
	return errors.Join(errs...)
}
