package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/expenseops/expense-validator/internal/config"
	"github.com/expenseops/expense-validator/internal/events"
	handlers "github.com/expenseops/expense-validator/internal/handlers/v1alpha1"
	"github.com/expenseops/expense-validator/internal/packaging"
	"github.com/expenseops/expense-validator/internal/pipeline"
	"github.com/expenseops/expense-validator/internal/service"
	"github.com/expenseops/expense-validator/internal/store"
	"github.com/expenseops/expense-validator/pkg/metrics"
	"github.com/expenseops/expense-validator/pkg/middleware"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
)

type Server struct {
	cfg      *config.Config
	store    store.Store
	listener net.Listener
	evWriter *events.EventProducer
}

// New returns a new instance of an expense-validator server.
func New(
	cfg *config.Config,
	store store.Store,
	ew *events.EventProducer,
	listener net.Listener,
) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		evWriter: ew,
		listener: listener,
	}
}

// newArtifactStore selects the artifact backend: an S3-compatible bucket when
// a minio endpoint is configured, the local filesystem otherwise.
func newArtifactStore(cfg *config.Config) (packaging.ArtifactStore, error) {
	artifacts := cfg.Service.Artifacts
	if artifacts.MinioEndpoint != "" {
		return packaging.NewMinioStore(
			artifacts.MinioEndpoint,
			artifacts.MinioAccessKey,
			artifacts.MinioSecretKey,
			artifacts.MinioBucket,
			artifacts.MinioSecure,
		)
	}
	return packaging.NewLocalStore(artifacts.LocalDir), nil
}

func (s *Server) Run(ctx context.Context) error {
	zap.S().Named("api_server").Info("Initializing API server")

	artifactStore, err := newArtifactStore(s.cfg)
	if err != nil {
		return err
	}

	packager := packaging.NewPackager(artifactStore)
	runner := pipeline.NewRunner(
		service.NewRunPersister(s.store, s.evWriter),
		packager,
		service.NewEventAudit(s.evWriter),
	)
	runService := service.NewRunService(s.store, runner, packager, s.evWriter)

	// pick up runs interrupted by a previous process before accepting traffic
	if err := runService.RecoverRuns(ctx); err != nil {
		return err
	}

	router := chi.NewRouter()

	metricMiddleware := metrics.NewMiddleware("api_server")
	metricMiddleware.MustRegisterDefault()

	router.Use(
		metricMiddleware.Handler,
		cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "PUT", "POST", "DELETE", "HEAD", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}),
		middleware.RequestID,
		middleware.Logger(),
		chiMiddleware.Recoverer,
	)

	h := handlers.NewServiceHandler(runService)
	router.Route("/api/v1/runs", func(r chi.Router) {
		r.Post("/", h.CreateRun)
		r.Get("/", h.ListRuns)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetRun)
			r.Delete("/", h.DeleteRun)
			r.Put("/answers", h.SubmitAnswers)
			r.Post("/skip", h.SkipAllPrompts)
			r.Get("/artifacts/{kind}", h.GetArtifact)
		})
	})

	srv := http.Server{Addr: s.cfg.Service.Address, Handler: router}

	go func() {
		<-ctx.Done()
		zap.S().Named("api_server").Infof("Shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
	}()

	zap.S().Named("api_server").Infof("Listening on %s...", s.listener.Addr().String())
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}

	return nil
}
