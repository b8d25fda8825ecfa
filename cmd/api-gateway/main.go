package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/lms-enrollment-api/api/swagger"
	"github.com/noah-isme/lms-enrollment-api/internal/handler"
	"github.com/noah-isme/lms-enrollment-api/internal/middleware"
	"github.com/noah-isme/lms-enrollment-api/internal/models"
	"github.com/noah-isme/lms-enrollment-api/internal/repository"
	"github.com/noah-isme/lms-enrollment-api/internal/service"
	"github.com/noah-isme/lms-enrollment-api/pkg/cache"
	"github.com/noah-isme/lms-enrollment-api/pkg/config"
	"github.com/noah-isme/lms-enrollment-api/pkg/database"
	"github.com/noah-isme/lms-enrollment-api/pkg/jobs"
	"github.com/noah-isme/lms-enrollment-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/lms-enrollment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/lms-enrollment-api/pkg/middleware/requestid"
	"github.com/noah-isme/lms-enrollment-api/pkg/tracing"
)

// @title LMS Enrollment API
// @version 1.0.0
// @description Course lifecycle, enrollment workflow and notification service
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		logr.Warn("tracing disabled", zap.Error(err))
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	metrics := service.NewMetricsService()

	var courseCache *service.CourseCache
	if cfg.Redis.Enabled && cfg.Cache.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, course cache disabled", zap.Error(err))
		} else {
			defer client.Close()
			courseCache = service.NewCourseCache(repository.NewCacheRepository(client, logr), metrics, cfg.Cache.CourseTTL, logr)
		}
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	materialRepo := repository.NewMaterialRepository(db)
	evaluationRepo := repository.NewEvaluationRepository(db)
	progressRepo := repository.NewProgressRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	interests, err := service.LoadInterestOverrides(cfg.Notifications.InterestsFile)
	if err != nil {
		logr.Fatal("failed to load notification interests", zap.Error(err))
	}
	registry := service.NewSubscriberRegistry(interests, logr)
	registry.SetObserverFactory(func(id string, role models.UserRole) service.Observer {
		return service.LogObserver(logr, id, role)
	})
	if _, err := registry.Seed(ctx, userRepo,
		service.FollowSourceFunc(courseRepo.ListInstructorFollows),
		service.FollowSourceFunc(enrollmentRepo.ListActiveFollows),
	); err != nil {
		logr.Fatal("failed to seed notification subscribers", zap.Error(err))
	}

	dispatcher := service.NewNotificationDispatcher(registry, notificationRepo, metrics, logr)
	var events service.EventPublisher = dispatcher
	var notificationQueue *jobs.Queue
	if cfg.Notifications.Async {
		var publisher *service.AsyncEventPublisher
		publisher, notificationQueue = service.NewAsyncEventPublisher(dispatcher, jobs.QueueConfig{
			Workers:    cfg.Notifications.Workers,
			MaxRetries: cfg.Notifications.Retries,
			Logger:     logr,
			Observer: func(job jobs.Job, err error, _ time.Duration) {
				metrics.RecordJobAttempt("notifications", err == nil)
			},
		})
		notificationQueue.Start(ctx)
		events = publisher
	}

	planner, err := service.NewNotificationPlanner(cfg.Tracking)
	if err != nil {
		logr.Fatal("invalid tracking schedule", zap.Error(err))
	}

	courseSvc := service.NewCourseService(courseRepo, courseCache, events, registry, metrics, validate, logr)
	materialSvc := service.NewMaterialService(courseSvc, materialRepo, events, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, studentRepo, courseSvc, registry, logr)
	notificationSvc := service.NewNotificationService(notificationRepo, userRepo, registry, logr)
	workflow := service.NewEnrollmentWorkflowService(service.EnrollmentWorkflowDeps{
		Gate:        service.NewEnrollmentGate(studentRepo, courseRepo, enrollmentRepo),
		Processor:   service.NewEnrollmentProcessor(enrollmentRepo, logr),
		Content:     service.NewContentProvisioner(materialRepo),
		Assessments: service.NewAssessmentProvisioner(evaluationRepo),
		Tracking:    service.NewTrackingActivator(progressRepo, planner),
		Events:      events,
		Followers:   registry,
	}, service.EnrollmentWorkflowOptions{
		StepTimeout: cfg.Workflow.StepTimeout,
		CourseLock:  cfg.Workflow.CourseLock,
	}, validate, metrics, logr)

	enrollmentHandler := handler.NewEnrollmentHandler(workflow, enrollmentSvc)
	courseHandler := handler.NewCourseHandler(courseSvc, materialSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	metricsHandler := handler.NewMetricsHandler(metrics, func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS))
	r.Use(middleware.Metrics(metrics, "/health", "/ready", "/metrics"))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)

	api := r.Group(cfg.APIPrefix)
	api.GET("/metrics/snapshot", metricsHandler.Snapshot)

	api.POST("/enrollments", limiter.Middleware(), enrollmentHandler.Create)
	api.GET("/enrollments/:id", enrollmentHandler.Get)
	api.DELETE("/enrollments/:id", enrollmentHandler.Delete)
	api.GET("/students/:id/enrollments", enrollmentHandler.ListByStudent)

	courses := api.Group("/courses")
	courses.POST("", courseHandler.Create)
	courses.GET("/:id", courseHandler.Get)
	courses.DELETE("/:id", courseHandler.Delete)
	courses.POST("/:id/publish", courseHandler.Transition(models.CourseActionPublish))
	courses.POST("/:id/activate", courseHandler.Transition(models.CourseActionActivate))
	courses.POST("/:id/finish", courseHandler.Transition(models.CourseActionFinish))
	courses.POST("/:id/archive", courseHandler.Transition(models.CourseActionArchive))
	courses.POST("/:id/materials", courseHandler.AddMaterial)
	courses.GET("/:id/enrollments", enrollmentHandler.ListByCourse)
	courses.GET("/:id/roster", enrollmentHandler.Roster)

	users := api.Group("/users/:userId")
	users.GET("/notifications", notificationHandler.List)
	users.PATCH("/notifications/:id/read", notificationHandler.MarkRead)
	users.GET("/subscriptions", notificationHandler.Subscriptions)
	users.PUT("/subscriptions/:event", notificationHandler.Subscribe)
	users.DELETE("/subscriptions/:event", notificationHandler.Unsubscribe)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("http shutdown failed", zap.Error(err))
	}
	if notificationQueue != nil {
		notificationQueue.Stop()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logr.Warn("tracing shutdown failed", zap.Error(err))
	}
}
