package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"qrattend/internal/attendance"
	"qrattend/internal/attendclient"
	"qrattend/internal/auth"
	"qrattend/internal/config"
	"qrattend/internal/feedback"
	"qrattend/internal/framesource"
	"qrattend/internal/handler"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/metrics"
	"qrattend/internal/notify"
	"qrattend/internal/qrdecode"
	"qrattend/internal/queue"
	"qrattend/internal/scanner"
	"qrattend/internal/store"
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("station failed: %v", err)
	}
	log.Println("station exited")
}

func run(ctx context.Context, cfg config.App) error {
	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	api := attendclient.New(cfg.APIBaseURL, cfg.APITimeout, cfg.ScanLocation, cfg.DeviceInfo)
	api.SetToken(cfg.APIToken)
	if cfg.APIEmail != "" && cfg.APIPassword != "" {
		loginCtx, cancel := context.WithTimeout(ctx, cfg.APITimeout)
		if _, err := api.Login(loginCtx, cfg.APIEmail, cfg.APIPassword); err != nil {
			log.Printf("WARNING: attendance api login failed: %v", err)
		}
		cancel()
	}
	if err := api.Health(ctx); err != nil {
		log.Printf("WARNING: %v", err)
	} else {
		log.Printf("attendance api: %s", cfg.APIBaseURL)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	pipeline := metrics.NewPipeline(reg)

	var window feedback.Window
	if cfg.FeedbackBackend == "redis" {
		window = feedback.NewRedisWindow(redisClient.Client, "", cfg.FeedbackWindow)
	} else {
		window = feedback.NewMemoryWindow(cfg.FeedbackWindow)
	}
	presenter := feedback.NewPresenter(window, 50)

	var opener notify.Opener
	if cfg.AutoOpenLinks {
		opener = notify.BrowserOpener{}
	}
	dispatcher := notify.NewDispatcher(opener, api, pipeline)

	opts := []scanner.Option{
		scanner.WithRecorder(pipeline),
		scanner.WithHook(notify.NewQueueHook(q)),
		scanner.WithCallbacks(scanner.Callbacks{
			OnScanSuccess: func(s attendance.Success) {
				presenter.Show(ctx, feedback.LevelSuccess, "Attendance marked for "+s.Student.Name)
			},
			OnScanError: func(err error) {
				presenter.Show(ctx, feedback.LevelFor(err), err.Error())
			},
		}),
	}
	if cfg.CameraURL != "" {
		opts = append(opts, scanner.WithCamera(framesource.NewSnapshotCamera(cfg.CameraURL, "", "")))
	} else {
		log.Println("WARNING: CAMERA_URL not set, camera scanning disabled")
	}

	session := scanner.New(ctx, qrdecode.New(true), api, scanner.Config{
		SampleInterval:   cfg.SampleInterval,
		ResultDelay:      cfg.ResultDelay,
		NoCodeResetDelay: cfg.NoCodeResetDelay,
		Upload: framesource.UploadLimits{
			MaxBytes:     cfg.MaxUploadBytes,
			MaxPixels:    cfg.MaxUploadPixels,
			AllowedTypes: framesource.DefaultAllowedTypes,
		},
	}, opts...)
	defer session.Close()

	var limiter httpmiddleware.Limiter = httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	if cfg.RateLimitBackend == "redis" {
		limiter = httpmiddleware.NewRedisWindow(redisClient.Client, "", cfg.RateLimitPerMin)
	}

	checks := map[string]handler.HealthCheck{"api": api.Health}
	if cfg.QueueBackend == "redis" || cfg.FeedbackBackend == "redis" || cfg.RateLimitBackend == "redis" {
		checks["redis"] = func(ctx context.Context) error {
			if !redisClient.Healthy(ctx) {
				return errors.New("redis unreachable")
			}
			return nil
		}
	}

	h := &handler.Handler{
		Scanner:  session,
		Students: api,
		Feed:     presenter,
		Issuer:   auth.NewIssuer(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL),
		Checks:   checks,
		MaxBytes: cfg.MaxUploadBytes,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics", "/v1/scanner/status", "/v1/feedback"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders(cfg.Production()))
	r.Use(httpmiddleware.GinMiddleware(limiter))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	h.Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("station listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down station...")
		session.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.QueueBackend == "memory" {
		// no separate notifier process consumes the in-process queue
		g.Go(func() error {
			if err := dispatcher.Run(gctx, q); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
