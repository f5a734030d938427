package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/CUknot/yolo_backend/chatlog"
	"github.com/CUknot/yolo_backend/config"
	"github.com/CUknot/yolo_backend/controllers"
	"github.com/CUknot/yolo_backend/database"
	"github.com/CUknot/yolo_backend/docs"
	"github.com/CUknot/yolo_backend/locker"
	"github.com/CUknot/yolo_backend/membership"
	"github.com/CUknot/yolo_backend/metrics"
	"github.com/CUknot/yolo_backend/middleware"
	"github.com/CUknot/yolo_backend/photos"
	"github.com/CUknot/yolo_backend/websocket"
)

const shutdownTimeout = 10 * time.Second

func serve(ctx context.Context, cfg *config.Config) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Initialize database
	db, err := database.Connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close(db)
	if err := database.Migrate(db); err != nil {
		return err
	}

	locks, closeLocks, err := newLocker(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocks()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	chats := chatlog.NewStore(db, locks, m, logger.With("component", "chatlog"), chatlog.Options{
		WriteTimeout: cfg.WriteTimeout,
		MaxTries:     cfg.CASMaxTries,
	})
	members := membership.NewStore(db, locks, m, logger.With("component", "membership"), membership.Options{
		WriteTimeout: cfg.WriteTimeout,
		MaxTries:     cfg.CASMaxTries,
		Chats:        chats,
	})

	var photoStore controllers.PhotoStore
	if cfg.S3Bucket != "" {
		store, err := photos.New(ctx, photos.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return err
		}
		photoStore = store
	} else {
		logger.Warn("AWS_BUCKET not set, photo routes disabled")
	}

	hub := websocket.NewHub(chats, logger.With("component", "websocket"))
	go hub.Run(ctx)

	// Set up Swagger info
	docs.SwaggerInfo.Host = "localhost:" + cfg.Port

	// Set up router
	router := gin.Default()
	router.Use(middleware.CORS())

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	controllers.New(controllers.Deps{
		DB:        db,
		Members:   members,
		Chats:     chats,
		Photos:    photoStore,
		Hub:       hub,
		JWTSecret: cfg.JWTSecret,
		Logger:    logger.With("component", "http"),
	}).Routes(router)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server running on port %s", cfg.Port)
		log.Printf("Swagger documentation available at http://localhost:%s/swagger/index.html", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

// newLocker uses valkey when REDIS_ADDR is set so several server processes
// share one lock space.
func newLocker(cfg *config.Config, logger *slog.Logger) (locker.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		return locker.NewLocal(cfg.LockTimeout), func() {}, nil
	}

	client, err := locker.DialValkey(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return nil, nil, err
	}
	l := locker.NewValkey(client, cfg.LockTTL, cfg.LockTimeout, logger.With("component", "locker"))
	return l, client.Close, nil
}
