// Package app boots the gateway: configuration, database, the daily credit
// counter, and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/modelrelay/modelrelay/internal/auth"
	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/db"
	"github.com/modelrelay/modelrelay/internal/ledger"
	"github.com/modelrelay/modelrelay/internal/relay"
	"github.com/modelrelay/modelrelay/internal/settings"
)

// requestIDMiddleware tags every response with an id for log correlation.
// An inbound X-Request-ID is trusted and echoed back.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	_ = ctx
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, errDSN := config.LoadDatabaseDSN(configPath)
	if errDSN != nil {
		return errDSN
	}
	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// RunServer boots the gateway server with database-backed components.
func RunServer(ctx context.Context, cfg config.AppConfig, port int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, errDSN := config.LoadDatabaseDSN(configPath)
	if errDSN != nil {
		return errDSN
	}
	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	jwtConfig, errJWT := config.LoadJWTConfig(configPath)
	if errJWT != nil {
		return errJWT
	}
	redisConfig, _ := config.LoadRedisConfig(configPath)

	// The daily counter prefers redis so several gateway instances share one
	// cap; without redis it degrades to row-locked database counters.
	var daily ledger.DailyCounter
	if redisConfig.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     redisConfig.Addr,
			Password: redisConfig.Password,
			DB:       redisConfig.DB,
		})
		if errPing := client.Ping(ctx).Err(); errPing != nil {
			return fmt.Errorf("redis ping failed: %w", errPing)
		}
		daily = ledger.NewRedisDailyCounter(client, settings.DailyCounterRedisPrefix)
		log.WithField("addr", redisConfig.Addr).Info("daily counter backed by redis")
	} else {
		daily = ledger.NewGormDailyCounter(conn)
		log.Info("daily counter backed by database")
	}

	books := ledger.New(conn, daily, settings.DefaultDailyFreeCredits)
	pipeline := relay.New(conn, books)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestIDMiddleware())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := engine.Group("/v1")
	v1.Use(auth.Middleware(conn, jwtConfig))
	v1.GET("/models", pipeline.Models)
	v1.POST("/chat/completions", pipeline.ChatCompletions)

	if port <= 0 {
		port = settings.DefaultListenPort
	}
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errServe := make(chan error, 1)
	go func() {
		log.WithField("port", port).Info("gateway listening")
		errServe <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case errRun := <-errServe:
		if errors.Is(errRun, http.ErrServerClosed) {
			return nil
		}
		return errRun
	}
}
