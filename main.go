package main

import (
	"embed"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xaitan80/darts-planner/internal/attendance"
	"github.com/xaitan80/darts-planner/internal/auth"
	"github.com/xaitan80/darts-planner/internal/config"
	dbpkg "github.com/xaitan80/darts-planner/internal/db"
	"github.com/xaitan80/darts-planner/internal/logging"
	"github.com/xaitan80/darts-planner/internal/matches"
)

//go:embed web/*
var webFS embed.FS

func main() {
	cfg, err := config.Load()
	if err != nil {
		// no logger yet
		panic(err)
	}
	logger := logging.New(logging.Options{
		Development: cfg.IsDevelopment(),
		Level:       cfg.LogLevel,
		File:        cfg.LogFile,
	})
	defer func() { _ = logger.Sync() }()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		logger.Fatal("create data dir", zap.Error(err))
	}
	sqlDB, err := dbpkg.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer sqlDB.Close()

	// Migrate (goose via embed)
	if err := dbpkg.Migrate(sqlDB, logger.Named("migrate")); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}
	gormDB, err := dbpkg.OpenGorm(sqlDB)
	if err != nil {
		logger.Fatal("gorm", zap.Error(err))
	}

	retry := dbpkg.RetryPolicy{Attempts: cfg.RetryAttempts, BaseDelay: cfg.RetryBaseDelay}
	mode, err := matches.ParseCommitMode(cfg.ImportCommitMode)
	if err != nil {
		logger.Fatal("import commit mode", zap.Error(err))
	}

	users := auth.NewRepository(sqlDB, retry)
	matchRepo := matches.NewRepository(sqlDB, retry)
	importer := matches.NewImporter(matchRepo, mode, logger.Named("import"))
	attendanceRepo := attendance.NewRepository(gormDB, retry)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(logging.Middleware(logger.Named("http")), gin.Recovery())
	// Configure explicit trusted proxies to avoid gin's trust-all warning
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		logger.Fatal("trusted proxies", zap.Error(err))
	}

	// API
	auth.RegisterRoutes(r, users, auth.Options{
		SessionTTL:   cfg.SessionTTL,
		CookieSecure: cfg.CookieSecure,
		Logger:       logger.Named("auth"),
	})
	matches.RegisterRoutes(r, matchRepo, importer, auth.RequireAdmin(users), auth.UserID)
	attendance.RegisterRoutes(r, attendanceRepo, matchRepo, users)

	// Simple frontend
	r.GET("/", func(c *gin.Context) {
		f, err := webFS.ReadFile("web/index.html")
		if err != nil {
			c.String(http.StatusInternalServerError, "missing index")
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", f)
	})

	logger.Info("listening",
		zap.String("addr", cfg.Addr),
		zap.String("db", cfg.DBPath),
		zap.String("import_mode", string(mode)),
	)
	if err := r.Run(cfg.Addr); err != nil {
		logger.Fatal("server", zap.Error(err))
	}
}
