package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"gramport/internal/app"
	"gramport/internal/config"
	"gramport/internal/database"
	"gramport/internal/logging"
	"gramport/internal/migrations"
	"gramport/internal/repository/memory"
	"gramport/internal/repository/postgres"
	"gramport/internal/storage"
	"gramport/internal/storage/local"
	"gramport/internal/storage/s3"
)

// sweepInterval 是后台清理过期上传会话的周期。
const sweepInterval = 15 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("配置加载完成，开始启动服务")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, closeDB, err := openContent(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("open content store")
	}
	defer closeDB()

	store, err := openStorage(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("open media storage")
	}
	deps.Storage = store

	a, err := app.New(cfg, deps, logger)
	if err != nil {
		logger.WithError(err).Fatal("assemble application")
	}
	defer a.Close()

	go runJanitor(ctx, a, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		// 导入阶段可能持续较久
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
		Handler:      a.Handler,
	}

	logger.WithFields(logrus.Fields{
		"port":    cfg.HTTPPort,
		"db":      cfg.DBDriver,
		"storage": cfg.StorageDriver,
		"auth":    cfg.AuthMode,
	}).Info("服务开始监听")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("监听失败")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("优雅关闭失败")
	}

	logger.Info("服务已停止")
}

// openContent 按 DB_DRIVER 选择内容仓储；SQL 驱动启动时自动执行迁移。
func openContent(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (app.Deps, func(), error) {
	if cfg.DBDriver == "memory" {
		logger.Warn("using in-memory content store, imported posts are lost on restart")
		m := memory.New()
		return app.Deps{Posts: m.Posts(), Terms: m.Terms(), Attachments: m.Attachments()}, func() {}, nil
	}

	db, err := database.Connect(ctx, cfg)
	if err != nil {
		return app.Deps{}, nil, err
	}

	applied, err := migrations.Apply(ctx, db)
	if err != nil {
		db.Close()
		return app.Deps{}, nil, err
	}
	if len(applied) > 0 {
		logger.WithField("migrations", applied).Info("schema migrated")
	}

	return sqlDeps(db), func() { db.Close() }, nil
}

func sqlDeps(db *sql.DB) app.Deps {
	return app.Deps{
		Posts:       postgres.NewPostRepository(db),
		Terms:       postgres.NewTermRepository(db),
		Attachments: postgres.NewAttachmentRepository(db),
	}
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	if cfg.StorageDriver == "s3" {
		return s3.New(ctx, s3.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
			PathStyle: cfg.S3PathStyle,
		})
	}
	return local.NewWriter(cfg.MediaDir, cfg.MediaBaseURL), nil
}

// runJanitor 定期清理被放弃的上传会话，补充新上传开始时触发的清理。
func runJanitor(ctx context.Context, a *app.App, logger logrus.FieldLogger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := a.Janitor.Sweep(ctx)
			if len(res.Removed) > 0 || len(res.Errors) > 0 {
				logger.WithFields(logrus.Fields{
					"removed": len(res.Removed),
					"skipped": len(res.Skipped),
					"errors":  len(res.Errors),
				}).Info("periodic temp sweep finished")
			}
		}
	}
}
