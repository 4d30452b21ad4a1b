package main

import (
	"context"

	"github.com/sirupsen/logrus"

	"gramport/internal/config"
	"gramport/internal/database"
	"gramport/internal/logging"
	"gramport/internal/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if cfg.DBDriver == "memory" {
		logger.Info("memory driver has no schema, nothing to migrate")
		return
	}

	db, err := database.Connect(context.Background(), cfg)
	if err != nil {
		logger.WithError(err).Fatal("connect database")
	}
	defer db.Close()

	applied, err := migrations.Apply(context.Background(), db)
	if err != nil {
		logger.WithError(err).Fatal("apply migrations")
	}

	if len(applied) == 0 {
		logger.Info("schema up to date")
		return
	}
	for _, name := range applied {
		logger.WithField("file", name).Info("migration applied")
	}
}
