package main

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Asarafhack/taskflow-realtime/config"
	"github.com/Asarafhack/taskflow-realtime/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if cfg.StorageDriver != config.DriverTables {
		log.WithField("driver", cfg.StorageDriver).Info("nothing to provision")
		return
	}
	log.Info("storage init starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := storage.EnsureTables(ctx, cfg.StorageConnectionString, tableNames(cfg).All()); err != nil {
		log.Fatalf("create tables: %v", err)
	}
	if err := storage.EnsureQueues(ctx, cfg.StorageConnectionString, []string{cfg.ActivityQueue}); err != nil {
		log.Fatalf("create queues: %v", err)
	}

	log.Info("storage init complete")
}

func tableNames(cfg *config.Config) storage.TableNames {
	return storage.TableNames{
		Boards:   cfg.BoardsTable,
		Lists:    cfg.ListsTable,
		Tasks:    cfg.TasksTable,
		History:  cfg.HistoryTable,
		Activity: cfg.ActivityTable,
	}
}
