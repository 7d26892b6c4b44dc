package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kbring/internal/bootstrap"
	"kbring/internal/config"
	"kbring/internal/embedding"
	mysqlClient "kbring/internal/platform/mysql"
	"kbring/internal/repository"
	"kbring/internal/worker"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	db, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		log.Fatalf("connect mysql failed: %v", err)
	}
	if err := bootstrap.Migrate(db); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}
	defer func() {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
	}()

	jobRepo := repository.NewJobRepository(db)
	docRepo := repository.NewDocumentRepository(db)
	chunkRepo := repository.NewChunkRepository(db)
	embeddingRepo := repository.NewEmbeddingRepository(db)

	indexer := worker.NewIndexer(
		jobRepo,
		docRepo,
		chunkRepo,
		embeddingRepo,
		embedding.HolderFromConfig(cfg.Embeddings),
		cfg.Worker.ChunkMaxChars,
		time.Duration(cfg.Worker.LeaseSeconds)*time.Second,
		time.Duration(cfg.Worker.PollIntervalSeconds)*time.Second,
	)

	go runReclaimSweep(ctx, jobRepo, time.Duration(cfg.Worker.ReclaimSweepSeconds)*time.Second)
	go indexer.Run(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("worker shutting down")
	cancel()
}

// runReclaimSweep periodically requeues jobs whose lease expired, so work
// held by a crashed worker is not lost.
func runReclaimSweep(ctx context.Context, jobRepo *repository.JobRepository, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := jobRepo.ReclaimExpired()
			if err != nil {
				log.Printf("reclaim sweep failed: %v", err)
				continue
			}
			if reclaimed > 0 {
				log.Printf("reclaimed %d expired jobs", reclaimed)
			}
		}
	}
}
