package app

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/etekin/library-backend/config"
	"github.com/etekin/library-backend/internal/events"
	"github.com/etekin/library-backend/internal/handler"
	"github.com/etekin/library-backend/internal/repository"
	"github.com/etekin/library-backend/internal/server"
	"github.com/etekin/library-backend/internal/service"
	"github.com/etekin/library-backend/migrations"
	"github.com/etekin/library-backend/pkg/kafka"
	"github.com/etekin/library-backend/pkg/logger"
	"github.com/etekin/library-backend/pkg/postgres"
)

func Run(cfg *config.Config) {
	log := logger.NewLogger(cfg.Log, "library")
	db, err := postgres.NewPostgresDB(context.Background(), &cfg.Database, migrations.MigrationFiles)
	if err != nil {
		log.Fatal("db init", zap.Error(err))
	}
	repo, err := repository.NewRepository(db, log)
	if err != nil {
		log.Fatal("repo", zap.Error(err))
	}

	pub := events.NewNop()
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(cfg.Kafka)
		if err != nil {
			log.Fatal("kafka.NewProducer", zap.Error(err))
		}
		defer producer.Close()
		pub = events.NewPublisher(producer, log)
	}

	lendingSvc := service.NewLending(repo, pub, log, cfg.Lending)
	catalogSvc := service.NewCatalog(repo, lendingSvc, log)
	membershipSvc := service.NewMembership(repo, lendingSvc, log)

	h := handler.New(catalogSvc, membershipSvc, lendingSvc, log)
	srv := server.NewServer(cfg.Server, h.NewRouter())
	log.Info("http server start ON: ",
		zap.String("addr",
			net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)))
	go func() {
		if err := srv.Run(); err != nil {
			log.Error("server run", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	termSig := <-sig

	log.Debug("Graceful shutdown", zap.Any("signal", termSig))

	closeCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err = srv.Stop(closeCtx); err != nil {
		log.DPanic("srv.Stop", zap.Error(err))
	}
	db.Close()
	log.Info("Graceful shutdown finished")
}
