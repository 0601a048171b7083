package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"

	"github.com/punchamoorthee/fastpayer/internal/api"
	"github.com/punchamoorthee/fastpayer/internal/config"
	"github.com/punchamoorthee/fastpayer/internal/consumer"
	"github.com/punchamoorthee/fastpayer/internal/guard"
	"github.com/punchamoorthee/fastpayer/internal/ledger"
	"github.com/punchamoorthee/fastpayer/internal/service"
	"github.com/punchamoorthee/fastpayer/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})).
		With(slog.String("env", cfg.Env))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DBDriver, cfg.DBSource)
	if err != nil {
		logger.Error("store_open", slog.String("driver", cfg.DBDriver), slog.Any("err", err))
		os.Exit(1)
	}
	defer st.Close()

	// Initialize Layers
	ldg := ledger.New(ledger.WithOverdraft(cfg.AllowOverdraft))
	grd := guard.New(st, ldg, logger)
	payer := service.NewProcessor(grd, cfg.DebitAccount, logger)
	handler := api.NewHandler(st, payer)

	var feed *consumer.Manager
	if cfg.ConsumerEnabled() {
		feed, err = consumer.Start(ctx, consumer.Config{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaTopic,
			GroupID:      cfg.KafkaGroupID,
			DLQTopic:     cfg.KafkaDLQTopic,
			Workers:      cfg.ConsumerWorkers,
			MaxAttempts:  cfg.ConsumerMaxAttempts,
			RetryBackoff: cfg.ConsumerRetryBackoff,
		}, payer, logger)
		if err != nil {
			logger.Error("consumer_start", slog.Any("err", err))
			os.Exit(1)
		}
	} else {
		logger.Warn("consumer_disabled", slog.String("reason", "KAFKA_BROKERS not set"))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.RecoveryHandler()(handlers.CombinedLoggingHandler(os.Stdout, handler.Router())),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("server_start", slog.String("addr", srv.Addr), slog.String("debit_account", cfg.DebitAccount))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server_err", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server_shutdown", slog.Any("err", err))
	}
	if feed != nil {
		feed.Wait()
	}
}
