package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"tidecal/config"
	"tidecal/internal/crypto"
	"tidecal/internal/domain"
	"tidecal/internal/interop"
	"tidecal/internal/mail"
	"tidecal/internal/recurrence"
	"tidecal/internal/scheduler"
	"tidecal/internal/service"
	"tidecal/internal/storage"
	"tidecal/internal/sync"
)

func main() {
	_ = godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	keys, err := loadOrGenerateKeys(cfg.KeyPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load keys")
	}

	store, err := storage.New(cfg.DatabasePath, keys, log)
	if err != nil {
		log.WithError(err).Fatal("failed to init storage")
	}
	defer store.Close()

	if err := ensureMetadata(store, cfg.CalendarID, keys); err != nil {
		log.WithError(err).Fatal("failed to init calendar metadata")
	}

	engine := recurrence.NewEngine(log)
	eventSvc := service.NewEventService(store, engine, log)

	client := sync.NewClient(cfg.SyncBaseURL, cfg.SyncToken)
	coordinator := sync.NewCoordinator(store, client, keys, log)
	flusher := mail.NewFlusher(store, &mail.LogSender{Log: log}, log)

	var subscription *interop.Subscription
	if cfg.FeedURL != "" {
		subscription = interop.NewSubscription(cfg.FeedURL, cfg.FeedUsername, cfg.FeedPassword, cfg.FeedPath)
	}

	sched := scheduler.New(cfg, coordinator, flusher, eventSvc, subscription, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := sched.Start(ctx); err != nil {
			log.WithError(err).Error("scheduler error")
		}
	}()

	log.WithField("calendar", cfg.CalendarID).Info("tidecald started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down...")
	cancel()
	sched.Stop()
}

// loadOrGenerateKeys restores the calendar keypair from disk, generating and
// persisting a fresh one on first run. The key file is pub||priv raw bytes.
func loadOrGenerateKeys(path string) (*crypto.Keyring, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		if len(raw) != 64 {
			return nil, fmt.Errorf("key file %s has unexpected length %d", path, len(raw))
		}
		return crypto.KeyringFromBytes(raw[:32], raw[32:])
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	keys, err := crypto.GenerateKeyring()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	raw = append(keys.PublicKeyBytes(), keys.PrivateKeyBytes()...)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return keys, nil
}

// ensureMetadata seeds the calendar metadata row on first run so the sync
// coordinator has a checkpoint slot to work against.
func ensureMetadata(store *storage.Storage, calendarID string, keys *crypto.Keyring) error {
	meta, err := store.GetMetadata()
	if err != nil {
		return err
	}
	if meta != nil {
		return nil
	}
	return store.SaveMetadata(&domain.CalendarMetadata{
		CalendarID: calendarID,
		PublicKey:  keys.PublicKeyBytes(),
	})
}
