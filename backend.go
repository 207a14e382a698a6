package main

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go"

	"carpool/carpool"
	log "carpool/cloudlog"
	"carpool/config"
	"carpool/identity"
	"carpool/identity/firebaseid"
	"carpool/identity/identitytest"
	"carpool/notify"
	"carpool/tree"
	"carpool/tree/firestoretree"
	"carpool/tree/memtree"
	"carpool/tree/rtdbtree"
)

// backend is everything an API needs, built once per process.
type backend struct {
	store    tree.Store
	ids      identity.Provider
	notifier carpool.Notifier
	closers  []func() error
}

// openBackend connects the store, the identity provider and the change notifier selected by
// cfg. The memory backend keeps everything in process and publishes nothing.
func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	if cfg.Backend == config.BackendMemory {
		log.Print("using the in-memory backend; nothing is persisted")
		return &backend{store: memtree.New(), ids: identitytest.New()}, nil
	}

	b := &backend{}
	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:   cfg.ProjectID,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("initiate firebase app failed: %w", err)
	}
	b.ids, err = firebaseid.New(ctx, app, cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("initiate identity provider failed: %w", err)
	}

	switch cfg.Backend {
	case config.BackendFirestore:
		s, err := firestoretree.Open(ctx, cfg.ProjectID)
		if err != nil {
			return nil, err
		}
		b.store = s
		b.closers = append(b.closers, s.Close)
	default:
		s, err := rtdbtree.Open(ctx, app, cfg.DatabaseURL,
			rtdbtree.WithPollInterval(cfg.PollInterval),
			rtdbtree.WithPollMaxElapsed(cfg.PollMaxElapsed))
		if err != nil {
			return nil, err
		}
		b.store = s
	}

	p, err := notify.Open(ctx, cfg.ProjectID, cfg.NotifyTopic)
	if err != nil {
		// Notifications are best effort; the server runs without them.
		log.Printf("change notifications disabled: %v", err)
	} else {
		b.notifier = p
		b.closers = append(b.closers, p.Close)
	}
	return b, nil
}

// newAPI returns an API without a session on top of the backend.
func (b *backend) newAPI() *carpool.API {
	var opts []carpool.Option
	if b.notifier != nil {
		opts = append(opts, carpool.WithNotifier(b.notifier))
	}
	return carpool.New(b.store, b.ids, opts...)
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Printf("closing backend: %v", err)
		}
	}
}

// setup loads the configuration and starts logging.
func setup(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.CloudLogging && cfg.ProjectID != "" {
		// A failure leaves logging on stderr.
		_ = log.Init(ctx, cfg.ProjectID, cfg.LogName)
	}
	return cfg, nil
}
