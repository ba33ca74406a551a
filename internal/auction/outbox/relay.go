package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type RelayConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // channel the store NOTIFYs on commit
	FallbackInterval time.Duration // poll period catching missed notifications
	MaxRetries       int
	RetryDelay       time.Duration
	PingInterval     time.Duration
	BatchSize        int32
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		NotifyChannel:    "auction_outbox",
		FallbackInterval: 30 * time.Second,
		MaxRetries:       5,
		RetryDelay:       200 * time.Millisecond,
		PingInterval:     90 * time.Second,
		BatchSize:        100,
	}
}

// Relay drains the outbox to the bus. A LISTEN/NOTIFY subscription wakes it
// the moment a transaction commits; a fallback poll catches anything a lost
// notification would otherwise strand. Events publish at-least-once in
// staged order.
type Relay struct {
	repo      *Repository
	listener  *pq.Listener
	publisher Publisher
	cfg       RelayConfig
}

func NewRelay(db *sql.DB, publisher Publisher, cfg RelayConfig) (*Relay, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("outbox listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen on channel %s: %w", cfg.NotifyChannel, err)
	}

	log.Info().Str("channel", cfg.NotifyChannel).Msg("outbox relay listening for notifications")

	return &Relay{
		repo:      NewRepository(db),
		listener:  l,
		publisher: publisher,
		cfg:       cfg,
	}, nil
}

func (r *Relay) Start(ctx context.Context) error {
	log.Info().
		Str("channel", r.cfg.NotifyChannel).
		Dur("fallback_interval", r.cfg.FallbackInterval).
		Msg("outbox relay started")

	pingTicker := time.NewTicker(r.cfg.PingInterval)
	fallbackTicker := time.NewTicker(r.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	// Drain whatever was staged before we came up.
	if err := r.processUnsent(ctx); err != nil {
		log.Error().Err(err).Msg("failed to process unsent events at startup")
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("outbox relay shutting down")
			return r.Stop()
		case note := <-r.listener.Notify:
			if note == nil {
				// nil means the connection was lost and re-established
				continue
			}
			if err := r.processUnsent(ctx); err != nil {
				log.Error().Err(err).Msg("failed to process unsent events after notify")
			}
		case <-fallbackTicker.C:
			if err := r.processUnsent(ctx); err != nil {
				log.Error().Err(err).Msg("failed to process unsent events on fallback poll")
			}
		case <-pingTicker.C:
			if err := r.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping outbox listener")
			}
		}
	}
}

func (r *Relay) Stop() error {
	return r.listener.Close()
}

func (r *Relay) processUnsent(ctx context.Context) error {
	events, err := r.repo.FetchUnsent(ctx, r.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	var sent []uuid.UUID
	for _, event := range events {
		if err := r.publishWithRetry(ctx, event); err != nil {
			log.Error().
				Err(err).
				Str("event_id", event.ID.String()).
				Str("event_type", event.EventType).
				Msg("failed to publish outbox event")
			// Keep staged order: later events wait behind a stuck one;
			// the next pass retries from here.
			break
		}
		sent = append(sent, event.ID)
	}

	if err := r.repo.MarkSent(ctx, sent); err != nil {
		return err
	}

	if len(sent) > 0 {
		log.Info().
			Int("total", len(events)).
			Int("sent", len(sent)).
			Msg("relayed outbox events")
	}
	return nil
}

func (r *Relay) publishWithRetry(ctx context.Context, event Event) error {
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.RetryDelay * time.Duration(attempt)):
			}
		}

		if err := r.publisher.Publish(ctx, event); err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", event.ID.String()).
				Msg("publish failed, retrying")
			continue
		}
		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", r.cfg.MaxRetries+1, lastErr)
}
