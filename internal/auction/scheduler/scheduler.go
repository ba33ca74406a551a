package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Closer is the registry's serialized close entry point. Closing through it
// never races a concurrent bid accept on the same auction.
type Closer interface {
	Close(ctx context.Context, auctionID uuid.UUID) (bool, error)
}

// Store is the read surface the scheduler sweeps for due deadlines.
type Store interface {
	DueAuctions(ctx context.Context, cutoff time.Time, limit int32) ([]uuid.UUID, error)
	EarliestOpenCreation(ctx context.Context) (*time.Time, error)
}

type Config struct {
	AuctionDuration time.Duration
	BatchSize       int32
	NumWorkers      int
	IdlePoll        time.Duration
}

func DefaultConfig(auctionDuration time.Duration) Config {
	return Config{
		AuctionDuration: auctionDuration,
		BatchSize:       50,
		NumWorkers:      10,
		IdlePoll:        5 * time.Second,
	}
}

// Scheduler sleeps until the next auction deadline and drives due auctions to
// FINISHED through the serialized close. A missed or delayed tick closes the
// auction late, never early: anything still open stays due on the next sweep.
type Scheduler struct {
	closer Closer
	store  Store
	cfg    Config
	clock  clockwork.Clock

	wakeCh     chan struct{}
	instanceID string

	workCh chan uuid.UUID

	// in-flight dedup so one auction is not queued to two workers
	inFlight   map[uuid.UUID]bool
	inFlightMu sync.Mutex
}

func New(closer Closer, store Store, cfg Config, clock clockwork.Clock) *Scheduler {
	return &Scheduler{
		closer:     closer,
		store:      store,
		cfg:        cfg,
		clock:      clock,
		wakeCh:     make(chan struct{}, 1),
		instanceID: uuid.New().String()[:8],
		workCh:     make(chan uuid.UUID, cfg.NumWorkers*2),
		inFlight:   make(map[uuid.UUID]bool),
	}
}

// Wake nudges the scheduler to recompute its next deadline, e.g. after a new
// auction is created.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Run loops until ctx is done, sleeping to the next deadline and firing
// closes through the worker pool.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().Str("instance", s.instanceID).Int("workers", s.cfg.NumWorkers).Msg("deadline scheduler started")

	var wg sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer func() {
		cancelWorkers()
		wg.Wait()
		log.Info().Str("instance", s.instanceID).Msg("deadline scheduler stopped")
	}()

	for i := 0; i < s.cfg.NumWorkers; i++ {
		wg.Add(1)
		go s.worker(workerCtx, &wg, i)
	}

	timer := s.clock.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-s.wakeCh:
		default:
		}

		earliest, err := s.store.EarliestOpenCreation(ctx)
		if err != nil {
			log.Error().Err(err).Str("instance", s.instanceID).Msg("failed to fetch next deadline")
			timer.Reset(time.Second)
			select {
			case <-timer.Chan():
				continue
			case <-ctx.Done():
				return nil
			}
		}

		if earliest == nil {
			timer.Reset(s.cfg.IdlePoll)
			select {
			case <-timer.Chan():
				continue
			case <-ctx.Done():
				return nil
			case <-s.wakeCh:
				continue
			}
		}

		deadline := earliest.Add(s.cfg.AuctionDuration)
		if wait := deadline.Sub(s.clock.Now()); wait > 0 {
			timer.Reset(wait)
			select {
			case <-timer.Chan():
			case <-ctx.Done():
				return nil
			case <-s.wakeCh:
				// a sooner deadline may exist now
				continue
			}
		}

		cutoff := s.clock.Now().Add(-s.cfg.AuctionDuration)
		due, err := s.store.DueAuctions(ctx, cutoff, s.cfg.BatchSize)
		if err != nil {
			log.Error().Err(err).Str("instance", s.instanceID).Msg("failed to fetch due auctions")
			timer.Reset(time.Second)
			select {
			case <-timer.Chan():
				continue
			case <-ctx.Done():
				return nil
			}
		}

		if len(due) > 0 {
			log.Info().
				Int("count_due", len(due)).
				Str("instance", s.instanceID).
				Msg("processing due auctions")
		}

		for _, auctionID := range due {
			s.inFlightMu.Lock()
			if s.inFlight[auctionID] {
				s.inFlightMu.Unlock()
				continue
			}
			s.inFlight[auctionID] = true
			s.inFlightMu.Unlock()

			select {
			case <-ctx.Done():
				s.inFlightMu.Lock()
				delete(s.inFlight, auctionID)
				s.inFlightMu.Unlock()
				return nil
			case s.workCh <- auctionID:
			}
		}
	}
}

func (s *Scheduler) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case auctionID := <-s.workCh:
			closed, err := s.closer.Close(ctx, auctionID)
			if err != nil {
				// The auction stays open and due; the next sweep retries.
				log.Error().
					Err(err).
					Str("auction_id", auctionID.String()).
					Int("worker_id", workerID).
					Msg("failed to close due auction")
			} else if closed {
				log.Info().
					Str("auction_id", auctionID.String()).
					Int("worker_id", workerID).
					Msg("closed auction at deadline")
			}

			s.inFlightMu.Lock()
			delete(s.inFlight, auctionID)
			s.inFlightMu.Unlock()
		}
	}
}
