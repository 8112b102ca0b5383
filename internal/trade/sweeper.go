package trade

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pawanbishnoiii/vk1-sub001/internal/model"
	"github.com/pawanbishnoiii/vk1-sub001/internal/store"
)

const (
	parkBase = 30 * time.Second
	parkMax  = 30 * time.Minute
)

// parked is a due trade whose settlement keeps failing.
type parked struct {
	failures int
	until    time.Time
	retry    backoff.BackOff
}

// newParkBackOff doubles from parkBase to parkMax without jitter and never
// gives up.
func newParkBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = parkBase
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = parkMax
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

// Sweeper settles pending trades whose timer has run out, so trade state
// converges even when no client asks for settlement.
//
// A trade that fails is parked for an exponentially growing interval and
// paged past, so a few broken trades cannot starve the rest of the queue.
type Sweeper struct {
	settler *Settler
	store   store.TradeStore
	batch   int

	mu     sync.Mutex
	parked map[string]parked
}

// NewSweeper creates a sweeper that settles at most batch trades per run.
func NewSweeper(settler *Settler, st store.TradeStore, batch int) *Sweeper {
	return &Sweeper{
		settler: settler,
		store:   st,
		batch:   batch,
		parked:  make(map[string]parked),
	}
}

// Sweep settles one batch of due trades and returns how many it resolved.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.settler.Now()
	limit := s.batch
	if limit > 0 {
		limit += len(s.parked)
	}
	due, err := s.store.ListDueTrades(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list due trades: %w", err)
	}
	if limit <= 0 || len(due) < limit {
		s.prune(due)
	}

	settled, attempted := 0, 0
	for _, t := range due {
		if ctx.Err() != nil {
			break
		}
		if s.batch > 0 && attempted == s.batch {
			break
		}
		if p, ok := s.parked[t.ID]; ok && now.Before(p.until) {
			continue
		}
		attempted++

		res, err := s.settler.Settle(ctx, t.ID, t.UserID)
		if err != nil {
			s.park(t.ID, now, err)
			continue
		}
		delete(s.parked, t.ID)
		if res.State == Settled {
			settled++
		}
	}

	if settled > 0 || len(s.parked) > 0 {
		slog.Info("settlement sweep", "due", len(due), "settled", settled, "parked", len(s.parked))
	}
	return settled, ctx.Err()
}

func (s *Sweeper) park(tradeID string, now time.Time, err error) {
	p, ok := s.parked[tradeID]
	if !ok {
		p.retry = newParkBackOff()
	}
	p.failures++
	p.until = now.Add(p.retry.NextBackOff())
	s.parked[tradeID] = p
	slog.Error("sweep settlement failed", "trade_id", tradeID, "failures", p.failures, "retry_at", p.until, "err", err)
}

// prune forgets parked trades that are no longer due. Only valid when due
// is the complete list.
func (s *Sweeper) prune(due []model.Trade) {
	if len(s.parked) == 0 {
		return
	}
	seen := make(map[string]bool, len(due))
	for _, t := range due {
		seen[t.ID] = true
	}
	for id := range s.parked {
		if !seen[id] {
			delete(s.parked, id)
		}
	}
}

// Parked reports how many trades are currently parked.
func (s *Sweeper) Parked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.parked)
}
