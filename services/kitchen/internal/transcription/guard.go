package transcription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultCacheTTL  = 24 * time.Hour
	DefaultEstimate  = 25
	DefaultNearRatio = 0.8
)

type Request struct {
	Audio     []byte
	Priority  Priority
	SessionID string
}

type Result struct {
	Fingerprint string     `json:"fingerprint"`
	Transcript  Transcript `json:"transcript"`
	Cached      bool       `json:"cached"`
	Batched     bool       `json:"batched"`
	// Shared is set when concurrent identical requests joined one call.
	Shared bool `json:"shared"`
}

type GuardConfig struct {
	CacheTTL  time.Duration
	Estimate  int64
	NearRatio float64
}

func (c GuardConfig) withDefaults() GuardConfig {
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.Estimate <= 0 {
		c.Estimate = DefaultEstimate
	}
	if c.NearRatio <= 0 || c.NearRatio > 1 {
		c.NearRatio = DefaultNearRatio
	}
	return c
}

type GuardDeps struct {
	Provider      Provider
	Cache         Cache
	Ledger        *Ledger
	Batcher       *Batcher
	Fingerprinter *Fingerprinter
}

// Guard serves transcriptions from cache and admits paid provider calls
// against the budget ledger.
type Guard struct {
	cfg      GuardConfig
	provider Provider
	cache    Cache
	ledger   *Ledger
	batcher  *Batcher
	fp       *Fingerprinter
	group    singleflight.Group
	logger   apt.Logger
	now      func() time.Time
}

func NewGuard(deps GuardDeps, cfg GuardConfig, logger apt.Logger) *Guard {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	cache := deps.Cache
	if cache == nil {
		cache = NewMemoryCache()
	}
	fp := deps.Fingerprinter
	if fp == nil {
		fp = NewFingerprinter("")
	}
	return &Guard{
		cfg:      cfg.withDefaults(),
		provider: deps.Provider,
		cache:    cache,
		ledger:   deps.Ledger,
		batcher:  deps.Batcher,
		fp:       fp,
		logger:   logger.With("component", "transcription"),
		now:      time.Now,
	}
}

// Resolve returns the transcript for the audio. Identical recordings in
// flight at the same time share one provider call.
func (g *Guard) Resolve(ctx context.Context, req Request) (Result, error) {
	if len(req.Audio) == 0 {
		return Result{}, ErrEmptyAudio
	}
	fingerprint, err := g.fp.Fingerprint(req.Audio)
	if err != nil {
		return Result{}, err
	}

	if res, ok := g.lookup(ctx, fingerprint); ok {
		return res, nil
	}

	// The shared call is detached from the caller that started it: others
	// may join it, and a call that reached the provider is billed anyway.
	// A caller that leaves gets its context error; the call completes and
	// fills the cache.
	detached := context.WithoutCancel(ctx)
	ch := g.group.DoChan(fingerprint, func() (interface{}, error) {
		return g.admit(detached, fingerprint, req)
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case out := <-ch:
		if out.Err != nil {
			return Result{}, out.Err
		}
		res := out.Val.(Result)
		res.Shared = out.Shared
		return res, nil
	}
}

func (g *Guard) lookup(ctx context.Context, fingerprint string) (Result, bool) {
	entry, ok, err := g.cache.Get(ctx, fingerprint)
	if err != nil {
		g.logger.Error("transcription cache lookup failed", "fingerprint", fingerprint, "error", err)
		return Result{}, false
	}
	if !ok {
		return Result{}, false
	}
	return Result{Fingerprint: fingerprint, Transcript: entry.Transcript, Cached: true}, true
}

// admit runs once per fingerprint at a time.
func (g *Guard) admit(ctx context.Context, fingerprint string, req Request) (Result, error) {
	// A call that just finished may have filled the cache.
	if res, ok := g.lookup(ctx, fingerprint); ok {
		return res, nil
	}
	if g.provider == nil {
		return Result{}, &ProviderError{Provider: "none", Err: errors.New("no transcription provider configured")}
	}

	batched := req.Priority == PriorityLow && g.batcher != nil && g.ledger != nil && g.ledger.Near(g.cfg.NearRatio)

	var reservation Reservation
	if g.ledger != nil {
		r, err := g.ledger.Reserve(g.cfg.Estimate)
		if err != nil {
			g.logger.Info("transcription refused", "fingerprint", fingerprint, "session_id", req.SessionID, "reason", err.Error())
			return Result{}, err
		}
		reservation = r
	}

	var (
		tr  Transcript
		err error
	)
	if batched {
		tr, err = g.batcher.Submit(ctx, req.Audio)
	} else {
		tr, err = g.provider.Transcribe(ctx, req.Audio)
	}

	if err != nil {
		if g.ledger != nil {
			// A call that timed out may still have been billed.
			if isContextErr(err) {
				g.ledger.Commit(reservation, g.cfg.Estimate)
			} else {
				g.ledger.Release(reservation)
			}
		}
		var perr *ProviderError
		if !errors.As(err, &perr) {
			err = &ProviderError{Provider: providerName(g.provider), Err: err}
		}
		g.logger.Error("transcription failed", "fingerprint", fingerprint, "session_id", req.SessionID, "error", err)
		return Result{}, err
	}

	cost := tr.Cost
	if cost <= 0 {
		cost = g.cfg.Estimate
	}
	if g.ledger != nil {
		g.ledger.Commit(reservation, cost)
	}

	now := g.now()
	entry := Entry{
		Fingerprint: fingerprint,
		Transcript:  tr,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.cfg.CacheTTL),
	}
	if err := g.cache.Put(ctx, entry); err != nil {
		g.logger.Error("cannot cache transcript", "fingerprint", fingerprint, "error", err)
	}

	g.logger.Debug("transcribed audio", "fingerprint", fingerprint, "cost", cost, "batched", batched)
	return Result{Fingerprint: fingerprint, Transcript: tr, Batched: batched}, nil
}

// Budget exposes the ledger state, if any.
func (g *Guard) Budget() (LedgerState, bool) {
	if g.ledger == nil {
		return LedgerState{}, false
	}
	return g.ledger.State(), true
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func providerName(p Provider) string {
	if n, ok := p.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", p)
}
