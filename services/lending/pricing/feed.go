package pricing

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"lendrisk/native/lending"
	"lendrisk/observability/metrics"
)

// PriceStatus captures the health classification assigned to a quote.
type PriceStatus string

const (
	// PriceStatusOK indicates the quote passed all configured guardrails.
	PriceStatusOK PriceStatus = "ok"
	// PriceStatusStale signals the quote exceeded its freshness window.
	PriceStatusStale PriceStatus = "stale"
	// PriceStatusDeviant indicates the latest observation moved further from
	// the previous one than the deviation threshold allows. A second
	// observation near the new level clears it.
	PriceStatusDeviant PriceStatus = "deviant"
)

var (
	ErrInvalidObservation = errors.New("pricing: invalid observation")
	ErrOutOfOrder         = errors.New("pricing: observation older than current quote")
)

// Observation is one USD price report for an asset.
type Observation struct {
	AssetID    string          `json:"assetId"`
	PriceUSD   decimal.Decimal `json:"priceUsd"`
	ObservedAt time.Time       `json:"observedAt"`
	Source     string          `json:"source,omitempty"`
}

// Quote is an observation classified at a point in time.
type Quote struct {
	Observation
	AgeSeconds uint32      `json:"ageSeconds"`
	Status     PriceStatus `json:"status"`
}

// Config holds the freshness and deviation guardrails.
type Config struct {
	// DefaultMaxAge applies to assets without an explicit entry. Zero
	// disables staleness checks.
	DefaultMaxAge time.Duration
	MaxAge        map[string]time.Duration
	// MaxDeviationBps bounds the move between consecutive observations.
	// Zero disables the check.
	MaxDeviationBps uint32
}

type entry struct {
	current  Observation
	previous decimal.Decimal
}

// Feed holds the latest observation per asset and hands out frozen
// snapshots for health evaluation.
type Feed struct {
	mu      sync.RWMutex
	cfg     Config
	entries map[string]entry
	metrics *metrics.LendingMetrics
}

// NewFeed constructs an empty feed.
func NewFeed(cfg Config) *Feed {
	normalized := Config{DefaultMaxAge: cfg.DefaultMaxAge, MaxDeviationBps: cfg.MaxDeviationBps, MaxAge: map[string]time.Duration{}}
	for asset, age := range cfg.MaxAge {
		normalized.MaxAge[normalizeAsset(asset)] = age
	}
	return &Feed{cfg: normalized, entries: make(map[string]entry)}
}

// SetMetrics attaches the collectors used to count stale reads.
func (f *Feed) SetMetrics(m *metrics.LendingMetrics) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = m
}

// Update records obs as the latest observation of its asset. Observations
// older than the current one are rejected with ErrOutOfOrder.
func (f *Feed) Update(obs Observation) error {
	return f.UpdateAll([]Observation{obs})
}

// UpdateAll records a batch of observations atomically: either every entry
// is accepted or the feed is left untouched. Entries are applied in order,
// so a later entry for the same asset must not be older than an earlier one.
func (f *Feed) UpdateAll(observations []Observation) error {
	prepared := make([]Observation, len(observations))
	for i, obs := range observations {
		clean, err := prepareObservation(obs)
		if err != nil {
			return fmt.Errorf("observation %d: %w", i, err)
		}
		prepared[i] = clean
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	latest := make(map[string]time.Time, len(prepared))
	for i, obs := range prepared {
		current, ok := latest[obs.AssetID]
		if !ok {
			if existing, found := f.entries[obs.AssetID]; found {
				current, ok = existing.current.ObservedAt, true
			}
		}
		if ok && obs.ObservedAt.Before(current) {
			return fmt.Errorf("observation %d: %w: %s observed %s, current %s", i, ErrOutOfOrder, obs.AssetID,
				obs.ObservedAt.Format(time.RFC3339), current.Format(time.RFC3339))
		}
		latest[obs.AssetID] = obs.ObservedAt
	}
	for _, obs := range prepared {
		next := entry{current: obs}
		if existing, ok := f.entries[obs.AssetID]; ok {
			next.previous = existing.current.PriceUSD
		}
		f.entries[obs.AssetID] = next
	}
	return nil
}

func prepareObservation(obs Observation) (Observation, error) {
	obs.AssetID = normalizeAsset(obs.AssetID)
	if obs.AssetID == "" {
		return obs, fmt.Errorf("%w: asset required", ErrInvalidObservation)
	}
	if obs.PriceUSD.Sign() <= 0 {
		return obs, fmt.Errorf("%w: %s price %s must be positive", ErrInvalidObservation, obs.AssetID, obs.PriceUSD)
	}
	if obs.ObservedAt.IsZero() {
		return obs, fmt.Errorf("%w: %s observation time required", ErrInvalidObservation, obs.AssetID)
	}
	obs.ObservedAt = obs.ObservedAt.UTC()
	obs.Source = strings.TrimSpace(obs.Source)
	return obs, nil
}

// Quote classifies the latest observation of an asset at now.
func (f *Feed) Quote(assetID string, now time.Time) (Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.entries[normalizeAsset(assetID)]
	if !ok {
		return Quote{}, lending.ErrPriceUnavailable
	}
	return f.classify(e, now), nil
}

// Quotes classifies every known asset at now, sorted by asset identifier.
func (f *Feed) Quotes(now time.Time) []Quote {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Quote, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, f.classify(e, now))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

// Snapshot freezes the classified quotes at now.
func (f *Feed) Snapshot(now time.Time) lending.PriceLookup {
	quotes := f.Quotes(now)
	snap := &Snapshot{quotes: make(map[string]Quote, len(quotes)), maxDeviation: f.cfg.MaxDeviationBps}
	for _, q := range quotes {
		snap.quotes[q.AssetID] = q
	}
	f.mu.RLock()
	snap.metrics = f.metrics
	f.mu.RUnlock()
	return snap
}

func (f *Feed) classify(e entry, now time.Time) Quote {
	if now.IsZero() {
		now = time.Now()
	}
	q := Quote{Observation: e.current, Status: PriceStatusOK}
	q.AgeSeconds = computeAgeSeconds(e.current.ObservedAt, now.UTC())
	if maxAge := f.maxAge(e.current.AssetID); maxAge > 0 && uint64(q.AgeSeconds) > uint64(maxAge/time.Second) {
		q.Status = PriceStatusStale
		return q
	}
	if f.cfg.MaxDeviationBps > 0 && deviatesBeyondThreshold(e.current.PriceUSD, e.previous, f.cfg.MaxDeviationBps) {
		q.Status = PriceStatusDeviant
	}
	return q
}

func (f *Feed) maxAge(assetID string) time.Duration {
	if age, ok := f.cfg.MaxAge[assetID]; ok {
		return age
	}
	return f.cfg.DefaultMaxAge
}

// Snapshot is a point-in-time PriceLookup. Stale and deviant quotes are
// reported as lookup errors so the health engine marks them missing.
type Snapshot struct {
	quotes       map[string]Quote
	maxDeviation uint32
	metrics      *metrics.LendingMetrics
}

// UnitPriceUSD implements lending.PriceLookup.
func (s *Snapshot) UnitPriceUSD(assetID string) (decimal.Decimal, error) {
	asset := normalizeAsset(assetID)
	q, ok := s.quotes[asset]
	if !ok {
		return decimal.Zero, lending.ErrPriceUnavailable
	}
	switch q.Status {
	case PriceStatusStale:
		s.metrics.IncStalePrice(asset)
		return decimal.Zero, fmt.Errorf("%w: %s is %ds old", lending.ErrStalePrice, asset, q.AgeSeconds)
	case PriceStatusDeviant:
		return decimal.Zero, fmt.Errorf("%w: %s moved more than %d bps since the previous observation", lending.ErrPriceUnavailable, asset, s.maxDeviation)
	}
	return q.PriceUSD, nil
}

func normalizeAsset(asset string) string {
	return lending.NormalizeAssetID(asset)
}

func computeAgeSeconds(observed, now time.Time) uint32 {
	if observed.IsZero() || now.IsZero() {
		return math.MaxUint32
	}
	if !now.After(observed) {
		return 0
	}
	seconds := now.Sub(observed) / time.Second
	if seconds > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(seconds)
}

func deviatesBeyondThreshold(spot, previous decimal.Decimal, thresholdBps uint32) bool {
	if previous.Sign() <= 0 {
		return false
	}
	diff := spot.Sub(previous).Abs()
	if diff.IsZero() {
		return false
	}
	ratio := diff.Div(previous).Mul(decimal.NewFromInt(10_000))
	return ratio.GreaterThan(decimal.NewFromInt(int64(thresholdBps)))
}
