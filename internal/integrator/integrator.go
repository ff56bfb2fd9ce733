package integrator

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Sample is one power reading for an entity.
type Sample struct {
	Timestamp  time.Time
	PowerWatts float64
}

// Config for the accumulator.
type Config struct {
	// MaxGap discards the contribution of intervals longer than this
	// (the new sample still becomes the baseline). Zero disables the cap
	// and long gaps integrate at face value.
	MaxGap time.Duration
}

// Accumulator turns irregular power readings (W) into ever-increasing
// energy totals (kWh), one independent history per entity.
//
// Each interval between two valid, chronologically ordered samples is
// estimated with the trapezoidal rule and clamped to zero when the net
// flow over the interval is negative: the counter only runs forward.
// A physically faithful variant would split mixed-sign intervals at the
// zero crossing and count the positive part; we keep the coarser clamp.
type Accumulator struct {
	config Config
	logger *logrus.Logger

	mu       sync.Mutex
	entities map[string]*entityState
}

type entityState struct {
	mu       sync.Mutex
	hasLast  bool
	last     Sample
	totalKWh float64
}

func NewAccumulator(cfg Config, logger *logrus.Logger) *Accumulator {
	return &Accumulator{
		config:   cfg,
		logger:   logger,
		entities: make(map[string]*entityState),
	}
}

func (a *Accumulator) entity(key string) *entityState {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entities[key]
	if !ok {
		e = &entityState{}
		a.entities[key] = e
	}
	return e
}

// Update feeds one reading and returns the entity's current total.
//
// A non-finite power value, a timestamp not strictly after the stored
// baseline, or a first-ever sample all leave the total unchanged; the
// call never fails. Calls for the same entity are serialized internally,
// different entities never contend.
func (a *Accumulator) Update(key string, ts time.Time, powerWatts float64) float64 {
	e := a.entity(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	if math.IsNaN(powerWatts) || math.IsInf(powerWatts, 0) {
		a.logger.Debugf("Integrator: dropping non-finite power for %s", key)
		return e.totalKWh
	}

	if !e.hasLast {
		e.last = Sample{Timestamp: ts, PowerWatts: powerWatts}
		e.hasLast = true
		a.logger.Debugf("Integrator: baseline for %s at %.1fW", key, powerWatts)
		return e.totalKWh
	}

	dt := ts.Sub(e.last.Timestamp)
	if dt <= 0 {
		a.logger.Debugf("Integrator: stale timestamp for %s (dt=%s), ignoring", key, dt)
		return e.totalKWh
	}

	if a.config.MaxGap > 0 && dt > a.config.MaxGap {
		a.logger.Warnf("Integrator: gap of %s for %s exceeds max %s, re-baselining without contribution",
			dt, key, a.config.MaxGap)
		e.last = Sample{Timestamp: ts, PowerWatts: powerWatts}
		return e.totalKWh
	}

	incrementKWh := (e.last.PowerWatts + powerWatts) / 2 * dt.Hours() / 1000
	if incrementKWh < 0 {
		// net reverse flow over the interval counts as zero
		incrementKWh = 0
	}

	e.totalKWh += incrementKWh
	e.last = Sample{Timestamp: ts, PowerWatts: powerWatts}

	a.logger.Debugf("Integrator: %s +%.6fkWh -> %.6fkWh", key, incrementKWh, e.totalKWh)
	return e.totalKWh
}

// Seed restores a previously persisted total for an entity, creating it
// if needed. The stored total is only ever raised, so duplicate or late
// seeds cannot roll the counter back.
func (a *Accumulator) Seed(key string, totalKWh float64) {
	if math.IsNaN(totalKWh) || math.IsInf(totalKWh, 0) || totalKWh < 0 {
		a.logger.Warnf("Integrator: ignoring invalid seed %.3f for %s", totalKWh, key)
		return
	}

	e := a.entity(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	if totalKWh <= e.totalKWh {
		return
	}
	e.totalKWh = totalKWh
	a.logger.Infof("Integrator: seeded %s at %.3fkWh", key, totalKWh)
}

// Total returns the current total for an entity, false if never seen.
func (a *Accumulator) Total(key string) (float64, bool) {
	a.mu.Lock()
	e, ok := a.entities[key]
	a.mu.Unlock()
	if !ok {
		return 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalKWh, true
}

// Totals returns a snapshot of all entity totals.
func (a *Accumulator) Totals() map[string]float64 {
	a.mu.Lock()
	keys := make([]string, 0, len(a.entities))
	states := make([]*entityState, 0, len(a.entities))
	for k, e := range a.entities {
		keys = append(keys, k)
		states = append(states, e)
	}
	a.mu.Unlock()

	totals := make(map[string]float64, len(keys))
	for i, e := range states {
		e.mu.Lock()
		totals[keys[i]] = e.totalKWh
		e.mu.Unlock()
	}
	return totals
}

// Status returns the internal state for monitoring.
func (a *Accumulator) Status() map[string]interface{} {
	a.mu.Lock()
	keys := make([]string, 0, len(a.entities))
	states := make([]*entityState, 0, len(a.entities))
	for k, e := range a.entities {
		keys = append(keys, k)
		states = append(states, e)
	}
	a.mu.Unlock()

	status := make(map[string]interface{}, len(keys))
	for i, e := range states {
		e.mu.Lock()
		entry := map[string]interface{}{
			"total_kwh": e.totalKWh,
		}
		if e.hasLast {
			entry["last_power_w"] = e.last.PowerWatts
			entry["last_timestamp"] = e.last.Timestamp
		}
		e.mu.Unlock()
		status[keys[i]] = entry
	}
	return status
}
