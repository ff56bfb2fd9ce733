package integrator

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func newTestAccumulator(cfg Config) *Accumulator {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Disable logs for tests
	return NewAccumulator(cfg, logger)
}

func TestAccumulator_FirstSampleIsNoOp(t *testing.T) {
	acc := newTestAccumulator(Config{})

	total := acc.Update("grid", time.Unix(0, 0), 1500)

	assert.Equal(t, 0.0, total)
	stored, ok := acc.Total("grid")
	assert.True(t, ok)
	assert.Equal(t, 0.0, stored)
}

func TestAccumulator_TrapezoidalIncrement(t *testing.T) {
	acc := newTestAccumulator(Config{})
	t0 := time.Unix(0, 0)

	acc.Update("grid", t0, 1000)
	total := acc.Update("grid", t0.Add(time.Hour), 3000)

	// ((1000+3000)/2) * 1h / 1000 = 2.0 kWh
	assert.InDelta(t, 2.0, total, 1e-9)
}

func TestAccumulator_Monotonicity(t *testing.T) {
	acc := newTestAccumulator(Config{})
	t0 := time.Unix(0, 0)

	powers := []float64{500, 1200, 0, 3000, 250, 250, 4000}
	previous := 0.0
	for i, p := range powers {
		total := acc.Update("pv", t0.Add(time.Duration(i)*5*time.Minute), p)
		assert.GreaterOrEqual(t, total, previous)
		previous = total
	}
}

func TestAccumulator_StaleTimestampRejected(t *testing.T) {
	acc := newTestAccumulator(Config{})
	t0 := time.Unix(0, 0)

	acc.Update("grid", t0, 1000)
	total := acc.Update("grid", t0.Add(time.Hour), 1000)
	assert.InDelta(t, 1.0, total, 1e-9)

	// earlier timestamp: no change, baseline untouched
	total = acc.Update("grid", t0.Add(30*time.Minute), 9000)
	assert.InDelta(t, 1.0, total, 1e-9)

	// duplicate timestamp: same treatment
	total = acc.Update("grid", t0.Add(time.Hour), 9000)
	assert.InDelta(t, 1.0, total, 1e-9)

	// baseline is still (t0+1h, 1000W), not the rejected 9000W sample
	total = acc.Update("grid", t0.Add(2*time.Hour), 1000)
	assert.InDelta(t, 2.0, total, 1e-9)
}

func TestAccumulator_NonFinitePowerDropped(t *testing.T) {
	acc := newTestAccumulator(Config{})
	t0 := time.Unix(0, 0)

	acc.Update("grid", t0, 1000)
	total := acc.Update("grid", t0.Add(30*time.Minute), math.NaN())
	assert.Equal(t, 0.0, total)

	total = acc.Update("grid", t0.Add(45*time.Minute), math.Inf(1))
	assert.Equal(t, 0.0, total)

	// next valid sample integrates across the whole gap against the
	// last valid baseline, the broken readings never became samples
	total = acc.Update("grid", t0.Add(time.Hour), 1000)
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestAccumulator_NegativeIntervalClamped(t *testing.T) {
	acc := newTestAccumulator(Config{})
	t0 := time.Unix(0, 0)

	// average exactly zero
	acc.Update("grid", t0, 2000)
	total := acc.Update("grid", t0.Add(time.Hour), -2000)
	assert.Equal(t, 0.0, total)

	// net negative average (-2000W over 1h) clamps to zero too
	acc.Update("batt", t0, -1000)
	total = acc.Update("batt", t0.Add(time.Hour), -3000)
	assert.Equal(t, 0.0, total)

	// a following forward interval still accumulates
	total = acc.Update("batt", t0.Add(2*time.Hour), 1000)
	assert.InDelta(t, 0.0, total, 1e-9) // avg (-3000+1000)/2 < 0, clamped
	total = acc.Update("batt", t0.Add(3*time.Hour), 1000)
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestAccumulator_SeedIsResumePoint(t *testing.T) {
	acc := newTestAccumulator(Config{})
	t0 := time.Unix(0, 0)

	acc.Seed("grid", 50.0)

	total := acc.Update("grid", t0, 1000)
	assert.Equal(t, 50.0, total)

	total = acc.Update("grid", t0.Add(time.Hour), 1000)
	assert.InDelta(t, 51.0, total, 1e-9)
}

func TestAccumulator_SeedNeverLowersTotal(t *testing.T) {
	acc := newTestAccumulator(Config{})
	t0 := time.Unix(0, 0)

	acc.Update("grid", t0, 2000)
	acc.Update("grid", t0.Add(time.Hour), 2000)

	acc.Seed("grid", 0.5)
	total, _ := acc.Total("grid")
	assert.InDelta(t, 2.0, total, 1e-9)

	acc.Seed("grid", -10)
	total, _ = acc.Total("grid")
	assert.InDelta(t, 2.0, total, 1e-9)

	acc.Seed("grid", 10)
	total, _ = acc.Total("grid")
	assert.Equal(t, 10.0, total)
}

func TestAccumulator_MaxGapRebaselines(t *testing.T) {
	acc := newTestAccumulator(Config{MaxGap: time.Hour})
	t0 := time.Unix(0, 0)

	acc.Update("grid", t0, 1000)
	total := acc.Update("grid", t0.Add(6*time.Hour), 1000)
	assert.Equal(t, 0.0, total)

	// the long-gap sample became the new baseline
	total = acc.Update("grid", t0.Add(7*time.Hour), 1000)
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestAccumulator_EntitiesAreIndependent(t *testing.T) {
	acc := newTestAccumulator(Config{})
	t0 := time.Unix(0, 0)

	acc.Update("grid", t0, 1000)
	acc.Update("pv", t0, 4000)
	gridTotal := acc.Update("grid", t0.Add(time.Hour), 1000)
	pvTotal := acc.Update("pv", t0.Add(time.Hour), 4000)

	assert.InDelta(t, 1.0, gridTotal, 1e-9)
	assert.InDelta(t, 4.0, pvTotal, 1e-9)

	totals := acc.Totals()
	assert.Len(t, totals, 2)
	assert.InDelta(t, 1.0, totals["grid"], 1e-9)
	assert.InDelta(t, 4.0, totals["pv"], 1e-9)
}

func TestAccumulator_UnknownEntity(t *testing.T) {
	acc := newTestAccumulator(Config{})

	total, ok := acc.Total("nope")
	assert.False(t, ok)
	assert.Equal(t, 0.0, total)
}

func TestAccumulator_ConcurrentEntities(t *testing.T) {
	acc := newTestAccumulator(Config{})
	t0 := time.Unix(0, 0)

	var wg sync.WaitGroup
	entities := []string{"grid", "pv", "ev", "heat"}
	for _, key := range entities {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				acc.Update(key, t0.Add(time.Duration(i)*time.Minute), 6000)
			}
		}(key)
	}
	wg.Wait()

	// 6000W constant over 999 minutes
	expected := 6000.0 * 999.0 / 60.0 / 1000.0
	for _, key := range entities {
		total, ok := acc.Total(key)
		assert.True(t, ok)
		assert.InDelta(t, expected, total, 1e-6)
	}
}

func TestAccumulator_Status(t *testing.T) {
	acc := newTestAccumulator(Config{})

	acc.Update("grid", time.Unix(0, 0), 1000)
	status := acc.Status()

	assert.Contains(t, status, "grid")
	entry := status["grid"].(map[string]interface{})
	assert.Equal(t, 0.0, entry["total_kwh"])
	assert.Equal(t, 1000.0, entry["last_power_w"])
}
