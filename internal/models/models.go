package models

import (
	"sync"
	"time"
)

// PowerReading holds the latest power value seen for one entity.
type PowerReading struct {
	Power     float64
	Timestamp time.Time
	hasValue  bool
	mutex     sync.RWMutex
}

func NewPowerReading() *PowerReading {
	return &PowerReading{}
}

func (pr *PowerReading) Update(power float64, ts time.Time) {
	pr.mutex.Lock()
	defer pr.mutex.Unlock()
	pr.Power = power
	pr.Timestamp = ts
	pr.hasValue = true
}

func (pr *PowerReading) Get() (float64, time.Time) {
	pr.mutex.RLock()
	defer pr.mutex.RUnlock()
	return pr.Power, pr.Timestamp
}

// Age returns the time since the last reading, or a negative duration
// when no reading has arrived yet.
func (pr *PowerReading) Age() time.Duration {
	pr.mutex.RLock()
	defer pr.mutex.RUnlock()
	if !pr.hasValue {
		return -1
	}
	return time.Since(pr.Timestamp)
}

func (pr *PowerReading) HasValue() bool {
	pr.mutex.RLock()
	defer pr.mutex.RUnlock()
	return pr.hasValue
}
