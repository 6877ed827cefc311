package cache

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Doorkeeper is a bloom-filter admission gate: a key is admitted only once
// it has been seen before. One-off payloads therefore never displace
// entries that are requested repeatedly.
//
// The filter is cleared after it has absorbed ExpectedKeys distinct keys so
// its false-positive rate stays near the configured value.
type Doorkeeper struct {
	mu         sync.Mutex
	filter     *bloom.BloomFilter
	added      uint
	resetAfter uint
}

// NewDoorkeeper creates a doorkeeper sized for expectedKeys at the given
// false-positive rate. Defaults: 10000 keys, 1%.
func NewDoorkeeper(expectedKeys uint, fpRate float64) *Doorkeeper {
	if expectedKeys == 0 {
		expectedKeys = 10000
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.01
	}
	return &Doorkeeper{
		filter:     bloom.NewWithEstimates(expectedKeys, fpRate),
		resetAfter: expectedKeys,
	}
}

// Admit records key and reports whether it had already been seen.
func (d *Doorkeeper) Admit(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.filter.TestAndAddString(key) {
		return true
	}
	d.added++
	if d.added >= d.resetAfter {
		d.filter.ClearAll()
		d.added = 0
	}
	return false
}
