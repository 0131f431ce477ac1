package common

import (
	"sync"
	"time"
)

// BlockTimeTracker estimates how long to sleep before polling the chain again. The estimate
// shrinks while polls keep finding new blocks and grows while they do not, and always stays within
// [minValue, maxValue].
type BlockTimeTracker struct {
	lock           *sync.RWMutex
	currentValue   int
	minValue       int
	maxValue       int
	consecutiveHit int
}

// NewBlockTimeTracker creates a tracker starting at blockTime (in milliseconds).
func NewBlockTimeTracker(blockTime, minValue, maxValue int) *BlockTimeTracker {
	if minValue <= 0 {
		minValue = 1
	}
	if maxValue < minValue {
		maxValue = minValue
	}

	t := &BlockTimeTracker{
		lock:         &sync.RWMutex{},
		currentValue: blockTime,
		minValue:     minValue,
		maxValue:     maxValue,
	}
	t.clamp()

	return t
}

// HitBlock is called when a new block is retrieved within the the last block time.
func (t *BlockTimeTracker) HitBlock() {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.consecutiveHit++
	if t.consecutiveHit >= 3 {
		t.currentValue = t.currentValue * 6 / 10 // Drop block time by 40%
	} else {
		t.currentValue = t.currentValue * 950 / 1000 // Drop block time by 5%
	}

	t.clamp()
}

// HitBlockWithMinorDelay is called when new block time is slightly higher than the last one.
func (t *BlockTimeTracker) HitBlockWithMinorDelay() {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.currentValue = t.currentValue * 1025 / 1000 // Increase block time by 2.5%
	t.consecutiveHit = 0
	t.clamp()
}

// MissBlock is called when a block is missed.
func (t *BlockTimeTracker) MissBlock() {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.currentValue = t.currentValue * 11 / 10 // Increase block time by 10%
	t.consecutiveHit = 0
	t.clamp()
}

func (t *BlockTimeTracker) GetSleepTime() int {
	t.lock.RLock()
	defer t.lock.RUnlock()

	return t.currentValue
}

func (t *BlockTimeTracker) GetSleepDuration() time.Duration {
	return time.Duration(t.GetSleepTime()) * time.Millisecond
}

func (t *BlockTimeTracker) clamp() {
	if t.currentValue < t.minValue {
		t.currentValue = t.minValue
	}

	if t.currentValue > t.maxValue {
		t.currentValue = t.maxValue
	}
}
