package quoter

import (
	"sync"

	"openbook-quoter/config"
)

// priorityController aggregates the adversity-window escalation and the
// competitor-presence increment into one effective rate, with a
// multiplicative boost for fresh placements to win placement races.
// The current rate resets to the (hot-reloadable) default whenever no
// signal is active.
type priorityController struct {
	cfg config.PriorityConfig

	mu          sync.RWMutex
	current     int
	defaultRate int
}

func newPriorityController(cfg config.PriorityConfig) *priorityController {
	return &priorityController{
		cfg:         cfg,
		current:     cfg.DefaultRate,
		defaultRate: cfg.DefaultRate,
	}
}

// SetDefault applies a hot-reloaded base rate.
func (p *priorityController) SetDefault(rate int) {
	if rate <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultRate = rate
}

// Compute derives the effective rate for one side's submission and
// records it as the current rate.
func (p *priorityController) Compute(escalation float64, competitorPresent bool, fresh bool, freshBoost float64) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	rate := p.defaultRate
	if escalation > 0 {
		rate += int(escalation)
	}
	if competitorPresent {
		rate += p.cfg.CompetitorIncrement
	}
	if fresh && freshBoost > 0 {
		rate = int(float64(rate) * freshBoost)
	}
	p.current = rate
	return rate
}

// Current returns the last computed effective rate.
func (p *priorityController) Current() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Default returns the active base rate.
func (p *priorityController) Default() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.defaultRate
}
