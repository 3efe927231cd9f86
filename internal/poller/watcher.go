package poller

import (
	"context"
	"time"
)

// State describes the watch loop for /status.json.
type State struct {
	Mode       string `json:"mode"` // "idle" or "polling"
	Generation uint64 `json:"generation"`
	Target     string `json:"target,omitempty"`
}

// Select points the continuous watch loop at one user, superseding any
// previous selection. Each call bumps the generation counter; results
// belonging to an older generation are discarded, so a rapid re-selection
// can never land a stale fix over a fresh one.
func (p *Poller) Select(userID string) uint64 {
	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.target = userID
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	p.log.Info("watch target selected", "user", userID, "generation", gen)
	go p.watchLoop(ctx, gen, userID)
	return gen
}

// Stop returns the watch loop to idle.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.gen++
	p.target = ""
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()
}

func (p *Poller) StateSnapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	state := State{Mode: "idle", Generation: p.gen}
	if p.cancel != nil && p.target != "" {
		state.Mode = "polling"
		state.Target = p.target
	}
	return state
}

func (p *Poller) generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen
}

func (p *Poller) watchLoop(ctx context.Context, gen uint64, userID string) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollOnce(ctx, gen, userID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx, gen, userID)
		}
	}
}

// pollOnce runs one watch iteration: fetch, then persist only if this
// generation is still the live one.
func (p *Poller) pollOnce(ctx context.Context, gen uint64, userID string) {
	rec, ok := p.fetchUser(ctx, userID)
	if !ok {
		return
	}
	if p.generation() != gen {
		p.log.Debug("discarding stale watch result", "user", userID, "generation", gen)
		return
	}
	p.applyFix(ctx, userID, rec)
}
