package treadmill

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/go_func_utils"
)

// poller calls ask on a fixed interval until stopped
type poller struct {
	logger *log.Logger
	ask    func() error

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newPoller(logger *log.Logger, ask func() error) *poller {
	if logger == nil {
		panic("poller: logger cannot be nil")
	}
	return &poller{logger: logger, ask: ask}
}

// start replaces any running poll. The first request goes out immediately.
func (p *poller) start(parent context.Context, interval time.Duration) {
	p.stop()

	ctx, cancel := context.WithCancel(parent)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	p.logger.Printf("Poller: Polling every %v", interval)
	go_func_utils.SafeGoGroup(p.logger, &p.wg, func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if err := p.ask(); err != nil && !errors.Is(err, ErrNotReady) {
				p.logger.Printf("Poller: Request failed: %v", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})
}

func (p *poller) stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
	p.logger.Printf("Poller: Stopped")
}

func (p *poller) running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}
