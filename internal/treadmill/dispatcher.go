package treadmill

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/bt"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/codec/ftms"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/codec/kingsmith"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/go_func_utils"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/model"
)

var ErrNotReady = errors.New("treadmill is not ready")

// charGate serializes writes to one characteristic and remembers when the
// last one completed
type charGate struct {
	mu        sync.Mutex
	lastWrite time.Time
}

// dispatcher turns commands into characteristic writes for the active
// session. It is called from caller goroutines; the run loop attaches and
// detaches sessions.
type dispatcher struct {
	logger         *log.Logger
	transport      bt.Transport
	spacing        time.Duration
	handshakeDelay time.Duration
	wg             *sync.WaitGroup

	mu   sync.RWMutex
	ctx  context.Context
	sess *session

	gatesMu sync.Mutex
	gates   map[string]*charGate

	controlMu  sync.Mutex
	hasControl bool
}

func newDispatcher(logger *log.Logger, transport bt.Transport, spacing, handshakeDelay time.Duration, wg *sync.WaitGroup) *dispatcher {
	if logger == nil {
		panic("dispatcher: logger cannot be nil")
	}
	if transport == nil {
		panic("dispatcher: transport cannot be nil")
	}
	return &dispatcher{
		logger:         logger,
		transport:      transport,
		spacing:        spacing,
		handshakeDelay: handshakeDelay,
		wg:             wg,
		gates:          make(map[string]*charGate),
	}
}

// attach makes s the target of every command until detach. ctx is cancelled
// when the connection goes away.
func (d *dispatcher) attach(ctx context.Context, s *session) {
	d.mu.Lock()
	d.ctx = ctx
	d.sess = s
	d.mu.Unlock()

	d.gatesMu.Lock()
	d.gates = make(map[string]*charGate)
	d.gatesMu.Unlock()

	d.resetControl()
}

func (d *dispatcher) detach() {
	d.mu.Lock()
	d.ctx = nil
	d.sess = nil
	d.mu.Unlock()
	d.resetControl()
}

func (d *dispatcher) current() (context.Context, *session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.sess == nil {
		return nil, nil, ErrNotReady
	}
	return d.ctx, d.sess, nil
}

func (d *dispatcher) protocol() model.Protocol {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.sess == nil {
		return model.ProtocolNone
	}
	return d.sess.route.Protocol()
}

func (d *dispatcher) gate(char bt.Characteristic) *charGate {
	d.gatesMu.Lock()
	defer d.gatesMu.Unlock()
	g, ok := d.gates[char.Key()]
	if !ok {
		g = &charGate{}
		d.gates[char.Key()] = g
	}
	return g
}

// --- Legacy ---

// writeLegacy sends frame on the legacy write characteristic, waiting until
// at least spacing has passed since the previous legacy write. It is a no-op
// unless the active protocol is Legacy.
func (d *dispatcher) writeLegacy(frame []byte) error {
	ctx, s, err := d.current()
	if err != nil {
		return err
	}
	route, ok := s.route.(LegacyRoute)
	if !ok {
		return nil
	}

	g := d.gate(route.Write)
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.lastWrite.IsZero() {
		if wait := d.spacing - time.Since(g.lastWrite); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return fmt.Errorf("legacy write cancelled: %w", ErrNotReady)
			}
		}
	}

	d.logger.Printf("Dispatcher: Legacy write [% X]", frame)
	err = d.transport.Write(s.address, route.Write, frame, false)
	g.lastWrite = time.Now()
	if err != nil {
		return fmt.Errorf("legacy write: %w", err)
	}
	return nil
}

// --- FTMS ---

func (d *dispatcher) writeControlPoint(s *session, cp bt.Characteristic, data []byte) error {
	g := d.gate(cp)
	g.mu.Lock()
	defer g.mu.Unlock()

	d.logger.Printf("Dispatcher: FTMS write %s [% X]", ftms.DescribeControlPoint(data), data)
	err := d.transport.Write(s.address, cp, data, true)
	g.lastWrite = time.Now()
	if err != nil {
		return fmt.Errorf("ftms write: %w", err)
	}
	return nil
}

// writeFTMS sends data to the control point. It is a no-op unless the
// active protocol is FTMS.
func (d *dispatcher) writeFTMS(data []byte) error {
	_, s, err := d.current()
	if err != nil {
		return err
	}
	route, ok := s.route.(FTMSRoute)
	if !ok {
		return nil
	}
	return d.writeControlPoint(s, route.ControlPoint, data)
}

// ensureControl sends Request Control followed by Start or Resume, once per
// grant of control
func (d *dispatcher) ensureControl() error {
	_, s, err := d.current()
	if err != nil {
		return err
	}
	route, ok := s.route.(FTMSRoute)
	if !ok {
		return nil
	}

	d.controlMu.Lock()
	defer d.controlMu.Unlock()
	if d.hasControl {
		d.logger.Printf("Dispatcher: FTMS control already requested")
		return nil
	}
	if err := d.writeControlPoint(s, route.ControlPoint, ftms.RequestControl()); err != nil {
		return err
	}
	if err := d.writeControlPoint(s, route.ControlPoint, ftms.StartOrResume()); err != nil {
		return err
	}
	d.hasControl = true
	return nil
}

func (d *dispatcher) controlGranted() bool {
	d.controlMu.Lock()
	defer d.controlMu.Unlock()
	return d.hasControl
}

func (d *dispatcher) resetControl() {
	d.controlMu.Lock()
	d.hasControl = false
	d.controlMu.Unlock()
}

// onMachineEvent drops the control grant when the device takes it back
func (d *dispatcher) onMachineEvent(ev model.MachineEvent) {
	switch ev.Kind {
	case model.StoppedByUser, model.ControlPermissionLost:
		d.logger.Printf("Dispatcher: %s, control must be requested again", ev.Kind)
		d.resetControl()
	}
}

// --- KingSmith ---

// hasKingSmith reports whether the session has the side channel
func (d *dispatcher) hasKingSmith() bool {
	_, s, err := d.current()
	return err == nil && s.kingSmithWrite != nil
}

func (d *dispatcher) writeKingSmith(data []byte) error {
	_, s, err := d.current()
	if err != nil {
		return err
	}
	if s.kingSmithWrite == nil {
		d.logger.Printf("Dispatcher: KingSmith write skipped, characteristic not available")
		return nil
	}

	g := d.gate(*s.kingSmithWrite)
	g.mu.Lock()
	defer g.mu.Unlock()

	d.logger.Printf("Dispatcher: KingSmith write [% X]", data)
	err = d.transport.Write(s.address, *s.kingSmithWrite, data, false)
	g.lastWrite = time.Now()
	if err != nil {
		return fmt.Errorf("kingsmith write: %w", err)
	}
	return nil
}

// startHandshake issues the KingSmith bring-up sequence in the background.
// A failed step is logged and the sequence continues; disconnecting stops it.
func (d *dispatcher) startHandshake() {
	ctx, s, err := d.current()
	if err != nil || s.kingSmithWrite == nil {
		d.logger.Printf("Dispatcher: No KingSmith service, skipping handshake")
		return
	}
	frames := kingsmith.Handshake(time.Now())
	d.logger.Printf("Dispatcher: Sending KingSmith handshake (%d frames)", len(frames))

	go_func_utils.SafeGoGroup(d.logger, d.wg, func() {
		for i, frame := range frames {
			if i > 0 {
				timer := time.NewTimer(d.handshakeDelay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					d.logger.Printf("Dispatcher: KingSmith handshake cancelled")
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
			if err := d.writeKingSmith(frame); err != nil {
				d.logger.Printf("Dispatcher: KingSmith handshake step %d failed: %v", i+1, err)
			}
		}
		d.logger.Printf("Dispatcher: KingSmith handshake complete")
	})
}
