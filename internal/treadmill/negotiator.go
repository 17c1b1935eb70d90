package treadmill

import (
	"errors"
	"log"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/bt"
)

var ErrNoKnownProtocol = errors.New("no known treadmill protocol on device")

// negotiatorOps starts the transport operations the negotiator needs.
// Each call returns immediately; its completion is reported back through the
// matching negotiator method on the run loop.
type negotiatorOps interface {
	discoverCharacteristics(service bt.Service)
	read(char bt.Characteristic)
	subscribe(char bt.Characteristic)
}

// session is what a successful negotiation hands to the dispatcher
type session struct {
	address        string
	route          Route
	kingSmithWrite *bt.Characteristic
	subscribed     []bt.Characteristic
}

// negotiator walks a freshly connected device from service discovery to a
// ready session: record every service, pick a route, read diagnostics,
// subscribe to every notify/indicate characteristic, then declare ready once.
// All methods run on the run loop.
type negotiator struct {
	logger  *log.Logger
	address string
	ops     negotiatorOps

	caps          *capabilities
	services      *countdown
	subscriptions *countdown
	route         Route
	confirmed     []bt.Characteristic
	ready         bool
	failed        bool

	onReady   func(*session)
	onFailure func(error)
}

func newNegotiator(logger *log.Logger, address string, ops negotiatorOps, onReady func(*session), onFailure func(error)) *negotiator {
	if logger == nil {
		panic("negotiator: logger cannot be nil")
	}
	if ops == nil {
		panic("negotiator: ops cannot be nil")
	}
	return &negotiator{
		logger:    logger,
		address:   address,
		ops:       ops,
		caps:      newCapabilities(),
		route:     NoRoute{},
		onReady:   onReady,
		onFailure: onFailure,
	}
}

// start begins characteristic discovery on every service
func (n *negotiator) start(services []bt.Service) {
	n.logger.Printf("Negotiator: Discovered %d service(s) on %s", len(services), n.address)
	for _, svc := range services {
		n.logger.Printf("Negotiator:   Service %s", svc.UUID)
	}
	n.services = newCountdown(len(services), n.selectProtocol)
	for _, svc := range services {
		n.ops.discoverCharacteristics(svc)
	}
}

// characteristicsDiscovered records one service. A discovery error is
// logged and still counts toward completion.
func (n *negotiator) characteristicsDiscovered(service bt.Service, chars []bt.Characteristic, err error) {
	if n.services == nil || n.failed {
		return
	}
	if err != nil {
		n.logger.Printf("Negotiator: Characteristic discovery failed for %s: %v", service.UUID, err)
	} else {
		n.logger.Printf("Negotiator: Service %s has %d characteristic(s)", service.UUID, len(chars))
		for _, c := range chars {
			n.logger.Printf("Negotiator:   Char %s [%s]", c.UUID, c.Properties)
		}
		n.caps.record(service, chars)
	}
	n.services.Done()
}

func (n *negotiator) selectProtocol() {
	n.logger.Printf("Negotiator: All services processed: %d notify/indicate, %d writable characteristic(s)",
		len(n.caps.notifiable), len(n.caps.writable))

	n.route = n.caps.route()
	switch r := n.route.(type) {
	case FTMSRoute:
		n.logger.Printf("Negotiator: Primary protocol FTMS (control=%s, data=%s)", r.ControlPoint.UUID, r.TreadmillData.UUID)
		if n.caps.ftmsMachineStatus == nil {
			n.logger.Printf("Negotiator: FTMS machine status not present, remote events will not be seen")
		}
	case LegacyRoute:
		n.logger.Printf("Negotiator: Primary protocol Legacy (notify=%s, write=%s, priority %d)",
			r.Notify.UUID, r.Write.UUID, n.caps.legacyIndex)
	default:
		n.logger.Printf("Negotiator: No known protocol detected")
		n.failed = true
		if n.onFailure != nil {
			n.onFailure(ErrNoKnownProtocol)
		}
		return
	}
	if n.caps.kingSmithWrite != nil {
		n.logger.Printf("Negotiator: KingSmith write characteristic present")
	}

	for _, char := range n.caps.diagnosticReads() {
		n.ops.read(char)
	}

	notifiable := n.caps.notifiable
	n.logger.Printf("Negotiator: Subscribing to all %d notify/indicate characteristic(s)", len(notifiable))
	n.subscriptions = newCountdown(len(notifiable), n.declareReady)
	for _, char := range notifiable {
		n.ops.subscribe(char)
	}
}

// subscribed counts one acknowledged subscription. Failures are logged and
// still count.
func (n *negotiator) subscribed(char bt.Characteristic, err error) {
	if n.subscriptions == nil || n.failed {
		return
	}
	if err != nil {
		n.logger.Printf("Negotiator: Subscribe to %s failed: %v", char.UUID, err)
	} else {
		n.logger.Printf("Negotiator: Subscribe to %s OK", char.UUID)
		n.confirmed = append(n.confirmed, char)
	}
	n.subscriptions.Done()
}

func (n *negotiator) declareReady() {
	if n.ready || n.failed {
		return
	}
	if _, none := n.route.(NoRoute); none {
		return
	}
	n.ready = true
	n.logger.Printf("Negotiator: Ready, protocol %s", n.route.Protocol())
	if n.onReady != nil {
		n.onReady(n.session())
	}
}

func (n *negotiator) session() *session {
	s := &session{
		address:    n.address,
		route:      n.route,
		subscribed: n.confirmedSubscriptions(),
	}
	if n.caps.kingSmithWrite != nil {
		ks := *n.caps.kingSmithWrite
		s.kingSmithWrite = &ks
	}
	return s
}

// confirmedSubscriptions is every subscription acknowledged so far
func (n *negotiator) confirmedSubscriptions() []bt.Characteristic {
	out := make([]bt.Characteristic, len(n.confirmed))
	copy(out, n.confirmed)
	return out
}
