// Package feed serves live treadmill state to browsers over a websocket.
package feed

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/events"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/go_func_utils"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/model"
)

const (
	writeTimeout = 5 * time.Second
	clientBuffer = 32
)

// Source is the part of treadmill.Controller the feed reads from
type Source interface {
	Device() (model.Device, bool)
	ListenToConnectionState(ch chan<- model.ConnectionState) func()
	ListenToProtocol(ch chan<- model.Protocol) func()
	ListenToStatus(ch chan<- model.TreadmillStatus) func()
	ListenToLastRecord(ch chan<- model.LastRecord) func()
	ListenToMachineEvents(ch chan<- model.MachineEvent) func()
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

type Server struct {
	logger   *log.Logger
	source   Source
	messages *events.CallbackEvent[Message]

	mu     sync.Mutex
	latest map[string]Message

	server *http.Server
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shutdownOnce sync.Once
}

func New(source Source, logger *log.Logger) *Server {
	if source == nil {
		panic("FeedServer: source cannot be nil")
	}
	if logger == nil {
		panic("FeedServer: logger cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		logger:   logger,
		source:   source,
		messages: events.NewCallbackEvent[Message](false),
		latest:   make(map[string]Message),
		ctx:      ctx,
		cancel:   cancel,
	}

	states := make(chan model.ConnectionState, 16)
	protocols := make(chan model.Protocol, 4)
	statuses := make(chan model.TreadmillStatus, 16)
	records := make(chan model.LastRecord, 4)
	machineEvents := make(chan model.MachineEvent, 16)
	unregister := []func(){
		source.ListenToConnectionState(states),
		source.ListenToProtocol(protocols),
		source.ListenToStatus(statuses),
		source.ListenToLastRecord(records),
		source.ListenToMachineEvents(machineEvents),
	}

	go_func_utils.SafeGoGroup(logger, &s.wg, func() {
		defer func() {
			for _, fn := range unregister {
				fn()
			}
		}()
		state := model.Disconnected
		protocol := model.ProtocolNone
		for {
			select {
			case <-ctx.Done():
				return
			case state = <-states:
				device, ok := source.Device()
				s.publish(connectionMessage(state, protocol, device, ok))
			case protocol = <-protocols:
				device, ok := source.Device()
				s.publish(connectionMessage(state, protocol, device, ok))
			case st := <-statuses:
				s.publish(statusMessage(st))
			case r := <-records:
				s.publish(recordMessage(r))
			case ev := <-machineEvents:
				s.publish(eventMessage(ev))
			}
		}
	})
	return s
}

// publish remembers the latest message of each type for new clients
func (s *Server) publish(msg Message) {
	s.mu.Lock()
	s.latest[msg.Type] = msg
	s.mu.Unlock()
	s.messages.Notify(msg)
}

func (s *Server) snapshot() []Message {
	out := make([]Message, 0, len(s.latest))
	for _, typ := range []string{TypeConnection, TypeStatus, TypeRecord, TypeEvent} {
		if msg, ok := s.latest[typ]; ok {
			out = append(out, msg)
		}
	}
	return out
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("FeedServer: upgrade failed: %v", err)
		return
	}
	s.logger.Printf("FeedServer: client %s connected", r.RemoteAddr)

	send := make(chan Message, clientBuffer)
	s.mu.Lock()
	for _, msg := range s.snapshot() {
		send <- msg
	}
	unregister := s.messages.Listen(func(msg Message) {
		select {
		case send <- msg:
		default:
			// slow client, drop
		}
	})
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(s.ctx)
	go_func_utils.SafeGoGroup(s.logger, &s.wg, func() {
		// the feed is one-way; reading only detects the close
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	defer func() {
		unregister()
		cancel()
		conn.Close()
		s.logger.Printf("FeedServer: client %s disconnected", r.RemoteAddr)
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		case msg := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

// Start serves the feed on listen (host:port) in the background
func (s *Server) Start(listen string) {
	s.server = &http.Server{
		Addr:    listen,
		Handler: s.Handler(),
	}
	go_func_utils.SafeGoGroup(s.logger, &s.wg, func() {
		s.logger.Printf("FeedServer: serving ws://%s/ws", listen)
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Printf("FeedServer: server error: %v", err)
		}
	})
}

func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.logger.Printf("FeedServer: Shutting down")
		s.cancel()
		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			defer cancel()
			if err := s.server.Shutdown(ctx); err != nil {
				s.logger.Printf("FeedServer: Error shutting down: %v", err)
			}
		}
		s.wg.Wait()
		s.logger.Printf("FeedServer: Shutdown complete")
	})
}
