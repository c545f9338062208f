package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/ampguard/telemetry-core/internal/identity"
	"github.com/ampguard/telemetry-core/pkg/apperr"
	"github.com/ampguard/telemetry-core/pkg/hub"
	"github.com/ampguard/telemetry-core/pkg/log"
	"github.com/ampguard/telemetry-core/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// idleTimeout closes a stream connection that has sent no ping and no
// subscribe/unsubscribe frame for this long.
const idleTimeout = 60 * time.Second

// closeWriteWait bounds how long a close control frame is given to reach
// the peer before the connection is torn down regardless.
const closeWriteWait = 5 * time.Second

// Private-use close codes (RFC 6455 §7.4.2 reserves 4000-4999) distinguishing
// why the server ended a stream session, since 1000/1001 don't say why.
const (
	streamCloseAuthFailed   = 4001
	streamCloseShuttingDown = 4002
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamRegistry tracks every live /stream websocket so the process can send
// each one a close frame while draining; http.Server.Shutdown never sees
// these connections once they're hijacked by the upgrade, so nothing else
// would ever tell them to disconnect.
type streamRegistry struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{conns: make(map[*websocket.Conn]struct{})}
}

func (r *streamRegistry) add(conn *websocket.Conn) {
	r.mu.Lock()
	r.conns[conn] = struct{}{}
	r.mu.Unlock()
}

func (r *streamRegistry) remove(conn *websocket.Conn) {
	r.mu.Lock()
	delete(r.conns, conn)
	r.mu.Unlock()
}

// closeAll sends a close frame to every registered connection. It does not
// wait for the peer's acknowledgement; each connection's own read loop
// notices the close and tears itself down.
func (r *streamRegistry) closeAll(code int, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(closeWriteWait)
	for conn := range r.conns {
		conn.WriteControl(websocket.CloseMessage, msg, deadline)
	}
}

type clientFrame struct {
	Type       string `json:"type"`
	LocationID string `json:"location_id"`
	BatteryID  string `json:"battery_id"`
}

type serverFrame struct {
	Type       string      `json:"type"`
	Message    string      `json:"message,omitempty"`
	LocationID string      `json:"location_id,omitempty"`
	BatteryID  string      `json:"battery_id,omitempty"`
	Data       interface{} `json:"data,omitempty"`
	Severity   string      `json:"severity,omitempty"`
	Detail     string      `json:"detail,omitempty"`
	Timestamp  string      `json:"timestamp"`
}

func nowStamp() string { return time.Now().UTC().Format(time.RFC3339) }

// resolveStreamIdentity authenticates a /stream request. Browser websocket
// clients cannot set an Authorization header on the handshake, so a token
// query parameter is accepted alongside the bearer header used everywhere
// else.
func (s *server) resolveStreamIdentity(r *http.Request) (*identity.Resolved, error) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return nil, apperr.New(apperr.Unauthorized, "missing bearer token")
	}
	return s.deps.Identity.Resolve(r.Context(), token)
}

// rejectStream upgrades just far enough to hand back a close frame carrying
// reason, then tears the connection down. Rejecting pre-upgrade with a plain
// HTTP status would never give the client a close code to read.
func (s *server) rejectStream(w http.ResponseWriter, r *http.Request, code int, reason string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithComponent("api").Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
}

// handleStream upgrades to a websocket and relays Subscription Hub events
// filtered to the rooms the client asks to join.
func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	resolved, err := s.resolveStreamIdentity(r)
	if err != nil {
		s.rejectStream(w, r, streamCloseAuthFailed, "authentication required")
		return
	}
	if !identity.CanActOnAlerts(resolved.Role) {
		s.rejectStream(w, r, streamCloseAuthFailed, "Engineer access required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithComponent("api").Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	s.streams.add(conn)
	defer s.streams.remove(conn)

	sub := hub.NewSubscriber(uuid.NewString())
	defer s.deps.Hub.Remove(sub)

	writeCh := make(chan serverFrame, hub.QueueDepth)
	done := make(chan struct{})
	var closeDone sync.Once
	stop := func() { closeDone.Do(func() { close(done) }) }

	go s.streamWriter(conn, writeCh, stop)
	defer close(writeCh)

	writeCh <- serverFrame{Type: "connected", Message: "subscription stream ready", Timestamp: nowStamp()}

	go s.streamHubRelay(sub, writeCh, done)

	conn.SetReadDeadline(time.Now().Add(idleTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		return nil
	})

	for {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			stop()
			return
		}
		conn.SetReadDeadline(time.Now().Add(idleTimeout))

		switch frame.Type {
		case "subscribe_location":
			s.deps.Hub.Subscribe(sub, hub.SiteRoom(frame.LocationID))
			writeCh <- serverFrame{Type: "subscribed", LocationID: frame.LocationID, Timestamp: nowStamp()}
		case "unsubscribe_location":
			s.deps.Hub.Unsubscribe(sub, hub.SiteRoom(frame.LocationID))
		case "subscribe_battery":
			s.deps.Hub.Subscribe(sub, hub.BatteryRoom(frame.BatteryID))
			writeCh <- serverFrame{Type: "subscribed", BatteryID: frame.BatteryID, Timestamp: nowStamp()}
		case "unsubscribe_battery":
			s.deps.Hub.Unsubscribe(sub, hub.BatteryRoom(frame.BatteryID))
		case "ping":
			writeCh <- serverFrame{Type: "pong", Timestamp: nowStamp()}
		default:
			writeCh <- serverFrame{Type: "error", Detail: "unrecognized frame type", Timestamp: nowStamp()}
		}
	}
}

// streamHubRelay forwards hub events destined for sub onto writeCh, mapping
// each hub.Event into its wire frame shape.
func (s *server) streamHubRelay(sub *hub.Subscriber, writeCh chan<- serverFrame, done <-chan struct{}) {
	for {
		select {
		case ev, ok := <-sub.Send:
			if !ok {
				return
			}
			frame := toStreamFrame(ev)
			select {
			case writeCh <- frame:
			case <-done:
				return
			}
		case <-done:
			return
		}
	}
}

func toStreamFrame(ev hub.Event) serverFrame {
	frame := serverFrame{BatteryID: ev.BatteryID, LocationID: ev.SiteID, Timestamp: ev.Timestamp.UTC().Format(time.RFC3339)}

	switch ev.Type {
	case types.HubEventTelemetryUpdate:
		frame.Type = "telemetry_update"
		if sample, ok := ev.Payload.(types.Sample); ok {
			frame.Data = toSampleDTO(sample)
		}
	case types.HubEventAlert:
		frame.Type = "alert"
		if alert, ok := ev.Payload.(*types.Alert); ok {
			frame.Severity = string(alert.Severity)
			frame.Data = toAlertDTO(*alert)
		}
	case types.HubEventBatteryStatus:
		frame.Type = "battery_status_update"
		frame.Data = ev.Payload
	default:
		frame.Type = string(ev.Type)
		frame.Data = ev.Payload
	}
	return frame
}

// streamWriter owns the connection's write side; gorilla/websocket
// connections are not safe for concurrent writers.
func (s *server) streamWriter(conn *websocket.Conn, writeCh <-chan serverFrame, stop func()) {
	for frame := range writeCh {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(frame); err != nil {
			stop()
			return
		}
	}
}
