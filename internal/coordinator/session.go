package coordinator

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/ai4all/worker/internal/logging"
	"github.com/ai4all/worker/internal/wkerrors"
)

// registerAckTimeout bounds how long the session waits for a REGISTER_ACK
// before treating the coordinator as having failed authentication.
const registerAckTimeout = 30 * time.Second

// State is the coordinator session's connection state machine:
// Disconnected -> Connecting -> Connected -> Registered, looping back
// through Reconnecting on failure, with ShuttingDown as the terminal exit
// path.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateRegistered   State = "registered"
	StateReconnecting State = "reconnecting"
	StateShuttingDown State = "shutting_down"
)

// Config configures a Session's target and reconnect behavior.
type Config struct {
	URL                   string
	Name                  string
	Tags                  []string
	Capabilities          []string
	AuthToken             string
	ConnectTimeout        time.Duration
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	MaxReconnectAttempts  int // 0 means unlimited
}

// Session manages one logical, auto-reconnecting connection to the
// coordinator. Incoming envelopes are delivered on Inbound(); outgoing
// envelopes are queued through Send. While Reconnecting, outgoing sends are
// buffered and flushed once the session reaches Registered again
//.
type Session struct {
	cfg Config
	log *logging.Logger

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	workerID   string
	buffered   []Envelope

	inbound chan Envelope
	fatal   chan error
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewSession returns a Session that has not yet connected.
func NewSession(cfg Config, workerID string, log *logging.Logger) *Session {
	if log == nil {
		log = logging.Default()
	}
	return &Session{
		cfg:      cfg,
		workerID: workerID,
		log:      log.WithComponent("coordinator_session"),
		state:    StateDisconnected,
		inbound:  make(chan Envelope, 64),
		fatal:    make(chan error, 1),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Inbound returns the channel of envelopes received from the coordinator.
func (s *Session) Inbound() <-chan Envelope {
	return s.inbound
}

// Fatal returns a channel that receives exactly one error if the session
// hits a condition that must not be retried through the reconnect loop —
// registration rejected, the ack wait timing out, or an Error envelope
// arriving during registration. Run exits on its own once it sends here;
// callers driving Run on a goroutine should select on this channel to stop
// the rest of the process rather than leaving the session to loop forever.
func (s *Session) Fatal() <-chan error {
	return s.fatal
}

func (s *Session) sendFatal(err error) {
	select {
	case s.fatal <- err:
	default:
	}
}

// State returns the session's current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run drives the connect/register/read loop until ctx is cancelled or Stop
// is called, reconnecting with exponential backoff on any failure
//. It is intended to be run on its own goroutine.
func (s *Session) Run(ctx context.Context) {
	defer close(s.stopped)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.InitialReconnectDelay
	bo.MaxInterval = s.cfg.MaxReconnectDelay
	bo.MaxElapsedTime = 0
	bo.RandomizationFactor = 0 // doubling with no jitter, per the reconnect behavior this mirrors
	bo.Reset()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			s.setState(StateShuttingDown)
			return
		case <-s.stop:
			s.setState(StateShuttingDown)
			return
		default:
		}

		if err := s.connectAndRegister(ctx); err != nil {
			if wkerrors.AsWorkerError(err).Family == wkerrors.FamilyAuthentication {
				s.log.Error("coordinator authentication failed, not retrying", map[string]interface{}{"error": err.Error()})
				s.setState(StateShuttingDown)
				s.sendFatal(err)
				return
			}

			attempts++
			s.log.Warn("coordinator connection failed", map[string]interface{}{"error": err.Error(), "attempt": attempts})
			if s.cfg.MaxReconnectAttempts > 0 && attempts >= s.cfg.MaxReconnectAttempts {
				s.log.Error("exceeded max reconnect attempts", nil)
				s.sendFatal(err)
				return
			}
			s.setState(StateReconnecting)

			delay := bo.NextBackOff()
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			}
			continue
		}

		attempts = 0
		bo.Reset()
		s.readLoop(ctx)

		s.mu.Lock()
		shuttingDown := s.state == StateShuttingDown
		s.mu.Unlock()
		if shuttingDown {
			return
		}
		s.setState(StateReconnecting)
	}
}

func (s *Session) connectAndRegister(ctx context.Context) error {
	s.setState(StateConnecting)

	dialCtx := ctx
	if s.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
	}

	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return wkerrors.Wrap(wkerrors.CodeConfig, wkerrors.FamilyConfiguration, "parse coordinator url", err)
	}

	header := http.Header{}
	if s.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+s.cfg.AuthToken)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), header)
	if err != nil {
		return wkerrors.Wrap(wkerrors.CodeConnection, wkerrors.FamilyConnection, "dial coordinator", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.state = StateConnected
	s.mu.Unlock()

	reg, err := NewEnvelope(TypeRegister, RegisterPayload{
		WorkerID:     s.workerID,
		Name:         s.cfg.Name,
		Tags:         s.cfg.Tags,
		Capabilities: s.cfg.Capabilities,
		AuthToken:    s.cfg.AuthToken,
	})
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(reg); err != nil {
		return wkerrors.Wrap(wkerrors.CodeConnection, wkerrors.FamilyConnection, "send register", err)
	}

	conn.SetReadDeadline(time.Now().Add(registerAckTimeout))
	var ack Envelope
	err = conn.ReadJSON(&ack)
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return wkerrors.New(wkerrors.CodeAuthFailed, wkerrors.FamilyAuthentication, "timed out waiting for register ack")
		}
		return wkerrors.Wrap(wkerrors.CodeConnection, wkerrors.FamilyConnection, "read register ack", err)
	}
	if ack.Type == TypeError {
		var errPayload ErrorPayload
		_ = json.Unmarshal(ack.Payload, &errPayload)
		return wkerrors.New(wkerrors.CodeAuthFailed, wkerrors.FamilyAuthentication, "coordinator rejected registration: "+errPayload.Message)
	}
	if ack.Type != TypeRegisterAck {
		return wkerrors.New(wkerrors.CodeProtocolVersion, wkerrors.FamilyProtocol, "expected REGISTER_ACK, got "+string(ack.Type))
	}
	if !VersionCompatible(ack.ProtocolMajor, ack.ProtocolMinor) {
		return wkerrors.New(wkerrors.CodeProtocolVersion, wkerrors.FamilyProtocol, "incompatible coordinator protocol version")
	}

	var ackPayload RegisterAckPayload
	if err := json.Unmarshal(ack.Payload, &ackPayload); err == nil && !ackPayload.Accepted {
		return wkerrors.New(wkerrors.CodeAuthFailed, wkerrors.FamilyAuthentication, "registration rejected: "+ackPayload.Reason)
	}

	s.setState(StateRegistered)
	s.flushBuffered()
	s.log.Info("registered with coordinator", map[string]interface{}{"worker_id": s.workerID})
	return nil
}

func (s *Session) readLoop(ctx context.Context) {
	s.mu.Lock()
	current := s.conn
	s.mu.Unlock()
	done := make(chan struct{})
	defer close(done)
	if current != nil {
		// ReadJSON does not observe ctx or Stop; closing the socket unblocks it.
		go func() {
			select {
			case <-ctx.Done():
			case <-s.stop:
			case <-done:
				return
			}
			current.Close()
		}()
	}

	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			s.log.Warn("coordinator read failed", map[string]interface{}{"error": err.Error()})
			conn.Close()
			return
		}

		select {
		case s.inbound <- env:
		case <-ctx.Done():
			return
		}
	}
}

// Send queues env for delivery. While the session is not Registered, env is
// buffered and flushed on the next successful registration.
func (s *Session) Send(env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRegistered || s.conn == nil {
		s.buffered = append(s.buffered, env)
		return nil
	}

	if err := s.conn.WriteJSON(env); err != nil {
		s.buffered = append(s.buffered, env)
		return wkerrors.Wrap(wkerrors.CodeConnection, wkerrors.FamilyConnection, "send to coordinator", err)
	}
	return nil
}

func (s *Session) flushBuffered() {
	s.mu.Lock()
	pending := s.buffered
	s.buffered = nil
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return
	}
	for _, env := range pending {
		if err := conn.WriteJSON(env); err != nil {
			s.log.Warn("failed to flush buffered envelope", map[string]interface{}{"error": err.Error(), "type": string(env.Type)})
			s.mu.Lock()
			s.buffered = append(s.buffered, env)
			s.mu.Unlock()
		}
	}
}

// Stop initiates a graceful shutdown of the session loop.
func (s *Session) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.stopped

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
}

// SendHeartbeat is a convenience wrapper building and sending a HEARTBEAT envelope.
func (s *Session) SendHeartbeat(activeTaskIDs []string, queueDepth int, uptime time.Duration) error {
	env, err := NewEnvelope(TypeHeartbeat, HeartbeatPayload{
		ActiveTaskIDs: activeTaskIDs,
		QueueDepth:    queueDepth,
		UptimeSeconds: int64(uptime.Seconds()),
	})
	if err != nil {
		return err
	}
	return s.Send(env)
}

// SendTaskResult is a convenience wrapper building and sending a TASK_RESULT envelope.
func (s *Session) SendTaskResult(payload TaskResultPayload) error {
	env, err := NewEnvelope(TypeTaskResult, payload)
	if err != nil {
		return err
	}
	return s.Send(env)
}
