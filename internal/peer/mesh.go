package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	libp2pPeer "github.com/libp2p/go-libp2p/core/peer"

	"github.com/ai4all/worker/internal/logging"
	"github.com/ai4all/worker/internal/wkerrors"
)

// ProtocolMajor/ProtocolMinor are this worker's peer-protocol version
//.
const (
	ProtocolMajor = 1
	ProtocolMinor = 0
)

// helloAckTimeout bounds how long an outbound handshake waits for the
// remote side's HelloAck before giving up on the connection.
const helloAckTimeout = 5 * time.Second

// Inbound is a Message received from a specific peer, handed to the
// Supervisor's event loop.
type Inbound struct {
	From ID
	Msg  Message
}

// connection is one live mesh link: a socket plus its outbound write queue.
type connection struct {
	conn   net.Conn
	out    chan Message
	peerID ID
}

// Mesh listens for and dials peer connections, maintaining a bounded set of
// live links and fanning inbound frames into a single channel. Each
// connection gets its own writer goroutine draining a per-peer channel,
// the same per-client fan-out shape used for WebSocket clients, adapted
// here to raw framed TCP peers.
type Mesh struct {
	selfID   ID
	maxPeers int
	log      *logging.Logger

	mu    sync.Mutex
	conns map[ID]*connection

	inbound chan Inbound

	listener net.Listener
	wg       sync.WaitGroup
}

// NewMesh returns a Mesh identified as selfID, admitting up to maxPeers
// simultaneous connections.
func NewMesh(selfID ID, maxPeers int, log *logging.Logger) *Mesh {
	if log == nil {
		log = logging.Default()
	}
	return &Mesh{
		selfID:   selfID,
		maxPeers: maxPeers,
		log:      log.WithComponent("peer_mesh"),
		conns:    make(map[ID]*connection),
		inbound:  make(chan Inbound, 256),
	}
}

// Inbound returns the channel of messages received from any peer.
func (m *Mesh) Inbound() <-chan Inbound {
	return m.inbound
}

// Listen starts accepting inbound peer connections on addr.
func (m *Mesh) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return wkerrors.Wrap(wkerrors.CodeConnection, wkerrors.FamilyConnection, "listen for peer connections", err)
	}
	m.listener = ln

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go m.handleAccepted(conn)
		}
	}()
	return nil
}

// Addr returns the mesh listener's bound address, or "" if not listening.
func (m *Mesh) Addr() string {
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// Close stops listening and tears down every connection.
func (m *Mesh) Close() {
	if m.listener != nil {
		m.listener.Close()
	}
	m.mu.Lock()
	conns := make([]*connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.conns = make(map[ID]*connection)
	m.mu.Unlock()

	for _, c := range conns {
		close(c.out)
		c.conn.Close()
	}
	m.wg.Wait()
}

func (m *Mesh) handleAccepted(conn net.Conn) {
	peerID, err := m.serverHandshake(conn)
	if err != nil {
		m.log.Warn("peer handshake failed", map[string]interface{}{"error": err.Error(), "remote": conn.RemoteAddr().String()})
		conn.Close()
		return
	}
	m.adopt(peerID, conn)
}

// Dial connects out to a known peer address and performs the client side
// of the handshake.
func (m *Mesh) Dial(ctx context.Context, addr string) (ID, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", wkerrors.Wrap(wkerrors.CodeConnection, wkerrors.FamilyConnection, "dial peer "+addr, err)
	}

	peerID, err := m.clientHandshake(conn)
	if err != nil {
		conn.Close()
		return "", err
	}
	m.adopt(peerID, conn)
	return peerID, nil
}

func (m *Mesh) serverHandshake(conn net.Conn) (ID, error) {
	msg, err := ReadFrame(conn)
	if err != nil {
		return "", fmt.Errorf("read hello: %w", err)
	}
	if msg.Type != TypeHello {
		return "", fmt.Errorf("expected hello, got %s", msg.Type)
	}
	var hello HelloPayload
	if err := json.Unmarshal(msg.Payload, &hello); err != nil {
		return "", fmt.Errorf("decode hello: %w", err)
	}
	if !versionCompatible(hello.ProtocolMajor, hello.ProtocolMinor) {
		return "", wkerrors.New(wkerrors.CodeProtocolVersion, wkerrors.FamilyProtocol, "incompatible peer protocol version")
	}

	ack, _ := json.Marshal(HelloPayload{WorkerID: string(m.selfID), ProtocolMajor: ProtocolMajor, ProtocolMinor: ProtocolMinor})
	if err := WriteFrame(conn, Message{Type: TypeHelloAck, From: string(m.selfID), Payload: ack}); err != nil {
		return "", fmt.Errorf("write hello ack: %w", err)
	}
	return libp2pPeer.ID(hello.WorkerID), nil
}

func (m *Mesh) clientHandshake(conn net.Conn) (ID, error) {
	hello, _ := json.Marshal(HelloPayload{WorkerID: string(m.selfID), ProtocolMajor: ProtocolMajor, ProtocolMinor: ProtocolMinor})
	if err := WriteFrame(conn, Message{Type: TypeHello, From: string(m.selfID), Payload: hello}); err != nil {
		return "", fmt.Errorf("write hello: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(helloAckTimeout))
	msg, err := ReadFrame(conn)
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		return "", fmt.Errorf("read hello ack: %w", err)
	}
	if msg.Type != TypeHelloAck {
		return "", fmt.Errorf("expected hello_ack, got %s", msg.Type)
	}
	var ack HelloPayload
	if err := json.Unmarshal(msg.Payload, &ack); err != nil {
		return "", fmt.Errorf("decode hello ack: %w", err)
	}
	if !versionCompatible(ack.ProtocolMajor, ack.ProtocolMinor) {
		return "", wkerrors.New(wkerrors.CodeProtocolVersion, wkerrors.FamilyProtocol, "incompatible peer protocol version")
	}
	return libp2pPeer.ID(ack.WorkerID), nil
}

// versionCompatible applies the triple compatibility rule: same major, and
// the local worker's minor must be >= the remote's.
func versionCompatible(remoteMajor, remoteMinor int) bool {
	return remoteMajor == ProtocolMajor && ProtocolMinor >= remoteMinor
}

func (m *Mesh) adopt(peerID ID, conn net.Conn) {
	m.mu.Lock()
	if len(m.conns) >= m.maxPeers {
		m.mu.Unlock()
		conn.Close()
		m.log.Warn("rejecting peer connection, mesh at capacity", map[string]interface{}{"peer_id": string(peerID)})
		return
	}
	c := &connection{conn: conn, out: make(chan Message, 64), peerID: peerID}
	m.conns[peerID] = c
	m.mu.Unlock()

	m.wg.Add(2)
	go m.readLoop(c)
	go m.writeLoop(c)
}

func (m *Mesh) readLoop(c *connection) {
	defer m.wg.Done()
	for {
		msg, err := ReadFrame(c.conn)
		if err != nil {
			m.dropConnection(c.peerID)
			return
		}
		select {
		case m.inbound <- Inbound{From: c.peerID, Msg: msg}:
		default:
			m.log.Warn("dropping inbound peer message, channel full", map[string]interface{}{"peer_id": string(c.peerID)})
		}
	}
}

func (m *Mesh) writeLoop(c *connection) {
	defer m.wg.Done()
	for msg := range c.out {
		if err := WriteFrame(c.conn, msg); err != nil {
			m.log.Warn("peer write failed", map[string]interface{}{"peer_id": string(c.peerID), "error": err.Error()})
			m.dropConnection(c.peerID)
			return
		}
	}
}

func (m *Mesh) dropConnection(id ID) {
	m.mu.Lock()
	c, ok := m.conns[id]
	if ok {
		delete(m.conns, id)
	}
	m.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}

// Send delivers msg to a single connected peer. It returns an error if the
// peer is not currently connected.
func (m *Mesh) Send(id ID, msg Message) error {
	m.mu.Lock()
	c, ok := m.conns[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("peer %s not connected", id)
	}
	select {
	case c.out <- msg:
		return nil
	default:
		return fmt.Errorf("peer %s send queue full", id)
	}
}

// Broadcast delivers msg to every connected peer, best-effort.
func (m *Mesh) Broadcast(msg Message) {
	m.mu.Lock()
	targets := make([]*connection, 0, len(m.conns))
	for _, c := range m.conns {
		targets = append(targets, c)
	}
	m.mu.Unlock()

	for _, c := range targets {
		select {
		case c.out <- msg:
		default:
			m.log.Warn("dropping broadcast to slow peer", map[string]interface{}{"peer_id": string(c.peerID)})
		}
	}
}

// SendToGroup delivers msg to every connected peer in ids, best-effort.
func (m *Mesh) SendToGroup(ids []ID, msg Message) {
	for _, id := range ids {
		_ = m.Send(id, msg)
	}
}

// ConnectionCount returns the number of live peer connections.
func (m *Mesh) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}
