package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ilp-connector/pkg/ilp"
	"ilp-connector/pkg/model"
)

const (
	pluginTypePrepare = "prepare"
	pluginTypeReply   = "reply"

	pluginWriteTimeout = 10 * time.Second
)

// PluginMessage frames a packet on the plugin websocket. Data holds the JSON
// packet envelope; a reply carries the id of the prepare it answers.
type PluginMessage struct {
	ID   uint64          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// PluginEndpoint is a websocket client to a peer's plugin server. It must be
// connected with Connect before packets can be sent.
type PluginEndpoint struct {
	peerID string
	opts   model.PluginEndpointOptions
	dialer *websocket.Dialer
	log    *zap.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[uint64]chan ilp.Reply
	handler ilp.Handler
	nextID  uint64
	closed  atomic.Bool
}

func NewPluginEndpoint(peerID string, opts model.PluginEndpointOptions, log *zap.Logger) *PluginEndpoint {
	return &PluginEndpoint{
		peerID:  peerID,
		opts:    opts,
		dialer:  websocket.DefaultDialer,
		log:     log,
		pending: map[uint64]chan ilp.Reply{},
	}
}

func (e *PluginEndpoint) Connect(ctx context.Context) error {
	if e.closed.Load() {
		return ErrNotConnected
	}
	header := http.Header{}
	if e.opts.AuthToken != "" {
		header.Set("Authorization", "Bearer "+e.opts.AuthToken)
	}
	conn, resp, err := e.dialer.DialContext(ctx, e.opts.URL, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		e.log.Warn("plugin dial failed", zap.String("peer", e.peerID), zap.String("url", e.opts.URL), zap.Int("status", status), zap.Error(err))
		return err
	}

	e.mu.Lock()
	if e.conn != nil {
		_ = e.conn.Close()
	}
	e.conn = conn
	e.mu.Unlock()
	e.log.Info("plugin connected", zap.String("peer", e.peerID), zap.String("url", e.opts.URL))
	go e.readLoop(conn)
	return nil
}

func (e *PluginEndpoint) SendOutgoingRequest(ctx context.Context, p *ilp.Prepare) (ilp.Reply, error) {
	data, err := ilp.MarshalPrepare(p)
	if err != nil {
		return nil, err
	}

	ch := make(chan ilp.Reply, 1)
	e.mu.Lock()
	conn := e.conn
	if conn == nil {
		e.mu.Unlock()
		return nil, ilp.PeerUnreachableError("plugin for peer %s is not connected", e.peerID)
	}
	e.nextID++
	id := e.nextID
	e.pending[id] = ch
	e.mu.Unlock()
	defer e.forget(id)

	if err := e.write(conn, PluginMessage{ID: id, Type: pluginTypePrepare, Data: data}); err != nil {
		return nil, ilp.PeerUnreachableError("failed to send to peer %s", e.peerID)
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, ilp.PeerUnreachableError("plugin for peer %s disconnected", e.peerID)
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *PluginEndpoint) SetIncomingRequestHandler(h ilp.Handler) Endpoint {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
	return e
}

// Close drops the connection and fails pending requests.
func (e *PluginEndpoint) Close() error {
	e.closed.Store(true)
	e.mu.Lock()
	conn := e.conn
	e.conn = nil
	e.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (e *PluginEndpoint) forget(id uint64) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}

func (e *PluginEndpoint) write(conn *websocket.Conn, msg PluginMessage) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(pluginWriteTimeout))
	return conn.WriteJSON(msg)
}

func (e *PluginEndpoint) readLoop(conn *websocket.Conn) {
	defer e.disconnected(conn)
	for {
		var msg PluginMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !e.closed.Load() {
				e.log.Warn("plugin read failed", zap.String("peer", e.peerID), zap.Error(err))
			}
			return
		}
		switch msg.Type {
		case pluginTypeReply:
			e.deliver(msg)
		case pluginTypePrepare:
			go e.serve(conn, msg)
		default:
			e.log.Debug("ignoring plugin message", zap.String("peer", e.peerID), zap.String("type", msg.Type))
		}
	}
}

func (e *PluginEndpoint) deliver(msg PluginMessage) {
	reply, err := ilp.UnmarshalReply(msg.Data)
	if err != nil {
		e.log.Warn("invalid reply from plugin", zap.String("peer", e.peerID), zap.Uint64("id", msg.ID), zap.Error(err))
		return
	}
	e.mu.Lock()
	ch, ok := e.pending[msg.ID]
	delete(e.pending, msg.ID)
	e.mu.Unlock()
	if ok {
		ch <- reply
	}
}

func (e *PluginEndpoint) serve(conn *websocket.Conn, msg PluginMessage) {
	var reply ilp.Reply
	p, err := ilp.UnmarshalPrepare(msg.Data)
	if err == nil {
		e.mu.Lock()
		h := e.handler
		e.mu.Unlock()
		if h == nil {
			err = ilp.UnreachableError("peer %s has no handler", e.peerID)
		} else {
			ctx, cancel := context.WithDeadline(context.Background(), p.ExpiresAt)
			reply, err = h(ctx, p)
			cancel()
		}
	}
	if err != nil {
		reply = rejectFromError(err)
	}
	data, err := ilp.MarshalReply(reply)
	if err != nil {
		e.log.Error("encode plugin reply", zap.String("peer", e.peerID), zap.Error(err))
		return
	}
	if err := e.write(conn, PluginMessage{ID: msg.ID, Type: pluginTypeReply, Data: data}); err != nil {
		e.log.Warn("plugin reply failed", zap.String("peer", e.peerID), zap.Error(err))
	}
}

func (e *PluginEndpoint) disconnected(conn *websocket.Conn) {
	_ = conn.Close()
	e.mu.Lock()
	if e.conn == conn {
		e.conn = nil
	}
	pending := e.pending
	e.pending = map[uint64]chan ilp.Reply{}
	e.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
	e.log.Info("plugin disconnected", zap.String("peer", e.peerID))
}

// rejectFromError renders an error that escaped the pipeline. Without an
// error handler rule there is no own address to put in TriggeredBy.
func rejectFromError(err error) *ilp.Reject {
	var ie *ilp.Error
	if !errors.As(err, &ie) {
		ie = &ilp.Error{Code: ilp.CodeInternalError, Message: err.Error()}
	}
	return ie.Reject("")
}
