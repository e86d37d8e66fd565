package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/chatwarden/warden/util"

	"github.com/gorilla/websocket"
)

const (
	DefaultGatewayHost = "wss://gateway.discord.gg"
	GatewayVersion     = 10
)

const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatACK   = 11
)

const (
	IntentGuilds         = 1 << 0
	IntentGuildMembers   = 1 << 1
	IntentGuildMessages  = 1 << 9
	IntentDirectMessages = 1 << 12
	IntentMessageContent = 1 << 15

	DefaultIntents = IntentGuilds | IntentGuildMembers | IntentGuildMessages | IntentDirectMessages | IntentMessageContent
)

// Close codes after which reconnecting can not help.
var fatalCloseCodes = map[int]string{
	4004: "authentication failed",
	4010: "invalid shard",
	4011: "sharding required",
	4012: "invalid API version",
	4013: "invalid intents",
	4014: "disallowed intents",
}

// Close codes after which the session can not be resumed.
var freshSessionCloseCodes = map[int]bool{
	4007: true, // invalid seq
	4009: true, // session timed out
}

type FatalGatewayError struct {
	Code   int
	Reason string
}

func (e *FatalGatewayError) Error() string {
	return fmt.Sprintf("gateway closed with code %d: %s", e.Code, e.Reason)
}

type gatewayPayload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type identifyData struct {
	Token      string            `json:"token"`
	Intents    int               `json:"intents"`
	Properties map[string]string `json:"properties"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// One decoded dispatch event. Exactly one of the typed fields is set for the
// event types we handle; others only carry Raw.
type Event struct {
	Type              string
	Seq               int64
	Raw               json.RawMessage
	Ready             *Ready
	GuildCreate       *GuildCreate
	MessageCreate     *Message
	InteractionCreate *Interaction
}

func decodeEvent(typ string, seq int64, raw json.RawMessage) (*Event, error) {
	evt := &Event{Type: typ, Seq: seq, Raw: raw}
	var err error
	switch typ {
	case "READY":
		evt.Ready = &Ready{}
		err = json.Unmarshal(raw, evt.Ready)
	case "GUILD_CREATE":
		evt.GuildCreate = &GuildCreate{}
		err = json.Unmarshal(raw, evt.GuildCreate)
	case "MESSAGE_CREATE":
		evt.MessageCreate = &Message{}
		err = json.Unmarshal(raw, evt.MessageCreate)
	case "INTERACTION_CREATE":
		evt.InteractionCreate = &Interaction{}
		err = json.Unmarshal(raw, evt.InteractionCreate)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s event: %w", typ, err)
	}
	return evt, nil
}

// Scheduling key: events with the same key are handled in order.
func (evt *Event) Key() string {
	switch {
	case evt.MessageCreate != nil:
		return "channel/" + evt.MessageCreate.ChannelID
	case evt.InteractionCreate != nil:
		return "interaction/" + evt.InteractionCreate.ID
	case evt.GuildCreate != nil:
		return "guild/" + evt.GuildCreate.ID
	default:
		return "type/" + evt.Type
	}
}

type GatewayCallbacks struct {
	Ready             func(ctx context.Context, evt *Ready) error
	GuildCreate       func(ctx context.Context, evt *GuildCreate) error
	MessageCreate     func(ctx context.Context, evt *Message) error
	InteractionCreate func(ctx context.Context, evt *Interaction) error
}

func (gc *GatewayCallbacks) EventHandler(ctx context.Context, evt *Event) error {
	switch {
	case evt.Ready != nil && gc.Ready != nil:
		return gc.Ready(ctx, evt.Ready)
	case evt.GuildCreate != nil && gc.GuildCreate != nil:
		return gc.GuildCreate(ctx, evt.GuildCreate)
	case evt.MessageCreate != nil && gc.MessageCreate != nil:
		return gc.MessageCreate(ctx, evt.MessageCreate)
	case evt.InteractionCreate != nil && gc.InteractionCreate != nil:
		return gc.InteractionCreate(ctx, evt.InteractionCreate)
	default:
		return nil
	}
}

// Receives dispatch events over the gateway websocket and hands them to the
// scheduler, reconnecting (and resuming, when possible) until the context is
// cancelled or the gateway rejects the session for good.
type Gateway struct {
	Host      string
	Token     string
	Intents   int
	Scheduler *Scheduler
	Logger    *slog.Logger
	Dialer    *websocket.Dialer

	// upper bound for reconnect backoff
	MaxBackoff time.Duration

	lk        sync.Mutex
	sessionID string
	resumeURL string
	seq       int64
}

func NewGateway(host, token string, sched *Scheduler, logger *slog.Logger) *Gateway {
	if host == "" {
		host = DefaultGatewayHost
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		Host:       host,
		Token:      token,
		Intents:    DefaultIntents,
		Scheduler:  sched,
		Logger:     logger.With("component", "gateway"),
		Dialer:     websocket.DefaultDialer,
		MaxBackoff: time.Minute,
	}
}

func (g *Gateway) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		connected, err := g.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		var fatal *FatalGatewayError
		if errors.As(err, &fatal) {
			return err
		}
		if connected {
			backoff = time.Second
		}
		g.Logger.Warn("gateway connection lost, reconnecting", "err", err, "backoff", backoff)
		gatewayReconnects.Inc()
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > g.MaxBackoff {
			backoff = g.MaxBackoff
		}
	}
}

func (g *Gateway) resumeState() (sessionID, host string, seq int64) {
	g.lk.Lock()
	defer g.lk.Unlock()
	return g.sessionID, g.resumeURL, g.seq
}

func (g *Gateway) resetSession() {
	g.lk.Lock()
	defer g.lk.Unlock()
	g.sessionID = ""
	g.resumeURL = ""
	g.seq = 0
}

// Runs one websocket connection. The bool reports whether the handshake
// completed, for backoff accounting.
func (g *Gateway) session(parent context.Context) (bool, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sessionID, host, seq := g.resumeState()
	resuming := sessionID != ""
	if !resuming || host == "" {
		host = g.Host
	}
	u, err := util.GatewayURL(host, GatewayVersion)
	if err != nil {
		return false, err
	}

	con, _, err := g.Dialer.DialContext(ctx, u, nil)
	if err != nil {
		return false, fmt.Errorf("dialing gateway: %w", err)
	}
	defer con.Close()

	var writeLk sync.Mutex
	send := func(op int, d interface{}) error {
		raw, err := json.Marshal(d)
		if err != nil {
			return err
		}
		writeLk.Lock()
		defer writeLk.Unlock()
		con.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return con.WriteJSON(gatewayPayload{Op: op, D: raw})
	}

	var hello gatewayPayload
	con.SetReadDeadline(time.Now().Add(30 * time.Second))
	if err := con.ReadJSON(&hello); err != nil {
		return false, fmt.Errorf("reading hello: %w", err)
	}
	con.SetReadDeadline(time.Time{})
	if hello.Op != opHello {
		return false, fmt.Errorf("expected hello, got op %d", hello.Op)
	}
	var hd helloData
	if err := json.Unmarshal(hello.D, &hd); err != nil || hd.HeartbeatInterval <= 0 {
		return false, fmt.Errorf("invalid hello payload")
	}

	if resuming {
		g.Logger.Info("resuming gateway session", "session", sessionID, "seq", seq)
		err = send(opResume, resumeData{Token: g.Token, SessionID: sessionID, Seq: seq})
	} else {
		err = send(opIdentify, identifyData{
			Token:   g.Token,
			Intents: g.Intents,
			Properties: map[string]string{
				"os":      runtime.GOOS,
				"browser": "warden",
				"device":  "warden",
			},
		})
	}
	if err != nil {
		return false, fmt.Errorf("sending handshake: %w", err)
	}

	acked := make(chan struct{}, 1)
	go g.heartbeat(ctx, con, time.Duration(hd.HeartbeatInterval)*time.Millisecond, send, acked)
	go func() {
		<-ctx.Done()
		// a normal closure ends the session; only send one on shutdown, so
		// reconnects can still resume
		if parent.Err() != nil {
			con.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		}
		con.Close()
	}()

	for {
		var p gatewayPayload
		if err := con.ReadJSON(&p); err != nil {
			return true, g.closeError(err)
		}
		switch p.Op {
		case opDispatch:
			if err := g.dispatch(ctx, &p); err != nil {
				return true, err
			}
		case opHeartbeat:
			_, _, seq := g.resumeState()
			if err := send(opHeartbeat, seq); err != nil {
				return true, err
			}
		case opHeartbeatACK:
			select {
			case acked <- struct{}{}:
			default:
			}
		case opReconnect:
			return true, fmt.Errorf("gateway requested reconnect")
		case opInvalidSession:
			var resumable bool
			if err := json.Unmarshal(p.D, &resumable); err != nil {
				// treated as not resumable
				g.Logger.Debug("unexpected invalid session payload", "d", string(p.D), "err", err)
			}
			if !resumable {
				g.resetSession()
			}
			// the gateway wants a short random wait before the next identify
			time.Sleep(time.Duration(1000+rand.Intn(4000)) * time.Millisecond)
			return true, fmt.Errorf("invalid session (resumable=%v)", resumable)
		}
	}
}

func (g *Gateway) closeError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if reason, ok := fatalCloseCodes[ce.Code]; ok {
			return &FatalGatewayError{Code: ce.Code, Reason: reason}
		}
		if freshSessionCloseCodes[ce.Code] {
			g.resetSession()
		}
	}
	return fmt.Errorf("reading gateway: %w", err)
}

func (g *Gateway) dispatch(ctx context.Context, p *gatewayPayload) error {
	var seq int64
	if p.S != nil {
		seq = *p.S
		g.lk.Lock()
		g.seq = seq
		g.lk.Unlock()
	}
	gatewayEvents.WithLabelValues(p.T).Inc()

	evt, err := decodeEvent(p.T, seq, p.D)
	if err != nil {
		// a single undecodable event is not worth dropping the connection
		g.Logger.Warn("dropping gateway event", "type", p.T, "err", err)
		return nil
	}
	switch p.T {
	case "READY":
		g.lk.Lock()
		g.sessionID = evt.Ready.SessionID
		g.resumeURL = evt.Ready.ResumeGatewayURL
		g.lk.Unlock()
		g.Logger.Info("gateway session ready", "user", evt.Ready.User.ID, "guilds", len(evt.Ready.Guilds))
	case "RESUMED":
		g.Logger.Info("gateway session resumed")
	}
	if g.Scheduler == nil {
		return nil
	}
	return g.Scheduler.AddWork(ctx, evt.Key(), evt)
}

// Sends heartbeats until ctx is done. A missed ACK means a zombied
// connection, which is closed so the read loop reconnects.
func (g *Gateway) heartbeat(ctx context.Context, con *websocket.Conn, interval time.Duration, send func(int, interface{}) error, acked <-chan struct{}) {
	// first beat is jittered
	first := time.Duration(rand.Int63n(int64(interval)))
	timer := time.NewTimer(first)
	defer timer.Stop()

	awaiting := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-acked:
			awaiting = false
			continue
		case <-timer.C:
		}
		if awaiting {
			g.Logger.Warn("heartbeat not acknowledged, dropping connection")
			con.Close()
			return
		}
		_, _, seq := g.resumeState()
		var d interface{}
		if seq > 0 {
			d = seq
		}
		if err := send(opHeartbeat, d); err != nil {
			g.Logger.Warn("failed to send heartbeat", "err", err)
			con.Close()
			return
		}
		awaiting = true
		timer.Reset(interval)
	}
}
