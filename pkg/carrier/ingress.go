package carrier

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/contrib/websocket"

	"github.com/teslashibe/go-dialtone/pkg/playback"
	"github.com/teslashibe/go-dialtone/pkg/session"
)

// Close codes sent when a stream violates the protocol.
const (
	closeProtocolError   = 1002
	closeUnsupportedData = 1003
	closePolicyViolation = 1008
	closeInternalError   = 1011
)

// ErrLinkClosed is returned when writing to a closed media stream.
var ErrLinkClosed = errors.New("carrier: media stream closed")

// SessionFactory builds a session for a freshly started stream. The
// returned session is registered and run by the ingress.
type SessionFactory func(info StartInfo, link *Conn) (*session.Session, error)

// Ingress owns the media stream WebSocket endpoint. Each connection
// carries exactly one call.
type Ingress struct {
	token    string
	registry *session.Registry
	factory  SessionFactory
	log      *slog.Logger
}

// NewIngress creates the media endpoint handler. token is the shared
// secret expected in the connection URL; empty disables the check.
func NewIngress(token string, registry *session.Registry, factory SessionFactory, logger *slog.Logger) *Ingress {
	return &Ingress{
		token:    token,
		registry: registry,
		factory:  factory,
		log:      logger.With("component", "carrier.ingress"),
	}
}

// Handle runs one media stream connection to completion.
func (in *Ingress) Handle(ws *websocket.Conn) {
	if in.token != "" && ws.Query("token") != in.token {
		in.log.Warn("media stream rejected, bad token")
		in.closeWith(ws, closePolicyViolation, "invalid token")
		return
	}

	link := newConn(ws)
	var sess *session.Session
	defer func() {
		if sess != nil {
			sess.PostCarrierStop()
		} else {
			link.Close()
		}
	}()

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			in.log.Warn("binary frame on media stream")
			in.closeWith(ws, closeUnsupportedData, "text frames only")
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			in.log.Warn("unparseable stream message", "error", err)
			continue
		}

		switch env.Event {
		case EventConnected:
			in.log.Debug("stream connected")

		case EventStart:
			if sess != nil {
				in.log.Warn("duplicate start event", "stream_id", env.StreamID)
				continue
			}
			info, err := env.StartInfo()
			if err != nil {
				in.log.Warn("rejecting stream", "error", err)
				in.closeWith(ws, closeProtocolError, "unsupported start")
				return
			}
			if info.TwilioStyle {
				link.setStreamSid(firstOf(env.Start.StreamSid, env.StreamSid))
			}

			s, err := in.factory(info, link)
			if err != nil {
				in.log.Error("session setup failed", "error", err, "stream_id", info.StreamID)
				in.closeWith(ws, closeInternalError, "setup failed")
				return
			}
			sess = s
			in.registry.Add(sess)
			go sess.Run()

		case EventMedia:
			if sess == nil || env.Media == nil {
				continue
			}
			if env.Media.Track != TrackInbound {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(env.Media.Payload)
			if err != nil {
				in.log.Warn("bad media payload", "error", err)
				continue
			}
			sess.PostMedia(raw)

		case EventMark:
			if sess != nil && env.Mark != nil {
				sess.PostMarkAck(env.Mark.Name)
			}

		case EventDTMF:
			in.log.Debug("dtmf ignored")

		case EventStop:
			in.log.Info("stream stopped")
			return

		default:
			in.log.Debug("unknown stream event", "event", env.Event)
		}
	}
}

func (in *Ingress) closeWith(ws *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = ws.WriteControl(websocket.CloseMessage, fws.FormatCloseMessage(code, reason), deadline)
	_ = ws.Close()
}

// Conn is the outbound half of one media stream. All writes are
// serialized; the session and the playback pacer share it.
type Conn struct {
	ws *websocket.Conn

	mu     sync.Mutex
	sid    string
	closed bool
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

func (c *Conn) setStreamSid(sid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sid = sid
}

// SendMedia sends one outbound audio frame.
func (c *Conn) SendMedia(payload []byte) error {
	return c.write(func(sid string) Envelope {
		return mediaOut(base64.StdEncoding.EncodeToString(payload), sid)
	})
}

// SendMark sends a named playback checkpoint.
func (c *Conn) SendMark(name string) error {
	return c.write(func(sid string) Envelope {
		return markOut(name, sid)
	})
}

// SendClear tells the carrier to drop its buffered playback.
func (c *Conn) SendClear() error {
	return c.write(func(sid string) Envelope {
		return clearOut(sid)
	})
}

func (c *Conn) write(build func(sid string) Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrLinkClosed
	}
	data, err := json.Marshal(build(c.sid))
	if err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close shuts the stream down. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage, fws.FormatCloseMessage(1000, ""), deadline)
	return c.ws.Close()
}

var (
	_ session.CarrierLink = (*Conn)(nil)
	_ playback.Sink       = (*Conn)(nil)
)
