// Package ws streams published terrain chunks to renderers over websockets.
//
// A client opens the socket and sends a SUBSCRIBE message naming a center
// chunk and a radius. The server answers with one binary CHNK frame per
// non-empty chunk in range, nearest first, and keeps streaming chunks as
// they are built. Further SUBSCRIBE messages move the center.
package ws

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Faultbox/isoterrain/internal/pipeline"
	"github.com/Faultbox/isoterrain/internal/terrain"
)

// ProtocolVersion is the SUBSCRIBE protocol version.
const ProtocolVersion = 1

// SubscribeMsg is the only message clients send.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion int    `json:"protocol_version"`
	Center          [3]int `json:"center"`
	Radius          int    `json:"radius"`
}

// Options tune the server.
type Options struct {
	// DefaultRadius applies when a client asks for a negative radius.
	DefaultRadius int
	// MaxRadius caps client radii.
	MaxRadius int
	// Compress selects zstd frame payloads.
	Compress bool
	// AllowRemote accepts non-loopback clients.
	AllowRemote bool
	// SendBuffer is the number of built chunks a slow client may lag behind.
	SendBuffer int
}

// DefaultOptions returns loopback-only settings with compression.
func DefaultOptions() Options {
	return Options{
		DefaultRadius: 2,
		MaxRadius:     8,
		Compress:      true,
		SendBuffer:    256,
	}
}

// Server hands registry chunks to websocket clients and asks the streamer
// for the ones still missing.
type Server struct {
	registry *pipeline.Registry
	streamer *pipeline.Streamer
	log      *zap.Logger
	opts     Options

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

// NewServer creates a server. A nil logger disables logging.
func NewServer(registry *pipeline.Registry, streamer *pipeline.Streamer, log *zap.Logger, opts Options) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	return &Server{
		registry: registry,
		streamer: streamer,
		log:      log,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type view struct {
	center terrain.ChunkCoord
	radius int
}

func (v view) contains(c terrain.ChunkCoord) bool {
	d := c.Sub(v.center)
	return max(abs(d.X), abs(d.Y), abs(d.Z)) <= v.radius
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func (s *Server) normalize(sub SubscribeMsg) view {
	r := sub.Radius
	if r < 0 {
		r = s.opts.DefaultRadius
	}
	if s.opts.MaxRadius > 0 && r > s.opts.MaxRadius {
		r = s.opts.MaxRadius
	}
	return view{
		center: terrain.ChunkCoord{X: sub.Center[0], Y: sub.Center[1], Z: sub.Center[2]},
		radius: r,
	}
}

func readSubscribe(conn *websocket.Conn, timeout time.Duration) (SubscribeMsg, bool, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return SubscribeMsg{}, false, err
	}
	var sub SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return SubscribeMsg{}, false, nil
	}
	if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != ProtocolVersion {
		return SubscribeMsg{}, false, nil
	}
	return sub, true, nil
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

// Handler returns the websocket endpoint.
func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.opts.AllowRemote && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		sub, ok, err := readSubscribe(conn, 5*time.Second)
		if err != nil {
			return
		}
		if !ok {
			closeWith(conn, websocket.ClosePolicyViolation, "expected SUBSCRIBE")
			return
		}

		id := s.nextID.Add(1)
		log := s.log.With(zap.Uint64("session", id))
		v := s.normalize(sub)
		log.Info("client subscribed",
			zap.String("remote", r.RemoteAddr),
			zap.Stringer("center", v.center),
			zap.Int("radius", v.radius),
		)

		// Subscribe before requesting so no build is missed.
		built, unsubscribe := s.streamer.Subscribe(s.opts.SendBuffer)
		defer unsubscribe()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		updates := make(chan view, 1)
		updates <- v

		writeErr := make(chan error, 1)
		go func() {
			writeErr <- s.writeLoop(ctx, conn, log, updates, built)
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			sub, ok, err := readSubscribe(conn, 60*time.Second)
			if err != nil {
				break
			}
			if !ok {
				continue
			}
			// Keep only the latest view.
			select {
			case <-updates:
			default:
			}
			updates <- s.normalize(sub)
		}

		cancel()
		closeWith(conn, websocket.CloseNormalClosure, "bye")

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		log.Info("client left")
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, log *zap.Logger, updates <-chan view, built <-chan *pipeline.Chunk) error {
	var cur view
	sent := make(map[terrain.ChunkCoord]*pipeline.Chunk)

	send := func(c *pipeline.Chunk) error {
		if sent[c.Coord] == c {
			return nil
		}
		verts, err := c.Vertices(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			log.Warn("skipping chunk", zap.Stringer("coord", c.Coord), zap.Error(err))
			return nil
		}
		frame, err := EncodeFrame(c.Coord, verts, s.opts.Compress)
		if err != nil {
			return err
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return err
		}
		sent[c.Coord] = c
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case v := <-updates:
			cur = v
			for coord := range sent {
				if !cur.contains(coord) {
					delete(sent, coord)
				}
			}
			for _, coord := range pipeline.ShellOrder(cur.center, cur.radius) {
				if c, ok := s.registry.Get(coord); ok {
					if err := send(c); err != nil {
						return err
					}
				}
			}
			s.streamer.RequestAround(cur.center, cur.radius)

		case c, ok := <-built:
			if !ok {
				return nil
			}
			if !cur.contains(c.Coord) {
				continue
			}
			if err := send(c); err != nil {
				return err
			}
		}
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
