package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Faultbox/isoterrain/internal/density"
	"github.com/Faultbox/isoterrain/internal/device"
	"github.com/Faultbox/isoterrain/internal/device/cpu"
	"github.com/Faultbox/isoterrain/internal/extract"
	"github.com/Faultbox/isoterrain/internal/pipeline"
	"github.com/Faultbox/isoterrain/internal/terrain"
)

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *pipeline.Registry) {
	t.Helper()
	layout := terrain.Layout{Dim: 9, Margin: 1, WorldSize: 8}
	dev, err := cpu.New(cpu.Config{
		Layout:  layout,
		Field:   density.Plane(3.5),
		Extract: extract.Options{},
		Limits:  device.DefaultLimits(),
		Workers: 2,
	})
	if err != nil {
		t.Fatalf("cpu.New failed: %v", err)
	}
	pctx, err := pipeline.NewContext(dev, layout, nil, pipeline.Options{})
	if err != nil {
		t.Fatal(err)
	}
	registry := pipeline.NewRegistry()
	streamer := pipeline.NewStreamer(pctx, registry, pipeline.StreamerOptions{Workers: 2})

	srv := httptest.NewServer(NewServer(registry, streamer, nil, opts).Handler())
	t.Cleanup(func() {
		srv.Close()
		streamer.Close()
		registry.Clear()
		dev.Close()
	})
	return srv, registry
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) *Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Fatalf("expected binary message, got %d", kind)
	}
	f, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	return f
}

func TestServer_StreamsChunks(t *testing.T) {
	srv, registry := newTestServer(t, DefaultOptions())
	conn := dial(t, srv)

	err := conn.WriteJSON(SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: ProtocolVersion, Radius: 0})
	if err != nil {
		t.Fatal(err)
	}

	f := readFrame(t, conn)
	if f.Coord != (terrain.ChunkCoord{}) {
		t.Errorf("expected origin chunk, got %v", f.Coord)
	}
	if f.Flags&FlagZstd == 0 {
		t.Error("expected compressed payload")
	}
	if len(f.Vertices) != 64*6 {
		t.Fatalf("expected %d vertices, got %d", 64*6, len(f.Vertices))
	}
	for i, v := range f.Vertices {
		if v.Position[1] != 3.5 {
			t.Fatalf("vertex %d off the plane: %v", i, v.Position)
		}
	}
	if _, ok := registry.Get(terrain.ChunkCoord{}); !ok {
		t.Error("streamed chunk missing from registry")
	}

	// Moving the view sends the neighbour, already-built chunks are not repeated.
	err = conn.WriteJSON(SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: ProtocolVersion, Center: [3]int{1, 0, 0}, Radius: 0})
	if err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, conn); f.Coord != (terrain.ChunkCoord{X: 1}) {
		t.Errorf("expected chunk (1,0,0), got %v", f.Coord)
	}
}

func TestServer_RejectsBadHandshake(t *testing.T) {
	srv, _ := newTestServer(t, DefaultOptions())
	conn := dial(t, srv)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"HELLO"}`)); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("expected policy violation close, got %v", err)
	}
}

func TestServer_NormalizeRadius(t *testing.T) {
	s := NewServer(nil, nil, nil, Options{DefaultRadius: 2, MaxRadius: 4})
	tests := []struct {
		radius, want int
	}{
		{-1, 2},
		{0, 0},
		{3, 3},
		{9, 4},
	}
	for _, tt := range tests {
		if got := s.normalize(SubscribeMsg{Radius: tt.radius}).radius; got != tt.want {
			t.Errorf("radius %d normalized to %d, want %d", tt.radius, got, tt.want)
		}
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:5000", true},
		{"[::1]:5000", true},
		{"10.0.0.4:5000", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		if got := isLoopbackRemote(tt.addr); got != tt.want {
			t.Errorf("isLoopbackRemote(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}
