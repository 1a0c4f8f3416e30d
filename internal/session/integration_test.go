package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saker-ai/voicestream/internal/dispatch"
	"github.com/saker-ai/voicestream/internal/playback"
	"github.com/saker-ai/voicestream/internal/protocol"
	"github.com/saker-ai/voicestream/internal/session/fsm"
	"github.com/saker-ai/voicestream/internal/transport"
	"github.com/saker-ai/voicestream/pkg/audio"
	"github.com/saker-ai/voicestream/pkg/audioout"
)

// speechServer answers every speak request with one audio clip followed by a
// diagnostic, and drops the first connection after the first reply.
func speechServer(t *testing.T, connections *atomic.Int32) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := connections.Add(1)
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.TextMessage {
				continue
			}
			if _, err := protocol.Decode(data); err != nil {
				_ = conn.WriteMessage(websocket.TextMessage, []byte("Unknown action"))
				continue
			}
			_ = conn.WriteMessage(websocket.BinaryMessage, audio.Int16SliceToBytes([]int16{10, 20, 30, 40}))
			_ = conn.WriteMessage(websocket.TextMessage, []byte("Error generating speech: none"))
			if n == 1 {
				return
			}
		}
	}))
}

func TestSpeakRoundTripOverWebsocket(t *testing.T) {
	var connections atomic.Int32
	srv := speechServer(t, &connections)
	defer srv.Close()

	decoder, err := audio.NewDecoder(audio.DecoderConfig{Format: audio.FormatPCMS16LE, SampleRate: 8000, Channels: 1})
	if err != nil {
		t.Fatalf("NewDecoder returned error: %v", err)
	}
	device := audioout.NewMemoryDevice(0, 0)
	engine, err := playback.NewEngine(playback.Config{}, decoder, device, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	dispatcher := dispatch.New(engine, nil, nil)

	m, err := New(Config{
		ServerURL:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectDelay: 20 * time.Millisecond,
	}, Deps{
		Dialer:     transport.WebsocketDialer{},
		Dispatcher: dispatcher,
		Audio:      engine,
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	defer m.Shutdown(context.Background())
	_ = m.Start(context.Background())
	waitFor(t, "connected", func() bool { return m.State() == fsm.StateConnected })

	if err := m.Send(context.Background(), "hello", 0); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !device.WaitPlayed(ctx, 1) {
		t.Fatal("no clip played after speak request")
	}
	waitFor(t, "control frame", func() bool {
		return strings.HasPrefix(dispatcher.LastControl(), "Error generating speech")
	})

	// The server drops the first connection; the manager dials again.
	waitFor(t, "second connection", func() bool {
		return connections.Load() == 2 && m.State() == fsm.StateConnected
	})
	if err := m.Send(context.Background(), "again", 1); err != nil {
		t.Fatalf("Send after reconnect returned error: %v", err)
	}
	if !device.WaitPlayed(ctx, 2) {
		t.Fatal("no clip played after reconnect")
	}

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
	if device.Closes() != 1 {
		t.Fatalf("device closes=%d, want 1", device.Closes())
	}
}

func TestUndecodableAudioLeavesStateUnchanged(t *testing.T) {
	decoder, err := audio.NewDecoder(audio.DecoderConfig{Format: audio.FormatPCMS16LE, SampleRate: 8000, Channels: 1})
	if err != nil {
		t.Fatalf("NewDecoder returned error: %v", err)
	}
	device := audioout.NewMemoryDevice(0, 0)
	engine, err := playback.NewEngine(playback.Config{}, decoder, device, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	dialer := &fakeDialer{}
	m, err := New(Config{ServerURL: "ws://speech.test/ws", ReconnectDelay: 20 * time.Millisecond}, Deps{
		Dialer:     dialer,
		Dispatcher: dispatch.New(engine, nil, nil),
		Audio:      engine,
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	defer m.Shutdown(context.Background())
	_ = m.Start(context.Background())
	waitFor(t, "connected", func() bool { return m.State() == fsm.StateConnected })

	conn := dialer.last()
	conn.in <- inbound{messageType: transport.BinaryMessage, data: []byte{0x01, 0x02, 0x03}}
	conn.in <- inbound{messageType: transport.TextMessage, data: []byte("ok")}
	waitFor(t, "decode failure", func() bool { return engine.Stats().DecodeFailures == 1 })

	if got := m.State(); got != fsm.StateConnected {
		t.Fatalf("state=%s, want connected", got)
	}
	if got := dialer.dialCount(); got != 1 {
		t.Fatalf("dials=%d, want 1", got)
	}
	if n := len(device.Played()); n != 0 {
		t.Fatalf("played=%d, want 0", n)
	}
}
