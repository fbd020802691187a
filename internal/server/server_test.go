package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxgate/voxgate/internal/gateway"
	"github.com/voxgate/voxgate/pkg/engine/mock"
)

// wsFrame is the union of all gateway → client message shapes, for decoding
// test traffic.
type wsFrame struct {
	Type           string `json:"type"`
	SessionID      string `json:"session_id"`
	Seq            int64  `json:"seq"`
	ChunkSeq       int    `json:"chunk_seq"`
	UnitIndexStart int    `json:"unit_index_start"`
	UnitIndexEnd   int    `json:"unit_index_end"`
	UnitsText      string `json:"units_text"`
	AudioBase64    string `json:"audio_base64"`
	Cancelled      bool   `json:"cancelled"`
	Code           string `json:"code"`
	Message        string `json:"message"`
}

func newTestServer(t *testing.T, eng *mock.Engine) (*httptest.Server, *gateway.Manager) {
	t.Helper()
	m := gateway.NewManager(eng, gateway.ManagerConfig{
		PollInterval: time.Millisecond,
	})
	mux := http.NewServeMux()
	New(m).Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		ts.Close()
		m.Shutdown(context.Background())
	})
	return ts, m
}

func dialWS(t *testing.T, ctx context.Context, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	return conn
}

func wsSend(t *testing.T, ctx context.Context, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func wsRecv(t *testing.T, ctx context.Context, conn *websocket.Conn) wsFrame {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f wsFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return f
}

func TestWebSocketStreamEndToEnd(t *testing.T) {
	ts, _ := newTestServer(t, &mock.Engine{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts)
	defer conn.CloseNow()

	wsSend(t, ctx, conn, map[string]any{
		"type": "start", "session_id": "s1",
		"audio_format": "pcm16", "sample_rate": 16000, "channels": 1,
	})
	wsSend(t, ctx, conn, map[string]any{
		"type": "text_delta", "session_id": "s1", "seq": 1, "text": "hello,",
	})
	wsSend(t, ctx, conn, map[string]any{
		"type": "text_delta", "session_id": "s1", "seq": 2, "text": " world",
	})
	wsSend(t, ctx, conn, map[string]any{
		"type": "text_end", "session_id": "s1", "seq": 3,
	})

	var rebuilt strings.Builder
	lastEnd := -1
	for {
		f := wsRecv(t, ctx, conn)
		switch f.Type {
		case "audio_chunk":
			if f.SessionID != "s1" {
				t.Errorf("chunk for session %q", f.SessionID)
			}
			if f.UnitIndexStart != lastEnd+1 {
				t.Errorf("chunk starts at %d; want %d", f.UnitIndexStart, lastEnd+1)
			}
			if f.AudioBase64 == "" {
				t.Error("chunk carries no audio")
			}
			lastEnd = f.UnitIndexEnd
			rebuilt.WriteString(f.UnitsText)
			continue
		case "tts_end":
			if f.Cancelled {
				t.Error("natural end must report cancelled=false")
			}
		default:
			t.Fatalf("unexpected frame %+v", f)
		}
		break
	}
	if rebuilt.String() != "hello, world" {
		t.Errorf("reassembled %q; want %q", rebuilt.String(), "hello, world")
	}
	if lastEnd != 11 {
		t.Errorf("final unit index = %d; want 11", lastEnd)
	}

	// After the terminal frame the server closes the stream cleanly.
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("read after tts_end = %v; want normal closure", err)
	}
}

func TestWebSocketResumeReplaysOnNewConnection(t *testing.T) {
	ts, _ := newTestServer(t, &mock.Engine{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn1 := dialWS(t, ctx, ts)
	defer conn1.CloseNow()

	wsSend(t, ctx, conn1, map[string]any{
		"type": "start", "session_id": "s1",
		"audio_format": "pcm16", "sample_rate": 16000, "channels": 1,
	})
	wsSend(t, ctx, conn1, map[string]any{
		"type": "text_delta", "session_id": "s1", "seq": 1, "text": "hello,",
	})
	first := wsRecv(t, ctx, conn1)
	if first.Type != "audio_chunk" || first.UnitIndexEnd != 5 {
		t.Fatalf("first frame = %+v; want chunk [0,5]", first)
	}
	wsSend(t, ctx, conn1, map[string]any{
		"type": "text_delta", "session_id": "s1", "seq": 2, "text": " world.",
	})
	second := wsRecv(t, ctx, conn1)
	if second.Type != "audio_chunk" || second.UnitIndexStart != 6 || second.UnitIndexEnd != 12 {
		t.Fatalf("second frame = %+v; want chunk [6,12]", second)
	}

	// The client drops and reconnects having received only the first chunk.
	conn1.CloseNow()
	conn2 := dialWS(t, ctx, ts)
	defer conn2.CloseNow()
	wsSend(t, ctx, conn2, map[string]any{
		"type": "resume", "session_id": "s1", "last_unit_index_received": 5,
	})

	replay := wsRecv(t, ctx, conn2)
	if replay.Type != "audio_chunk" {
		t.Fatalf("resume frame = %+v; want audio_chunk", replay)
	}
	if replay.ChunkSeq != second.ChunkSeq || replay.AudioBase64 != second.AudioBase64 {
		t.Error("replayed chunk must be byte-identical to the lost one")
	}
	if replay.Seq <= second.Seq {
		t.Errorf("replay seq %d must be freshly assigned after %d", replay.Seq, second.Seq)
	}
}

func TestWebSocketResumeFromNothingReplaysFirstChunk(t *testing.T) {
	ts, _ := newTestServer(t, &mock.Engine{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn1 := dialWS(t, ctx, ts)
	defer conn1.CloseNow()
	wsSend(t, ctx, conn1, map[string]any{
		"type": "start", "session_id": "s1",
		"audio_format": "pcm16", "sample_rate": 16000, "channels": 1,
	})
	wsSend(t, ctx, conn1, map[string]any{
		"type": "text_delta", "session_id": "s1", "seq": 1, "text": "hello,",
	})
	first := wsRecv(t, ctx, conn1)
	if first.Type != "audio_chunk" || first.ChunkSeq != 1 {
		t.Fatalf("first frame = %+v; want chunk 1", first)
	}

	// A client that received nothing resumes with cursor -1 and must get
	// chunk 1 back — a cursor of 0 would mark unit 0 as already received.
	conn1.CloseNow()
	conn2 := dialWS(t, ctx, ts)
	defer conn2.CloseNow()
	wsSend(t, ctx, conn2, map[string]any{
		"type": "resume", "session_id": "s1", "last_unit_index_received": -1,
	})
	replay := wsRecv(t, ctx, conn2)
	if replay.Type != "audio_chunk" || replay.ChunkSeq != 1 || replay.AudioBase64 != first.AudioBase64 {
		t.Errorf("replay = %+v; want chunk 1 byte-identical", replay)
	}
}

func TestWebSocketResumeUnknownSession(t *testing.T) {
	ts, _ := newTestServer(t, &mock.Engine{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts)
	defer conn.CloseNow()

	wsSend(t, ctx, conn, map[string]any{
		"type": "resume", "session_id": "never-started", "last_unit_index_received": 3,
	})
	f := wsRecv(t, ctx, conn)
	if f.Type != "error" || f.Code != "unknown_session" {
		t.Errorf("frame = %+v; want unknown_session error", f)
	}
}

func TestWebSocketMalformedMessage(t *testing.T) {
	ts, m := newTestServer(t, &mock.Engine{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts)
	defer conn.CloseNow()

	wsSend(t, ctx, conn, map[string]any{"type": "warble", "session_id": "s1"})
	f := wsRecv(t, ctx, conn)
	if f.Type != "error" || f.Code != "bad_request" {
		t.Errorf("frame = %+v; want bad_request error", f)
	}
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Errorf("read after bad request = %v; want policy violation closure", err)
	}
	if m.Len() != 0 {
		t.Errorf("no session should survive a malformed message; Len = %d", m.Len())
	}
}

func TestWebSocketCancelStopsStream(t *testing.T) {
	ts, m := newTestServer(t, &mock.Engine{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts)
	defer conn.CloseNow()

	wsSend(t, ctx, conn, map[string]any{
		"type": "start", "session_id": "s1",
		"audio_format": "pcm16", "sample_rate": 16000, "channels": 1,
	})
	wsSend(t, ctx, conn, map[string]any{
		"type": "text_delta", "session_id": "s1", "seq": 1, "text": "hello,",
	})
	f := wsRecv(t, ctx, conn)
	if f.Type != "audio_chunk" {
		t.Fatalf("frame = %+v; want audio_chunk", f)
	}

	wsSend(t, ctx, conn, map[string]any{"type": "cancel", "session_id": "s1", "seq": 2})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Get("s1") == nil {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("cancel did not remove the session")
}
