package openaitts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voxgate/voxgate/pkg/audio"
)

func TestNewValidation(t *testing.T) {
	if _, err := New("", "", ""); err == nil {
		t.Error("expected error for empty apiKey")
	}
	e, err := New("test-key", "", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.model != DefaultModel {
		t.Errorf("model = %q; want default %q", e.model, DefaultModel)
	}
	if e.voice != DefaultVoice {
		t.Errorf("voice = %q; want default %q", e.voice, DefaultVoice)
	}
}

func TestSynthesizePCM16AdaptsFormat(t *testing.T) {
	// 24 kHz mono PCM from the fake endpoint: 24 samples = 1 ms.
	raw := make([]byte, 48)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/audio/speech") {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "audio/pcm")
		_, _ = w.Write(raw)
	}))
	defer srv.Close()

	e, err := New("test-key", "", "", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Target is 48 kHz stereo: 24 source samples become 48, then 48 frames.
	spec := audio.Spec{Format: "pcm16", SampleRate: 48000, Channels: 2}
	pcm, err := e.SynthesizePCM16(context.Background(), "hello", spec)
	if err != nil {
		t.Fatalf("SynthesizePCM16: %v", err)
	}
	if len(pcm) != 48*4 {
		t.Errorf("got %d bytes; want %d", len(pcm), 48*4)
	}
}

func TestSynthesizePCM16ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	e, err := New("test-key", "", "", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	spec := audio.Spec{Format: "pcm16", SampleRate: 16000, Channels: 1}
	if _, err := e.SynthesizePCM16(context.Background(), "hello", spec); err == nil {
		t.Error("expected error from failing endpoint")
	}
}
