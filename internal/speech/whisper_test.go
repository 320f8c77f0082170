package speech

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/snarg/vox-engine/internal/fault"
)

func TestWhisperTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file field: %v", err)
		}
		w.Write([]byte(`{"text": "hello from the test"}`))
	}))
	defer srv.Close()

	wc := NewWhisperClient(srv.URL, "base", 5*time.Second)
	text, err := wc.Transcribe(context.Background(), []byte("fakeaudio"), "ogg")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello from the test" {
		t.Errorf("text = %q", text)
	}
}

func TestWhisperEmptyText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text": ""}`))
	}))
	defer srv.Close()

	wc := NewWhisperClient(srv.URL, "base", 5*time.Second)
	text, err := wc.Transcribe(context.Background(), []byte("silence"), "ogg")
	if err != nil {
		t.Fatalf("empty transcript must not be an error, got %v", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
}

func TestWhisperErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   fault.Category
	}{
		{http.StatusTooManyRequests, fault.RateLimited},
		{http.StatusBadGateway, fault.Unavailable},
		{http.StatusInternalServerError, fault.Unavailable},
		{http.StatusBadRequest, fault.InvalidInput},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		wc := NewWhisperClient(srv.URL, "base", 5*time.Second)
		_, err := wc.Transcribe(context.Background(), []byte("x"), "ogg")
		if !fault.Is(err, tt.want) {
			t.Errorf("status %d: category = %v, want %v", tt.status, fault.CategoryOf(err), tt.want)
		}
		srv.Close()
	}
}
