package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPFrameSourceFetches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("jpegbytes"))
	}))
	defer srv.Close()

	s := NewHTTPFrameSource(0)
	frame, err := s.AcquireFrame(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("acquire frame: %v", err)
	}
	if string(frame) != "jpegbytes" {
		t.Fatalf("unexpected frame body %q", frame)
	}
}

func TestHTTPFrameSourceRejectsEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewHTTPFrameSource(0)
	if _, err := s.AcquireFrame(context.Background(), srv.URL); err == nil {
		t.Fatal("empty frame body should be an error")
	}
}

func TestHTTPFrameSourceRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewHTTPFrameSource(0)
	if _, err := s.AcquireFrame(context.Background(), srv.URL); err == nil {
		t.Fatal("non-200 frame response should be an error")
	}
}

func TestHTTPEngineDecodesReading(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/recognize" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"balance": 1234.5, "confidence": 0.92, "raw_text": ["BALANCE 1234.5"]}`))
	}))
	defer srv.Close()

	e := NewHTTPEngine(srv.URL, 0)
	reading, err := e.Recognize(context.Background(), []byte("frame"))
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if reading.Balance == nil || *reading.Balance != 1234.5 {
		t.Fatalf("unexpected balance %v", reading.Balance)
	}
	if reading.Confidence != 0.92 {
		t.Fatalf("unexpected confidence %v", reading.Confidence)
	}
}

func TestHTTPEngineRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewHTTPEngine(srv.URL, 0)
	if _, err := e.Recognize(context.Background(), []byte("frame")); err == nil {
		t.Fatal("non-200 ocr response should be an error")
	}
}
