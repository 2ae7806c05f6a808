package report

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seantiz/warden/internal/model"
)

func sampleResult() *model.JobResult {
	return &model.JobResult{
		JobID:  model.NewID(),
		Status: model.ResultComplete,
		PerTarget: map[string]string{
			"t1": model.TargetClean,
		},
	}
}

func TestLogHandlerNeverFails(t *testing.T) {
	h := &LogHandler{Logger: slog.New(slog.NewJSONHandler(io.Discard, nil))}
	if err := h.Deliver(context.Background(), sampleResult()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
}

func TestWebhookDeliver(t *testing.T) {
	var received *model.JobResult
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		var res model.JobResult
		if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
			t.Errorf("decode body: %v", err)
		}
		received = &res
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	want := sampleResult()
	if err := NewWebhook(srv.URL).Deliver(context.Background(), want); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if received == nil || received.JobID != want.JobID {
		t.Errorf("endpoint received %+v, want job %s", received, want.JobID)
	}
}

func TestWebhookRetryableStatuses(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusTooManyRequests, http.StatusBadGateway} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		err := NewWebhook(srv.URL).Deliver(context.Background(), sampleResult())
		srv.Close()
		if !errors.Is(err, ErrRetryLater) {
			t.Errorf("status %d: err = %v, want ErrRetryLater", status, err)
		}
	}
}

func TestWebhookPermanentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL).Deliver(context.Background(), sampleResult())
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if errors.Is(err, ErrRetryLater) {
		t.Error("400 must not be retryable")
	}
}

func TestWebhookTransportFailureIsRetryable(t *testing.T) {
	// Point at a server that is already closed.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewWebhook(url).Deliver(context.Background(), sampleResult())
	if !errors.Is(err, ErrRetryLater) {
		t.Errorf("err = %v, want ErrRetryLater", err)
	}
}
