package api

import (
	"net/http"
	"testing"
	"time"

	"curvewarden/internal/apperrors"
)

func TestRateLimiterAllowsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("client-a") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if rl.Allow("client-a") {
		t.Fatal("fourth request within the window should be rejected")
	}
}

func TestRateLimiterTracksKeysIndependently(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	if !rl.Allow("client-a") {
		t.Fatal("first request for client-a should be allowed")
	}
	if !rl.Allow("client-b") {
		t.Fatal("client-b has its own window and should be allowed")
	}
	if rl.Allow("client-a") {
		t.Fatal("client-a is over its limit")
	}
}

func TestRateLimiterSlidingWindowExpires(t *testing.T) {
	rl := NewRateLimiter(1, 50*time.Millisecond)

	if !rl.Allow("client-a") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("client-a") {
		t.Fatal("second request inside the window should be rejected")
	}

	time.Sleep(60 * time.Millisecond)
	if !rl.Allow("client-a") {
		t.Fatal("request after the window elapses should be allowed again")
	}
}

func TestHTTPStatusForKind(t *testing.T) {
	cases := []struct {
		kind   apperrors.Kind
		status int
	}{
		{apperrors.Validation, http.StatusBadRequest},
		{apperrors.NotFound, http.StatusNotFound},
		{apperrors.Conflict, http.StatusConflict},
		{apperrors.RiskRejection, http.StatusUnprocessableEntity},
		{apperrors.SimulationFailure, http.StatusBadGateway},
		{apperrors.TransientRPC, http.StatusBadGateway},
		{apperrors.FatalRPC, http.StatusServiceUnavailable},
		{apperrors.Internal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		err := apperrors.New(tc.kind, "boom")
		if got := httpStatusForKind(apperrors.KindOf(err)); got != tc.status {
			t.Errorf("kind %s: want status %d, got %d", tc.kind, tc.status, got)
		}
	}
}

func TestHTTPStatusForUnknownErrorIsInternal(t *testing.T) {
	plain := errPlain("unwrapped failure")
	if got := httpStatusForKind(apperrors.KindOf(plain)); got != http.StatusInternalServerError {
		t.Errorf("want internal server error for a plain error, got %d", got)
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
