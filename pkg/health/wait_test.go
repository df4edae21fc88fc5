package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestWait_EventuallyHealthy(t *testing.T) {
	// Server fails the first two checks, then recovers.
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewHTTPChecker(server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := Wait(ctx, checker, 10*time.Millisecond); err != nil {
		t.Fatalf("Wait() returned error: %v", err)
	}

	if calls.Load() < 3 {
		t.Errorf("expected at least 3 checks, got %d", calls.Load())
	}
}

func TestWait_DeadlineExceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	checker := NewHTTPChecker(server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := Wait(ctx, checker, 10*time.Millisecond)
	if err == nil {
		t.Fatal("Wait() should fail when the endpoint never recovers")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error should carry the last check message, got: %v", err)
	}
}

func TestWait_ImmediateSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewHTTPChecker(server.URL)

	start := time.Now()
	if err := Wait(context.Background(), checker, time.Second); err != nil {
		t.Fatalf("Wait() returned error: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Wait() should return immediately when the first check passes")
	}
}

func TestStatus_Update(t *testing.T) {
	config := Config{Retries: 2}
	status := NewStatus()

	if !status.Healthy {
		t.Error("new status should assume healthy")
	}

	fail := Result{Healthy: false, CheckedAt: time.Now()}
	pass := Result{Healthy: true, CheckedAt: time.Now()}

	status.Update(fail, config)
	if !status.Healthy {
		t.Error("one failure below the retry threshold should stay healthy")
	}

	status.Update(fail, config)
	if status.Healthy {
		t.Error("reaching the retry threshold should mark unhealthy")
	}
	if status.ConsecutiveFailures != 2 {
		t.Errorf("expected 2 consecutive failures, got %d", status.ConsecutiveFailures)
	}

	status.Update(pass, config)
	if !status.Healthy {
		t.Error("a single success should restore healthy")
	}
	if status.ConsecutiveFailures != 0 {
		t.Error("success should reset the failure streak")
	}
}

func TestStatus_InStartPeriod(t *testing.T) {
	status := NewStatus()

	if status.InStartPeriod(Config{StartPeriod: 0}) {
		t.Error("zero start period should never report in-start-period")
	}
	if !status.InStartPeriod(Config{StartPeriod: time.Hour}) {
		t.Error("fresh status should be within a long start period")
	}

	status.StartedAt = time.Now().Add(-2 * time.Hour)
	if status.InStartPeriod(Config{StartPeriod: time.Hour}) {
		t.Error("elapsed start period should report false")
	}
}

func TestTCPChecker(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer listener.Close()

	checker := NewTCPChecker(listener.Addr().String())
	result := checker.Check(context.Background())
	if !result.Healthy {
		t.Errorf("expected healthy for open port, got: %s", result.Message)
	}
	if checker.Type() != CheckTypeTCP {
		t.Errorf("expected type %s, got %s", CheckTypeTCP, checker.Type())
	}

	// Closed port fails.
	addr := listener.Addr().String()
	listener.Close()
	result = NewTCPChecker(addr).WithTimeout(time.Second).Check(context.Background())
	if result.Healthy {
		t.Error("expected unhealthy for closed port")
	}
}
