package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func shutdownTestLogger() *Logger {
	return NewLogger(ErrorLevel, io.Discard)
}

func TestNewShutdownManager(t *testing.T) {
	t.Run("zero timeout defaults to 30s", func(t *testing.T) {
		sm := NewShutdownManager(shutdownTestLogger(), nil, 0)
		if sm.timeout != 30*time.Second {
			t.Errorf("Expected 30s default timeout, got %v", sm.timeout)
		}
	})

	t.Run("nil logger gets a default", func(t *testing.T) {
		sm := NewShutdownManager(nil, nil, time.Second)
		if sm.logger == nil {
			t.Fatal("Expected a default logger")
		}
	})

	t.Run("nil server is allowed", func(t *testing.T) {
		sm := NewShutdownManager(shutdownTestLogger(), nil, time.Second)
		sm.Trigger()
		if err := sm.WaitForShutdown(); err != nil {
			t.Errorf("Expected clean shutdown without a server, got %v", err)
		}
	})
}

func TestOnShutdown(t *testing.T) {
	sm := NewShutdownManager(shutdownTestLogger(), nil, time.Second)

	sm.OnShutdown("store", func(ctx context.Context) error { return nil })
	sm.OnShutdown("telemetry", func(ctx context.Context) error { return nil })
	sm.OnShutdown("ignored", nil)

	if len(sm.hooks) != 2 {
		t.Fatalf("Expected 2 hooks (nil ignored), got %d", len(sm.hooks))
	}
	if sm.hooks[0].name != "store" || sm.hooks[1].name != "telemetry" {
		t.Errorf("Hooks out of order: %s, %s", sm.hooks[0].name, sm.hooks[1].name)
	}
}

func TestHooksRunInRegistrationOrder(t *testing.T) {
	sm := NewShutdownManager(shutdownTestLogger(), nil, time.Second)

	var order []string
	for _, name := range []string{"health server", "store", "telemetry"} {
		name := name // pre-Go1.22 loop variable capture; no-op under go >= 1.22
		sm.OnShutdown(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	sm.Trigger()
	if err := sm.WaitForShutdown(); err != nil {
		t.Fatalf("Expected clean shutdown, got %v", err)
	}

	want := []string{"health server", "store", "telemetry"}
	if len(order) != len(want) {
		t.Fatalf("Expected %d hooks to run, got %d", len(want), len(order))
	}
	for i, name := range want {
		if order[i] != name {
			t.Errorf("Hook %d: expected %q, got %q", i, name, order[i])
		}
	}
}

func TestTriggerIsIdempotent(t *testing.T) {
	sm := NewShutdownManager(shutdownTestLogger(), nil, time.Second)

	ran := 0
	sm.OnShutdown("store", func(ctx context.Context) error {
		ran++
		return nil
	})

	sm.Trigger()
	sm.Trigger()
	if err := sm.WaitForShutdown(); err != nil {
		t.Fatalf("Expected clean shutdown, got %v", err)
	}
	sm.Trigger()

	if ran != 1 {
		t.Errorf("Expected hook to run once, ran %d times", ran)
	}
}

func TestWaitForShutdownDrainsServer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	if _, err := http.Get(ts.URL); err != nil {
		t.Fatalf("Server not reachable before shutdown: %v", err)
	}

	sm := NewShutdownManager(shutdownTestLogger(), ts.Config, 5*time.Second)
	sm.Trigger()
	if err := sm.WaitForShutdown(); err != nil {
		t.Fatalf("Expected clean shutdown, got %v", err)
	}

	if _, err := http.Get(ts.URL); err == nil {
		t.Error("Expected requests to fail after the server drained")
	}
}

func TestHookErrorsAreReported(t *testing.T) {
	sm := NewShutdownManager(shutdownTestLogger(), nil, time.Second)

	sm.OnShutdown("store", func(ctx context.Context) error {
		return errors.New("close failed")
	})
	sm.OnShutdown("telemetry", func(ctx context.Context) error {
		return errors.New("flush failed")
	})

	sm.Trigger()
	err := sm.WaitForShutdown()
	if err == nil {
		t.Fatal("Expected an error from failing hooks")
	}
	for _, want := range []string{"store", "close failed", "telemetry", "flush failed"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected error to mention %q, got: %v", want, err)
		}
	}
}

func TestFailingHookDoesNotStopLaterHooks(t *testing.T) {
	sm := NewShutdownManager(shutdownTestLogger(), nil, time.Second)

	ran := false
	sm.OnShutdown("store", func(ctx context.Context) error {
		return errors.New("close failed")
	})
	sm.OnShutdown("telemetry", func(ctx context.Context) error {
		ran = true
		return nil
	})

	sm.Trigger()
	if err := sm.WaitForShutdown(); err == nil {
		t.Fatal("Expected an error from the failing hook")
	}
	if !ran {
		t.Error("Expected the second hook to run after the first failed")
	}
}

func TestShutdownTimeoutAbandonsHooks(t *testing.T) {
	sm := NewShutdownManager(shutdownTestLogger(), nil, 100*time.Millisecond)

	sm.OnShutdown("stuck", func(ctx context.Context) error {
		// Ignores the context on purpose.
		time.Sleep(time.Second)
		return nil
	})

	sm.Trigger()
	start := time.Now()
	err := sm.WaitForShutdown()
	elapsed := time.Since(start)

	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("Expected timeout error, got %v", err)
	}
	if elapsed >= time.Second {
		t.Errorf("Expected WaitForShutdown to abandon the stuck hook, waited %v", elapsed)
	}
}

func TestDrainFailureStillRunsHooks(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer ts.Close()
	defer close(release)

	// Park one request so the drain cannot finish inside the window.
	go func() {
		resp, err := http.Get(ts.URL)
		if err == nil {
			resp.Body.Close()
		}
	}()
	time.Sleep(50 * time.Millisecond)

	sm := NewShutdownManager(shutdownTestLogger(), ts.Config, 200*time.Millisecond)
	hookRan := make(chan struct{})
	sm.OnShutdown("store", func(ctx context.Context) error {
		close(hookRan)
		return nil
	})

	sm.Trigger()
	if err := sm.WaitForShutdown(); err == nil {
		t.Fatal("Expected an error when the drain times out")
	}

	select {
	case <-hookRan:
	case <-time.After(time.Second):
		t.Error("Expected the store hook to run despite the failed drain")
	}
}

func TestConcurrentRegistration(t *testing.T) {
	sm := NewShutdownManager(shutdownTestLogger(), nil, time.Second)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ran := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sm.OnShutdown("worker", func(ctx context.Context) error {
				mu.Lock()
				ran++
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	sm.Trigger()
	if err := sm.WaitForShutdown(); err != nil {
		t.Fatalf("Expected clean shutdown, got %v", err)
	}
	if ran != 10 {
		t.Errorf("Expected 10 hooks to run, got %d", ran)
	}
}
