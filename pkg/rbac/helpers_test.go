package rbac

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/curatorhq/curator/pkg/kv"
	"github.com/curatorhq/curator/pkg/observability"
)

// setupTestStore builds a store facade over a miniredis-backed connection.
func setupTestStore(t testing.TB) *kv.Store {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	cfg := kv.DefaultConfig()
	cfg.URL = "redis://" + mr.Addr()
	cfg.KeyPrefix = "curator:"
	cfg.ConnectTimeout = 500 * time.Millisecond
	cfg.PingTimeout = 200 * time.Millisecond

	mgr := kv.NewConnManager(cfg, quietLogger(), nil)
	if err := mgr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	return kv.NewStore(mgr)
}

func quietLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

// newTestService returns a service over a fresh store.
func newTestService(t testing.TB) *Service {
	t.Helper()
	return NewService(setupTestStore(t), quietLogger(), nil)
}

// perm builds an unrestricted permission entry.
func perm(resource string, actions ...string) Permission {
	return Permission{Resource: resource, Actions: actions}
}
