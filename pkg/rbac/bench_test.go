package rbac

import (
	"context"
	"fmt"
	"testing"
)

// BenchmarkHasPermission benchmarks the full permission path: membership
// check plus role aggregation over a live store connection.
func BenchmarkHasPermission(b *testing.B) {
	if testing.Short() {
		b.Skip("Skipping benchmark in short mode")
	}

	svc := newTestService(b)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, "bench-tenant", RoleInput{
		Name:        "editor",
		Permissions: []Permission{perm("content", "read", "create", "update")},
	})
	if err != nil {
		b.Fatalf("CreateRole failed: %v", err)
	}
	if err := svc.AssignRoleToUser(ctx, "bench-user", "bench-tenant", role.ID); err != nil {
		b.Fatalf("AssignRoleToUser failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ok, err := svc.HasPermission(ctx, "bench-user", "bench-tenant", "content", "read", "")
		if err != nil {
			b.Errorf("HasPermission failed: %v", err)
		}
		if !ok {
			b.Error("Expected permission to be granted")
		}
	}
}

// BenchmarkGetUserRoles benchmarks role aggregation for a user holding
// several roles in one tenant.
func BenchmarkGetUserRoles(b *testing.B) {
	if testing.Short() {
		b.Skip("Skipping benchmark in short mode")
	}

	svc := newTestService(b)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		role, err := svc.CreateRole(ctx, "bench-tenant", RoleInput{
			Name:        fmt.Sprintf("role-%d", i),
			Permissions: []Permission{perm("content", "read")},
		})
		if err != nil {
			b.Fatalf("CreateRole failed: %v", err)
		}
		if err := svc.AssignRoleToUser(ctx, "bench-user", "bench-tenant", role.ID); err != nil {
			b.Fatalf("AssignRoleToUser failed: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		roles, err := svc.GetUserRoles(ctx, "bench-user", "bench-tenant")
		if err != nil {
			b.Errorf("GetUserRoles failed: %v", err)
		}
		if len(roles) != 5 {
			b.Errorf("Expected 5 roles, got %d", len(roles))
		}
	}
}
