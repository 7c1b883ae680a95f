package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/curatorhq/curator/pkg/kv"
	"github.com/curatorhq/curator/pkg/observability"
)

// Service implements role storage, assignment and permission aggregation on
// top of the KV store. It is stateless and safe for concurrent use;
// permission checks always read the store, never a cache.
type Service struct {
	store   *kv.Store
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewService creates a role service backed by store.
func NewService(store *kv.Store, logger *observability.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Service{
		store:   store,
		logger:  logger.WithComponent("rbac"),
		metrics: metrics,
	}
}

// CreateRole persists a new role in the tenant.
func (s *Service) CreateRole(ctx context.Context, tenantID string, in RoleInput) (*Role, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if in.Name == "" {
		return nil, errors.New("rbac: role name is required")
	}

	now := time.Now().UTC()
	role := &Role{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Name:        in.Name,
		Description: in.Description,
		Permissions: in.Permissions,
		IsGlobal:    in.IsGlobal,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if role.Permissions == nil {
		role.Permissions = []Permission{}
	}

	if err := s.store.Set(ctx, roleKey(tenantID, role.ID), role); err != nil {
		return nil, fmt.Errorf("failed to create role: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RolesCreatedTotal.Inc()
	}
	s.logger.WithFields(map[string]interface{}{
		"tenant_id": tenantID,
		"role_id":   role.ID,
		"role_name": role.Name,
	}).Info("role created")
	return role, nil
}

// GetRole returns the role, or (nil, nil) when it does not exist.
func (s *Service) GetRole(ctx context.Context, tenantID, roleID string) (*Role, error) {
	var role Role
	ok, err := s.store.GetJSON(ctx, roleKey(tenantID, roleID), &role)
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &role, nil
}

// UpdateRole applies a partial update. ID, TenantID and CreatedAt never
// change; UpdatedAt is bumped. Returns (nil, nil) when the role does not
// exist.
func (s *Service) UpdateRole(ctx context.Context, tenantID, roleID string, upd RoleUpdate) (*Role, error) {
	role, err := s.GetRole(ctx, tenantID, roleID)
	if err != nil || role == nil {
		return nil, err
	}

	if upd.Name != nil {
		if *upd.Name == "" {
			return nil, errors.New("rbac: role name is required")
		}
		role.Name = *upd.Name
	}
	if upd.Description != nil {
		role.Description = *upd.Description
	}
	if upd.Permissions != nil {
		role.Permissions = *upd.Permissions
	}
	if upd.IsGlobal != nil {
		role.IsGlobal = *upd.IsGlobal
	}
	role.UpdatedAt = time.Now().UTC()

	if err := s.store.Set(ctx, roleKey(tenantID, roleID), role); err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}
	return role, nil
}

// DeleteRole removes the role and strips it from every member's assignment
// set. The cascade is pipelined but not atomic: on error the directory may
// hold stragglers until the next integrity sweep. Returns false when the
// role does not exist.
func (s *Service) DeleteRole(ctx context.Context, tenantID, roleID string) (bool, error) {
	role, err := s.GetRole(ctx, tenantID, roleID)
	if err != nil {
		return false, err
	}
	if role == nil {
		return false, nil
	}

	members, err := s.store.SMembers(ctx, tenantUsersKey(tenantID))
	if err != nil {
		return false, fmt.Errorf("failed to list tenant members: %w", err)
	}

	batch, err := s.store.Pipeline()
	if err != nil {
		return false, err
	}
	for _, userID := range members {
		batch.SRem(userRolesKey(userID, tenantID), roleID)
	}
	batch.Del(roleKey(tenantID, roleID))
	if err := execBatch(ctx, batch, "failed to delete role"); err != nil {
		return false, err
	}

	s.logger.WithFields(map[string]interface{}{
		"tenant_id": tenantID,
		"role_id":   roleID,
	}).Info("role deleted")
	return true, nil
}

// GetRolesByTenant lists every role in the tenant. Records that fail to
// decode are skipped and logged; the listing never fails on one bad record.
func (s *Service) GetRolesByTenant(ctx context.Context, tenantID string) ([]*Role, error) {
	keys, err := s.store.ScanAll(ctx, rolePattern(tenantID))
	if err != nil {
		return nil, fmt.Errorf("failed to scan roles: %w", err)
	}

	roles := make([]*Role, 0, len(keys))
	for _, key := range keys {
		raw, ok, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to get role %s: %w", key, err)
		}
		if !ok {
			// deleted between scan and read
			continue
		}
		var role Role
		if err := json.Unmarshal([]byte(raw), &role); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("skipping undecodable role record")
			continue
		}
		roles = append(roles, &role)
	}
	sortRoles(roles)
	return roles, nil
}

// AssignRoleToUser grants the role to the user and records the user as a
// tenant member. The role must already exist in the tenant.
func (s *Service) AssignRoleToUser(ctx context.Context, userID, tenantID, roleID string) error {
	role, err := s.GetRole(ctx, tenantID, roleID)
	if err != nil {
		return err
	}
	if role == nil {
		return ErrRoleNotFound
	}

	batch, err := s.store.Pipeline()
	if err != nil {
		return err
	}
	batch.SAdd(userRolesKey(userID, tenantID), roleID)
	batch.SAdd(tenantUsersKey(tenantID), userID)
	return execBatch(ctx, batch, "failed to assign role")
}

// RemoveRoleFromUser revokes the role. Revoking an assignment that does not
// exist is a no-op; tenant membership is retained.
func (s *Service) RemoveRoleFromUser(ctx context.Context, userID, tenantID, roleID string) error {
	if _, err := s.store.SRem(ctx, userRolesKey(userID, tenantID), roleID); err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	return nil
}

// GetUserRoles returns the roles assigned to the user in the tenant.
// Assignment entries whose role record no longer exists are skipped; the
// janitor sweep prunes them.
func (s *Service) GetUserRoles(ctx context.Context, userID, tenantID string) ([]*Role, error) {
	ids, err := s.store.SMembers(ctx, userRolesKey(userID, tenantID))
	if err != nil {
		return nil, fmt.Errorf("failed to load assignments: %w", err)
	}

	roles := make([]*Role, 0, len(ids))
	for _, id := range ids {
		role, err := s.GetRole(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		if role == nil {
			continue
		}
		roles = append(roles, role)
	}
	sortRoles(roles)
	return roles, nil
}

// GetUsersWithRole returns the tenant members whose assignment set contains
// the role.
func (s *Service) GetUsersWithRole(ctx context.Context, tenantID, roleID string) ([]string, error) {
	members, err := s.store.SMembers(ctx, tenantUsersKey(tenantID))
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant members: %w", err)
	}

	users := make([]string, 0)
	for _, userID := range members {
		ok, err := s.store.SIsMember(ctx, userRolesKey(userID, tenantID), roleID)
		if err != nil {
			return nil, fmt.Errorf("failed to check assignment: %w", err)
		}
		if ok {
			users = append(users, userID)
		}
	}
	sort.Strings(users)
	return users, nil
}

// EffectiveRoles returns every role that participates in permission checks
// for (userID, tenantID): the user's roles in the tenant plus any global
// roles the user holds in other tenants.
func (s *Service) EffectiveRoles(ctx context.Context, userID, tenantID string) ([]*Role, error) {
	roles, err := s.GetUserRoles(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}

	keys, err := s.store.ScanAll(ctx, userRolesPattern(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to scan assignments: %w", err)
	}
	for _, key := range keys {
		_, tenant, ok := parseAssignmentKey(key)
		if !ok || tenant == tenantID {
			continue
		}
		others, err := s.GetUserRoles(ctx, userID, tenant)
		if err != nil {
			return nil, err
		}
		for _, role := range others {
			if role.IsGlobal {
				roles = append(roles, role)
			}
		}
	}
	return roles, nil
}

// HasPermission reports whether the user holds (resource, action) in the
// tenant, optionally narrowed to a resource instance. Only roles owned by
// the tenant or marked global count.
func (s *Service) HasPermission(ctx context.Context, userID, tenantID, resource, action, resourceID string) (bool, error) {
	roles, err := s.EffectiveRoles(ctx, userID, tenantID)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if role.TenantID != tenantID && !role.IsGlobal {
			continue
		}
		if role.Grants(resource, action, resourceID) {
			return true, nil
		}
	}
	return false, nil
}

// HasGlobalRole reports whether any tenant has granted the user a global
// role. Cost grows with the user's tenant count times roles per tenant.
// TODO: maintain an inverted index of global-role holders so the gate does
// not scatter-scan per request.
func (s *Service) HasGlobalRole(ctx context.Context, userID string) (bool, error) {
	keys, err := s.store.ScanAll(ctx, userRolesPattern(userID))
	if err != nil {
		return false, fmt.Errorf("failed to scan assignments: %w", err)
	}
	for _, key := range keys {
		_, tenantID, ok := parseAssignmentKey(key)
		if !ok {
			continue
		}
		ids, err := s.store.SMembers(ctx, key)
		if err != nil {
			return false, fmt.Errorf("failed to load assignments: %w", err)
		}
		for _, id := range ids {
			role, err := s.GetRole(ctx, tenantID, id)
			if err != nil {
				return false, err
			}
			if role != nil && role.IsGlobal {
				return true, nil
			}
		}
	}
	return false, nil
}

// IsTenantMember reports whether the user is in the tenant's membership set.
func (s *Service) IsTenantMember(ctx context.Context, userID, tenantID string) (bool, error) {
	ok, err := s.store.SIsMember(ctx, tenantUsersKey(tenantID), userID)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return ok, nil
}

// GetTenantUsers returns the tenant's member user IDs.
func (s *Service) GetTenantUsers(ctx context.Context, tenantID string) ([]string, error) {
	users, err := s.store.SMembers(ctx, tenantUsersKey(tenantID))
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant members: %w", err)
	}
	sort.Strings(users)
	return users, nil
}

// AddTenantMember records the user as a member of the tenant.
func (s *Service) AddTenantMember(ctx context.Context, userID, tenantID string) error {
	if _, err := s.store.SAdd(ctx, tenantUsersKey(tenantID), userID); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// RemoveTenantMember drops the user from the tenant and deletes the user's
// assignment set for that tenant.
func (s *Service) RemoveTenantMember(ctx context.Context, userID, tenantID string) error {
	batch, err := s.store.Pipeline()
	if err != nil {
		return err
	}
	batch.SRem(tenantUsersKey(tenantID), userID)
	batch.Del(userRolesKey(userID, tenantID))
	return execBatch(ctx, batch, "failed to remove member")
}

// ListTenants returns the IDs of every tenant with at least one member.
func (s *Service) ListTenants(ctx context.Context) ([]string, error) {
	keys, err := s.store.ScanAll(ctx, allTenantUsersPattern())
	if err != nil {
		return nil, fmt.Errorf("failed to scan tenants: %w", err)
	}
	tenants := make([]string, 0, len(keys))
	for _, key := range keys {
		if id, ok := parseTenantUsersKey(key); ok {
			tenants = append(tenants, id)
		}
	}
	sort.Strings(tenants)
	return tenants, nil
}

// execBatch runs the batch and surfaces the first per-command error. Batches
// are best-effort: a failed command does not roll back earlier ones.
func execBatch(ctx context.Context, batch kv.Batch, msg string) error {
	results, err := batch.Exec(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	for _, res := range results {
		if res.Err != nil {
			return fmt.Errorf("%s: %w", msg, res.Err)
		}
	}
	return nil
}

func sortRoles(roles []*Role) {
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Name != roles[j].Name {
			return roles[i].Name < roles[j].Name
		}
		return roles[i].ID < roles[j].ID
	})
}
