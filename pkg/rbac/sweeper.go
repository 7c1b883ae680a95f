package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/curatorhq/curator/pkg/observability"
)

// SweepReport summarizes one integrity sweep.
type SweepReport struct {
	Tenants             int           `json:"tenants"`
	Roles               int           `json:"roles"`
	Assignments         int           `json:"assignments"`
	MembershipRepairs   int           `json:"membership_repairs"`
	DanglingRolesPruned int           `json:"dangling_roles_pruned"`
	Duration            time.Duration `json:"duration"`
}

// Sweeper repairs the invariants that the non-atomic write paths can leave
// violated: tenant membership must be a superset of assignment, and
// assignment sets must reference live roles.
type Sweeper struct {
	svc     *Service
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewSweeper creates a sweeper over the service's directory.
func NewSweeper(svc *Service, logger *observability.Logger, metrics *observability.Metrics) *Sweeper {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Sweeper{
		svc:     svc,
		logger:  logger.WithComponent("sweep"),
		metrics: metrics,
	}
}

// Sweep walks every assignment key, re-adding missing tenant memberships and
// pruning role IDs that reference no live role. It also refreshes the
// directory size gauges.
func (sw *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	var report SweepReport

	keys, err := sw.svc.store.ScanAll(ctx, allAssignmentsPattern())
	if err != nil {
		return report, fmt.Errorf("failed to scan assignments: %w", err)
	}
	report.Assignments = len(keys)

	for _, key := range keys {
		userID, tenantID, ok := parseAssignmentKey(key)
		if !ok {
			sw.logger.WithField("key", key).Warn("skipping malformed assignment key")
			continue
		}

		member, err := sw.svc.IsTenantMember(ctx, userID, tenantID)
		if err != nil {
			return report, err
		}
		if !member {
			if err := sw.svc.AddTenantMember(ctx, userID, tenantID); err != nil {
				return report, err
			}
			report.MembershipRepairs++
			sw.repair("membership")
			sw.logger.WithFields(map[string]interface{}{
				"user_id":   userID,
				"tenant_id": tenantID,
			}).Warn("repaired missing tenant membership")
		}

		roleIDs, err := sw.svc.store.SMembers(ctx, key)
		if err != nil {
			return report, fmt.Errorf("failed to load assignments: %w", err)
		}
		for _, roleID := range roleIDs {
			role, err := sw.svc.GetRole(ctx, tenantID, roleID)
			if err != nil {
				return report, err
			}
			if role != nil {
				continue
			}
			if _, err := sw.svc.store.SRem(ctx, key, roleID); err != nil {
				return report, fmt.Errorf("failed to prune assignment: %w", err)
			}
			report.DanglingRolesPruned++
			sw.repair("dangling")
			sw.logger.WithFields(map[string]interface{}{
				"user_id":   userID,
				"tenant_id": tenantID,
				"role_id":   roleID,
			}).Warn("pruned dangling role assignment")
		}
	}

	tenants, err := sw.svc.ListTenants(ctx)
	if err != nil {
		return report, err
	}
	report.Tenants = len(tenants)

	roleKeys, err := sw.svc.store.ScanAll(ctx, allRolesPattern())
	if err != nil {
		return report, fmt.Errorf("failed to scan roles: %w", err)
	}
	report.Roles = len(roleKeys)

	if sw.metrics != nil {
		sw.metrics.TenantsTotal.Set(float64(report.Tenants))
		sw.metrics.RolesTotal.Set(float64(report.Roles))
	}

	report.Duration = time.Since(start)
	sw.logger.WithFields(map[string]interface{}{
		"tenants":          report.Tenants,
		"roles":            report.Roles,
		"assignments":      report.Assignments,
		"membership_fixes": report.MembershipRepairs,
		"dangling_pruned":  report.DanglingRolesPruned,
		"duration":         report.Duration.String(),
	}).Info("integrity sweep complete")
	return report, nil
}

func (sw *Sweeper) repair(kind string) {
	if sw.metrics != nil {
		sw.metrics.SweepRepairsTotal.WithLabelValues(kind).Inc()
	}
}
