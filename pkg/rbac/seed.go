package rbac

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/curatorhq/curator/pkg/observability"
)

// SystemTenantID is the home tenant for the builtin role set. The
// tenant-scoped builtins live there as reference templates; the
// platform-operator role lives there as the actual global role.
const SystemTenantID = "system"

// seedDebounce coalesces bursts of file events into a single reload.
const seedDebounce = 300 * time.Millisecond

// SeedRole is one entry of the role seed file.
type SeedRole struct {
	TenantID    string       `yaml:"tenant_id" json:"tenant_id"`
	Name        string       `yaml:"name" json:"name"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	IsGlobal    bool         `yaml:"is_global,omitempty" json:"is_global,omitempty"`
	Permissions []Permission `yaml:"permissions" json:"permissions"`
}

type seedFile struct {
	Roles []SeedRole `yaml:"roles"`
}

// BuiltinRoles returns the default role set seeded on every Apply.
func BuiltinRoles() []SeedRole {
	return []SeedRole{
		{
			TenantID:    SystemTenantID,
			Name:        "tenant-admin",
			Description: "Full access to tenant content, collections and roles",
			Permissions: []Permission{
				{Resource: ResourceContent, Actions: []string{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionPublish}},
				{Resource: ResourceCollection, Actions: []string{ActionCreate, ActionRead, ActionUpdate, ActionDelete}},
				{Resource: ResourceRole, Actions: []string{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionAssign}},
				{Resource: ResourceTenant, Actions: []string{ActionRead, ActionUpdate}},
			},
		},
		{
			TenantID:    SystemTenantID,
			Name:        "content-editor",
			Description: "Can create, edit and publish content",
			Permissions: []Permission{
				{Resource: ResourceContent, Actions: []string{ActionCreate, ActionRead, ActionUpdate, ActionPublish}},
				{Resource: ResourceCollection, Actions: []string{ActionRead, ActionUpdate}},
			},
		},
		{
			TenantID:    SystemTenantID,
			Name:        "content-viewer",
			Description: "Read-only access to content and collections",
			Permissions: []Permission{
				{Resource: ResourceContent, Actions: []string{ActionRead}},
				{Resource: ResourceCollection, Actions: []string{ActionRead}},
			},
		},
		{
			TenantID:    SystemTenantID,
			Name:        "platform-operator",
			Description: "Cross-tenant operator access",
			IsGlobal:    true,
			Permissions: []Permission{
				{Resource: ResourceContent, Actions: []string{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionPublish}},
				{Resource: ResourceCollection, Actions: []string{ActionCreate, ActionRead, ActionUpdate, ActionDelete}},
				{Resource: ResourceRole, Actions: []string{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionAssign}},
				{Resource: ResourceTenant, Actions: []string{ActionCreate, ActionRead, ActionUpdate, ActionDelete}},
			},
		},
	}
}

// Seeder upserts the builtin roles and an optional YAML seed file into the
// directory, and can hot-reload the file on change.
type Seeder struct {
	svc     *Service
	path    string
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewSeeder creates a seeder. path may be empty, in which case only the
// builtin roles are applied and Watch is unavailable.
func NewSeeder(svc *Service, path string, logger *observability.Logger, metrics *observability.Metrics) *Seeder {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Seeder{
		svc:     svc,
		path:    path,
		logger:  logger.WithComponent("seed"),
		metrics: metrics,
	}
}

// Apply upserts the builtin roles plus the seed file entries, keyed by
// (tenant, name). Existing roles keep their ID and CreatedAt; description,
// permissions and the global flag are updated when they differ.
func (s *Seeder) Apply(ctx context.Context) (created, updated int, err error) {
	defer func() {
		if s.metrics != nil {
			status := "ok"
			if err != nil {
				status = "error"
			}
			s.metrics.SeedReloadsTotal.WithLabelValues(status).Inc()
		}
	}()

	entries := BuiltinRoles()
	if s.path != "" {
		fileEntries, ferr := loadSeedFile(s.path)
		if ferr != nil {
			return 0, 0, ferr
		}
		entries = append(entries, fileEntries...)
	}

	// One role listing per tenant, not per entry.
	existing := make(map[string]map[string]*Role)
	for _, e := range entries {
		if e.TenantID == "" || e.Name == "" {
			return created, updated, fmt.Errorf("seed entry %q/%q: tenant_id and name are required", e.TenantID, e.Name)
		}
		if _, ok := existing[e.TenantID]; ok {
			continue
		}
		roles, lerr := s.svc.GetRolesByTenant(ctx, e.TenantID)
		if lerr != nil {
			return created, updated, lerr
		}
		byName := make(map[string]*Role, len(roles))
		for _, r := range roles {
			byName[r.Name] = r
		}
		existing[e.TenantID] = byName
	}

	for _, e := range entries {
		if e.Permissions == nil {
			e.Permissions = []Permission{}
		}
		current := existing[e.TenantID][e.Name]
		if current == nil {
			role, cerr := s.svc.CreateRole(ctx, e.TenantID, RoleInput{
				Name:        e.Name,
				Description: e.Description,
				Permissions: e.Permissions,
				IsGlobal:    e.IsGlobal,
			})
			if cerr != nil {
				return created, updated, cerr
			}
			existing[e.TenantID][e.Name] = role
			created++
			continue
		}

		if current.Description == e.Description &&
			current.IsGlobal == e.IsGlobal &&
			reflect.DeepEqual(current.Permissions, e.Permissions) {
			continue
		}

		desc := e.Description
		global := e.IsGlobal
		perms := e.Permissions
		role, uerr := s.svc.UpdateRole(ctx, e.TenantID, current.ID, RoleUpdate{
			Description: &desc,
			Permissions: &perms,
			IsGlobal:    &global,
		})
		if uerr != nil {
			return created, updated, uerr
		}
		existing[e.TenantID][e.Name] = role
		updated++
	}

	s.logger.WithFields(map[string]interface{}{
		"created": created,
		"updated": updated,
		"entries": len(entries),
	}).Info("seed applied")
	return created, updated, nil
}

// Watch re-applies the seed whenever the file changes. Bursts of events are
// debounced; an editor rename-replace is handled by re-adding the watch
// path. Watch blocks until ctx is done.
func (s *Seeder) Watch(ctx context.Context) error {
	if s.path == "" {
		return errors.New("rbac: seed watch requires a seed path")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.path, err)
	}

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	schedule := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(seedDebounce)
	}

	s.logger.WithField("path", s.path).Info("watching seed file")
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				schedule()
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				// Editors replace the file on save; the watch follows the
				// old inode and must be re-added.
				if err := s.rewatch(watcher); err != nil {
					s.logger.WithError(err).Error("failed to re-watch seed file")
				} else {
					schedule()
				}
			}
		case <-timer.C:
			if _, _, err := s.Apply(ctx); err != nil {
				s.logger.WithError(err).Error("seed reload failed")
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.WithError(werr).Warn("seed watcher error")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Seeder) rewatch(watcher *fsnotify.Watcher) error {
	var err error
	for i := 0; i < 20; i++ {
		if err = watcher.Add(s.path); err == nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return err
}

func loadSeedFile(path string) ([]SeedRole, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return f.Roles, nil
}
