package database

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"gorm.io/gorm"
)

const (
	AdminRole    = "admin"
	AdminPath    = "/v1/admin*"
	AdminMethods = "(GET)|(POST)|(PUT)|(DELETE)"
)

// Casbin builds the enforcer from the RESTful RBAC model file with policies stored
// in db. The admin role always gets access to the admin routes.
func Casbin(db *gorm.DB, modelPath string) (*casbin.Enforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize casbin adapter: %w", err)
	}

	m, err := model.NewModelFromFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}
	return newEnforcer(m, adapter)
}

func newEnforcer(m model.Model, adapter persist.Adapter) (*casbin.Enforcer, error) {
	e, err := casbin.NewEnforcer(m, adapter)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	if hasPolicy, _ := e.HasPolicy(AdminRole, AdminPath, AdminMethods); !hasPolicy {
		if _, err := e.AddPolicy(AdminRole, AdminPath, AdminMethods); err != nil {
			return nil, fmt.Errorf("failed to add admin policy: %w", err)
		}
	}

	if err := e.LoadPolicy(); err != nil {
		return nil, err
	}
	return e, nil
}

// GrantAdmins assigns the admin role to each user id that does not hold it yet.
func GrantAdmins(e *casbin.Enforcer, userIDs []string) error {
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		if _, err := e.AddRoleForUser(id, AdminRole); err != nil {
			return fmt.Errorf("failed to grant admin to %s: %w", id, err)
		}
	}
	return nil
}
