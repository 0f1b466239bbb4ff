package authorization

import (
	"context"
	_ "embed"
	"errors"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	RoleCustomer = "customer"
	RoleService  = "service"
	RoleAdmin    = "admin"
)

const (
	ObjectPricing  = "pricing"
	ObjectFeature  = "feature"
	ObjectOrder    = "order"
	ObjectPackage  = "package"
	ObjectLedger   = "ledger"
	ObjectCustomer = "customer"
)

const (
	ActionManage   = "manage"
	ActionView     = "view"
	ActionActivate = "activate"
	ActionRefund   = "refund"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidRole   = errors.New("invalid_role")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

// Service answers whether a role may perform an action on an object.
type Service interface {
	Authorize(ctx context.Context, role, object, action string) error
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer loads policies from the casbin_rule table and makes sure the
// default grants exist.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := SeedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, role, object, action string) error {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return ErrInvalidRole
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(subject(role), object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization denied",
			zap.String("role", role),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func subject(role string) string {
	return "role:" + role
}

// DefaultPolicies lists the grants every deployment starts with. Customers
// hold none: their endpoints are owner-scoped instead.
func DefaultPolicies() [][]string {
	return [][]string{
		{subject(RoleAdmin), ObjectPricing, ActionManage},
		{subject(RoleAdmin), ObjectFeature, ActionManage},
		{subject(RoleAdmin), ObjectOrder, ActionManage},
		{subject(RoleAdmin), ObjectPackage, ActionManage},
		{subject(RoleAdmin), ObjectLedger, ActionManage},
		{subject(RoleAdmin), ObjectCustomer, ActionView},

		{subject(RoleService), ObjectCustomer, ActionActivate},
	}
}

// DefaultGroupings makes admins inherit everything the service role may do.
func DefaultGroupings() [][]string {
	return [][]string{
		{subject(RoleAdmin), subject(RoleService)},
	}
}

// SeedPolicies adds missing default grants; existing rows are left alone.
func SeedPolicies(enforcer *casbin.SyncedEnforcer) error {
	for _, policy := range DefaultPolicies() {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	for _, grouping := range DefaultGroupings() {
		has, err := enforcer.HasGroupingPolicy(grouping)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddGroupingPolicy(grouping); err != nil {
			return err
		}
	}
	return nil
}
