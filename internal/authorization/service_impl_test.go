package authorization

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/stitchery/internal/testutil"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	enforcer, err := NewEnforcer(testutil.NewDB(t))
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestAdminManagesCatalog(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, object := range []string{ObjectPricing, ObjectFeature, ObjectOrder, ObjectPackage, ObjectLedger} {
		assert.NoError(t, svc.Authorize(ctx, RoleAdmin, object, ActionManage), object)
		assert.NoError(t, svc.Authorize(ctx, RoleAdmin, object, ActionView), object)
	}
	assert.NoError(t, svc.Authorize(ctx, "ADMIN", ObjectLedger, ActionRefund))
}

func TestServiceRoleMayOnlyActivate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	assert.NoError(t, svc.Authorize(ctx, RoleService, ObjectCustomer, ActionActivate))
	assert.NoError(t, svc.Authorize(ctx, RoleAdmin, ObjectCustomer, ActionActivate))
	assert.ErrorIs(t, svc.Authorize(ctx, RoleService, ObjectOrder, ActionManage), ErrForbidden)
}

func TestCustomerHoldsNoGrants(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Authorize(ctx, RoleCustomer, ObjectOrder, ActionManage), ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(ctx, RoleCustomer, ObjectCustomer, ActionActivate), ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(ctx, "", ObjectOrder, ActionView), ErrInvalidRole)
	assert.ErrorIs(t, svc.Authorize(ctx, RoleAdmin, "", ActionView), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(ctx, RoleAdmin, ObjectOrder, ""), ErrInvalidAction)
}

func TestSeedPoliciesIsIdempotent(t *testing.T) {
	db := testutil.NewDB(t)
	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)
	require.NoError(t, SeedPolicies(enforcer))

	var rules int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM casbin_rule`).Scan(&rules).Error)
	assert.Equal(t, int64(len(DefaultPolicies())+len(DefaultGroupings())), rules)

	again, err := NewEnforcer(db)
	require.NoError(t, err)
	allowed, err := again.Enforce(subject(RoleAdmin), ObjectOrder, ActionManage)
	require.NoError(t, err)
	assert.True(t, allowed)
}
