package mediator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coreapp/internal/core/apperror"
	"coreapp/internal/core/clock"
	appctx "coreapp/internal/core/context"
	"coreapp/internal/core/uow"
	"coreapp/internal/domain/event"
	"coreapp/internal/infrastructure/storage/memstore"
	"coreapp/pkg/logger"
)

func userCtx(roles ...string) context.Context {
	return appctx.WithUser(medCtx(), &appctx.UserContext{
		UserID:   "u-1",
		TenantID: "acme",
		Email:    "lead@example.com",
		Roles:    roles,
	})
}

func TestPolicyAllowsByRole(t *testing.T) {
	a, err := NewAuthorizer()
	require.NoError(t, err)
	require.NoError(t, a.SetPolicy(&archiveSeason{}, `"manager" in user.roles`))

	assert.NoError(t, a.Authorize(userCtx("manager"), archiveSeason{}))

	err = a.Authorize(userCtx("clerk"), archiveSeason{})
	assert.True(t, apperror.HasCode(err, apperror.CodeForbidden))
}

func TestPolicyReadsRequestFields(t *testing.T) {
	a, err := NewAuthorizer()
	require.NoError(t, err)
	require.NoError(t, a.SetPolicy(createOrder{}, `user.is_admin || request.total <= 1000.0`))

	assert.NoError(t, a.Authorize(userCtx(), createOrder{Number: "SO-1", Total: 900}))

	err = a.Authorize(userCtx(), createOrder{Number: "SO-2", Total: 90000})
	assert.True(t, apperror.HasCode(err, apperror.CodeForbidden))

	admin := appctx.WithUser(medCtx(), &appctx.UserContext{UserID: "root", IsAdmin: true})
	assert.NoError(t, a.Authorize(admin, createOrder{Number: "SO-3", Total: 90000}))
}

func TestPolicyReadsTenant(t *testing.T) {
	a, err := NewAuthorizer()
	require.NoError(t, err)
	require.NoError(t, a.SetPolicy(archiveSeason{}, `tenant.id == "acme"`))

	assert.NoError(t, a.Authorize(userCtx(), archiveSeason{}))

	other := appctx.WithUser(medCtx(), &appctx.UserContext{UserID: "u-2", TenantID: "globex"})
	err = a.Authorize(other, archiveSeason{})
	assert.True(t, apperror.HasCode(err, apperror.CodeForbidden))
}

func TestPolicyRequiresAuthenticatedUser(t *testing.T) {
	a, err := NewAuthorizer()
	require.NoError(t, err)
	require.NoError(t, a.SetPolicy(archiveSeason{}, `true`))

	err = a.Authorize(medCtx(), archiveSeason{})
	assert.True(t, apperror.HasCode(err, apperror.CodeUnauthorized))
}

func TestRequestWithoutPolicyIsAllowed(t *testing.T) {
	a, err := NewAuthorizer()
	require.NoError(t, err)

	assert.NoError(t, a.Authorize(medCtx(), createOrder{}))
}

func TestPolicyCompileRejectsBadExpressions(t *testing.T) {
	a, err := NewAuthorizer()
	require.NoError(t, err)

	require.Error(t, a.SetPolicy(createOrder{}, `user.roles &&`))

	err = a.SetPolicy(createOrder{}, `user.id`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bool")
}

func TestAuthzThroughMediator(t *testing.T) {
	store := memstore.NewStore()
	memstore.Register[*order](store)
	uows := uow.NewFactory(store, nil, event.NewMemorySink(), logger.Nop(), clock.System())

	authz, err := NewAuthorizer()
	require.NoError(t, err)
	require.NoError(t, authz.SetPolicy(archiveSeason{}, `"manager" in user.roles`))

	med, err := New(uows, Config{Authz: authz}, logger.Nop(), clock.System())
	require.NoError(t, err)

	handled := false
	require.NoError(t, RegisterCommand(med, func(ctx context.Context, u *uow.UnitOfWork, cmd archiveSeason) (bool, error) {
		handled = true
		return true, nil
	}))

	res := med.Send(userCtx("clerk"), archiveSeason{Season: "2026-Q1"})
	require.False(t, res.Success)
	assert.False(t, handled)
	assert.True(t, apperror.HasCode(res.Err, apperror.CodeForbidden))

	res = med.Send(userCtx("manager"), archiveSeason{Season: "2026-Q1"})
	require.True(t, res.Success)
	assert.True(t, handled)
}
