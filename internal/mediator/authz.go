package mediator

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/cel-go/cel"

	"coreapp/internal/core/apperror"
	appctx "coreapp/internal/core/context"
)

// Authorizer evaluates CEL policies against the calling user before a
// command reaches its handler. Policies are compiled once at startup;
// evaluation sees three variables:
//
//	user     map with id, email, roles, permissions, is_admin
//	tenant   map with id
//	request  the request's JSON fields
//
// A request type without a policy is allowed. Anything but a true
// verdict refuses the request.
type Authorizer struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[reflect.Type]cel.Program
}

// NewAuthorizer builds the policy environment.
func NewAuthorizer() (*Authorizer, error) {
	env, err := cel.NewEnv(
		cel.Variable("user", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("tenant", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("authz: build environment: %w", err)
	}
	return &Authorizer{
		env:      env,
		programs: make(map[reflect.Type]cel.Program),
	}, nil
}

// SetPolicy compiles expr and binds it to the request's type. Passing
// the zero value of the type is enough; only its type matters.
func (a *Authorizer) SetPolicy(request any, expr string) error {
	_, t := normalize(request)
	if t == nil {
		return fmt.Errorf("authz: nil request")
	}
	ast, issues := a.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("authz: compile policy for %s: %w", t, issues.Err())
	}
	if ast.OutputType().String() != "bool" {
		return fmt.Errorf("authz: policy for %s must yield bool, got %s", t, ast.OutputType())
	}
	prg, err := a.env.Program(ast)
	if err != nil {
		return fmt.Errorf("authz: build program for %s: %w", t, err)
	}

	a.mu.Lock()
	a.programs[t] = prg
	a.mu.Unlock()
	return nil
}

// Authorize evaluates the policy for request, if any. An anonymous
// caller is refused as unauthenticated before any policy runs.
func (a *Authorizer) Authorize(ctx context.Context, request any) error {
	_, t := normalize(request)
	if t == nil {
		return apperror.NewForbidden("request type unknown")
	}

	a.mu.RLock()
	prg := a.programs[t]
	a.mu.RUnlock()
	if prg == nil {
		return nil
	}

	user := appctx.GetUser(ctx)
	if user == nil {
		return apperror.NewUnauthorized("authentication required")
	}

	out, _, err := prg.ContextEval(ctx, map[string]any{
		"user":    userVars(user),
		"tenant":  map[string]any{"id": user.TenantID},
		"request": requestVars(request),
	})
	if err != nil {
		return apperror.NewForbidden("policy evaluation failed").WithCause(err)
	}
	allowed, ok := out.Value().(bool)
	if !ok || !allowed {
		return apperror.NewForbidden(fmt.Sprintf("%s is not permitted", t)).
			WithDetail("request_type", t.String())
	}
	return nil
}

func userVars(u *appctx.UserContext) map[string]any {
	return map[string]any{
		"id":          u.UserID,
		"email":       u.Email,
		"roles":       u.Roles,
		"permissions": u.Permissions,
		"is_admin":    u.IsAdmin,
	}
}

// requestVars exposes the request through its JSON shape so policies
// address fields the way API clients see them.
func requestVars(request any) map[string]any {
	raw, err := json.Marshal(request)
	if err != nil {
		return map[string]any{}
	}
	vars := map[string]any{}
	if err := json.Unmarshal(raw, &vars); err != nil {
		return map[string]any{}
	}
	return vars
}
