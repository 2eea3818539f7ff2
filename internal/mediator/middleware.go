package mediator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"coreapp/internal/core/apperror"

	"github.com/go-playground/validator/v10"
)

var tracer = otel.Tracer("coreapp/mediator")

// recoveryMiddleware converts handler panics into internal errors so a
// broken handler cannot take the process down with it.
func (m *Mediator) recoveryMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, request any) (out any, err error) {
			defer func() {
				if r := recover(); r != nil {
					m.log.WithContext(ctx).Errorw("panic in handler",
						"request", requestName(request),
						"panic", r,
						"stack", string(debug.Stack()),
					)
					out = nil
					err = apperror.NewInternal(fmt.Errorf("panic: %v", r))
				}
			}()
			return next(ctx, request)
		}
	}
}

// telemetryMiddleware traces, times and logs every dispatch.
func (m *Mediator) telemetryMiddleware(kind string) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, request any) (any, error) {
			name := requestName(request)
			ctx, span := tracer.Start(ctx, "mediator."+kind,
				trace.WithAttributes(
					attribute.String("request.type", name),
				))
			defer span.End()

			start := m.clk.Now()
			out, err := next(ctx, request)
			elapsed := m.clk.Now().Sub(start)

			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			mediatorRequestsTotal.WithLabelValues(kind, name, outcome).Inc()
			mediatorDuration.WithLabelValues(kind, name).Observe(elapsed.Seconds())

			log := m.log.WithContext(ctx)
			if err != nil {
				log.Warnw(kind+" failed",
					"request", name,
					"elapsed", elapsed,
					"error", err,
				)
			} else {
				log.Debugw(kind+" handled",
					"request", name,
					"elapsed", elapsed,
				)
			}
			return out, err
		}
	}
}

// validationMiddleware rejects malformed requests before any
// transactional work starts. Struct tags run first, then the request's
// own Validate when it has one.
func (m *Mediator) validationMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, request any) (any, error) {
			if err := m.validateRequest(ctx, request); err != nil {
				return nil, err
			}
			return next(ctx, request)
		}
	}
}

func (m *Mediator) validateRequest(ctx context.Context, request any) error {
	if t := reflect.TypeOf(request); t != nil && t.Kind() == reflect.Struct {
		if err := m.validate.StructCtx(ctx, request); err != nil {
			var invalid *validator.InvalidValidationError
			if errors.As(err, &invalid) {
				return apperror.NewInternal(err)
			}
			return validationError(err)
		}
	}
	if v, ok := request.(Validatable); ok {
		if err := v.Validate(ctx); err != nil {
			var appErr *apperror.AppError
			if errors.As(err, &appErr) {
				return err
			}
			return apperror.NewValidation(err.Error())
		}
	}
	return nil
}

// validationError flattens validator field errors into one refusal
// with a detail per offending field.
func validationError(err error) error {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return apperror.NewValidation(err.Error())
	}
	appErr := apperror.NewValidation("request validation failed")
	for _, f := range fields {
		appErr = appErr.WithDetail(strings.ToLower(f.Field()), f.Tag())
	}
	return appErr
}

// authzMiddleware evaluates the policy bound to the request type.
// Types without a policy pass through.
func (m *Mediator) authzMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, request any) (any, error) {
			if m.authz != nil {
				if err := m.authz.Authorize(ctx, request); err != nil {
					return nil, err
				}
			}
			return next(ctx, request)
		}
	}
}

// gateMiddleware refuses Gated commands while their class is tripped.
// The refusal carries the staleness that tripped the gate so callers
// can surface an actionable message.
func (m *Mediator) gateMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, request any) (any, error) {
			g, ok := request.(Gated)
			if !ok || m.gate == nil {
				return next(ctx, request)
			}
			class := g.GateClass()
			if m.gate.IsGateOpen(class) {
				return next(ctx, request)
			}
			staleFor, threshold := m.gateDetail(class)
			m.log.WithContext(ctx).Warnw("command refused by availability gate",
				"request", requestName(request),
				"class", class,
				"staleFor", staleFor,
			)
			return nil, apperror.NewSalesDisabled(class, staleFor, threshold)
		}
	}
}

func (m *Mediator) gateDetail(class string) (staleFor, threshold time.Duration) {
	for _, st := range m.gate.Health().Classes {
		if st.Class == class {
			return st.StaleFor, st.Threshold
		}
	}
	return 0, 0
}

func requestName(request any) string {
	if request == nil {
		return "<nil>"
	}
	return reflect.TypeOf(request).String()
}
