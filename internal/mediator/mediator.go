// Package mediator routes commands and queries to their registered
// handlers through an ordered middleware chain.
//
// Commands run inside a pooled unit of work and come back as a Result
// carrying either the handler output or the refusing error. Queries
// bypass the transactional machinery entirely and fail loudly, so read
// paths stay cheap and a caller can never mistake a refusal for data.
package mediator

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"coreapp/internal/core/apperror"
	"coreapp/internal/core/clock"
	"coreapp/internal/core/uow"
	"coreapp/internal/infrastructure/cache"
	"coreapp/pkg/logger"

	"github.com/go-playground/validator/v10"
)

// Handler is the untyped request endpoint after middleware.
type Handler func(ctx context.Context, request any) (any, error)

// Middleware wraps a handler with cross-cutting behavior. The first
// entry of a chain is the outermost wrapper.
type Middleware func(next Handler) Handler

// Gated marks commands that are refused while their availability class
// is degraded. Classes match the cache service's protected classes.
type Gated interface {
	GateClass() string
}

// Cacheable marks queries served read-through from the cache service.
// CacheKey must embed every input that changes the result, including
// the tenant.
type Cacheable interface {
	CacheKey(ctx context.Context) string
	CacheTTL() time.Duration
}

// Validatable lets a request enforce rules struct tags cannot express.
type Validatable interface {
	Validate(ctx context.Context) error
}

// Gate is the availability switch consulted before gated commands.
// *cache.Service implements it.
type Gate interface {
	IsGateOpen(class string) bool
	Health() cache.HealthSnapshot
}

// QueryCache is the read-through store for Cacheable queries.
// *cache.Service implements it.
type QueryCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool
}

// Config carries the optional collaborators.
type Config struct {
	// Gate refuses Gated commands whose class is tripped. Nil disables
	// gating.
	Gate Gate

	// Cache serves Cacheable queries read-through. Nil disables query
	// caching.
	Cache QueryCache

	// Authz evaluates per-type policies before command handlers run.
	// Nil allows everything.
	Authz *Authorizer
}

// Mediator dispatches requests by their concrete type. Registration
// happens at startup; dispatch is safe for concurrent use.
type Mediator struct {
	uows     *uow.Factory
	gate     Gate
	cache    QueryCache
	authz    *Authorizer
	validate *validator.Validate
	log      *logger.Logger
	clk      clock.Clock

	mu       sync.RWMutex
	commands map[reflect.Type]Handler
	queries  map[reflect.Type]Handler

	commandChain []Middleware
	queryChain   []Middleware
}

// New creates a mediator. Commands acquire their unit of work from
// uows, one per Send, released when the handler returns.
func New(uows *uow.Factory, cfg Config, log *logger.Logger, clk clock.Clock) (*Mediator, error) {
	if uows == nil {
		return nil, fmt.Errorf("mediator: unit of work factory is required")
	}
	if log == nil {
		log = logger.Default()
	}
	if clk == nil {
		clk = clock.System()
	}

	m := &Mediator{
		uows:     uows,
		gate:     cfg.Gate,
		cache:    cfg.Cache,
		authz:    cfg.Authz,
		validate: validator.New(),
		log:      log.WithComponent("mediator"),
		clk:      clk,
		commands: make(map[reflect.Type]Handler),
		queries:  make(map[reflect.Type]Handler),
	}

	// Order matters: a request must survive every wrapper above the
	// handler, and a refusal short-circuits everything below it.
	m.commandChain = []Middleware{
		m.recoveryMiddleware(),
		m.telemetryMiddleware("command"),
		m.validationMiddleware(),
		m.authzMiddleware(),
		m.gateMiddleware(),
	}
	m.queryChain = []Middleware{
		m.recoveryMiddleware(),
		m.telemetryMiddleware("query"),
		m.validationMiddleware(),
	}

	initMetrics()
	return m, nil
}

// RegisterCommand binds a command type to its handler. The handler
// runs inside a unit of work acquired from the factory for exactly one
// dispatch; the transaction commits when the handler returns nil and
// rolls back otherwise. Registering the same type twice is a wiring
// mistake and fails.
func RegisterCommand[C any, R any](m *Mediator, handler func(ctx context.Context, u *uow.UnitOfWork, cmd C) (R, error)) error {
	t, err := requestKey[C]()
	if err != nil {
		return err
	}
	inner := func(ctx context.Context, request any) (any, error) {
		cmd, ok := request.(C)
		if !ok {
			return nil, apperror.NewInternal(fmt.Errorf("mediator: %s handler received %T", t, request))
		}
		unit := m.uows.Acquire()
		defer m.uows.Release(unit)

		var out R
		err := unit.Execute(ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
			var handlerErr error
			out, handlerErr = handler(ctx, u, cmd)
			return handlerErr
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return m.addCommand(t, chain(inner, m.commandChain))
}

// RegisterQuery binds a query type to its handler. Queries run outside
// any unit of work; Cacheable queries are wrapped read-through before
// the shared middleware applies.
func RegisterQuery[Q any, R any](m *Mediator, handler func(ctx context.Context, q Q) (R, error)) error {
	t, err := requestKey[Q]()
	if err != nil {
		return err
	}
	cached := readThrough(m, handler)
	inner := func(ctx context.Context, request any) (any, error) {
		q, ok := request.(Q)
		if !ok {
			return nil, apperror.NewInternal(fmt.Errorf("mediator: %s handler received %T", t, request))
		}
		return cached(ctx, q)
	}
	return m.addQuery(t, chain(inner, m.queryChain))
}

// Send dispatches a command and reports the outcome as a Result. A
// command with no registered handler yields a failed Result rather
// than an error return: dispatch problems are business-visible
// outcomes on the write path.
func (m *Mediator) Send(ctx context.Context, command any) Result {
	start := m.clk.Now()
	request, t := normalize(command)
	if t == nil {
		return failure(apperror.NewNoHandler("<nil>"), m.clk.Now().Sub(start))
	}

	m.mu.RLock()
	h := m.commands[t]
	m.mu.RUnlock()
	if h == nil {
		mediatorRequestsTotal.WithLabelValues("command", t.String(), "no_handler").Inc()
		m.log.WithContext(ctx).Warnw("command has no handler", "request", t.String())
		return failure(apperror.NewNoHandler(t.String()), m.clk.Now().Sub(start))
	}

	out, err := h(ctx, request)
	elapsed := m.clk.Now().Sub(start)
	if err != nil {
		return failure(err, elapsed)
	}
	return success(out, elapsed)
}

// Query dispatches a read request. Unknown query types and handler
// failures return loud errors; reads have no Result envelope.
func (m *Mediator) Query(ctx context.Context, query any) (any, error) {
	request, t := normalize(query)
	if t == nil {
		return nil, apperror.NewNoHandler("<nil>")
	}

	m.mu.RLock()
	h := m.queries[t]
	m.mu.RUnlock()
	if h == nil {
		mediatorRequestsTotal.WithLabelValues("query", t.String(), "no_handler").Inc()
		return nil, apperror.NewNoHandler(t.String())
	}
	return h(ctx, request)
}

// QueryAs runs Query and asserts the result to R.
func QueryAs[R any](ctx context.Context, m *Mediator, query any) (R, error) {
	var zero R
	out, err := m.Query(ctx, query)
	if err != nil {
		return zero, err
	}
	typed, ok := out.(R)
	if !ok {
		return zero, apperror.NewInternal(fmt.Errorf("mediator: query returned %T, want %T", out, zero))
	}
	return typed, nil
}

// readThrough serves Cacheable queries from the cache service and
// fills it on miss. Codec trouble falls back to the handler, so
// caching can only ever add staleness, never break a read.
func readThrough[Q any, R any](m *Mediator, handler func(ctx context.Context, q Q) (R, error)) func(ctx context.Context, q Q) (R, error) {
	return func(ctx context.Context, q Q) (R, error) {
		ca, ok := any(q).(Cacheable)
		if !ok || m.cache == nil {
			return handler(ctx, q)
		}
		key := ca.CacheKey(ctx)
		if key == "" {
			return handler(ctx, q)
		}

		if raw, hit := m.cache.Get(ctx, key); hit {
			var out R
			if err := json.Unmarshal(raw, &out); err == nil {
				mediatorQueryCache.WithLabelValues("hit").Inc()
				return out, nil
			}
			m.log.WithContext(ctx).Warnw("cached query result unreadable", "key", key)
		}
		mediatorQueryCache.WithLabelValues("miss").Inc()

		out, err := handler(ctx, q)
		if err != nil {
			return out, err
		}
		if raw, marshalErr := json.Marshal(out); marshalErr == nil {
			m.cache.Set(ctx, key, raw, ca.CacheTTL())
		}
		return out, nil
	}
}

func (m *Mediator) addCommand(t reflect.Type, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.commands[t]; dup {
		return fmt.Errorf("mediator: command %s already registered", t)
	}
	m.commands[t] = h
	return nil
}

func (m *Mediator) addQuery(t reflect.Type, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.queries[t]; dup {
		return fmt.Errorf("mediator: query %s already registered", t)
	}
	m.queries[t] = h
	return nil
}

func requestKey[T any]() (reflect.Type, error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() == reflect.Pointer {
		return nil, fmt.Errorf("mediator: register the value type, not %s", t)
	}
	return t, nil
}

// normalize derefs pointer requests so callers can pass a value or a
// pointer to a registered type interchangeably.
func normalize(request any) (any, reflect.Type) {
	if request == nil {
		return nil, nil
	}
	v := reflect.ValueOf(request)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}
	return v.Interface(), v.Type()
}

func chain(h Handler, mws []Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
