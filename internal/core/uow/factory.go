package uow

import (
	"sync"

	"coreapp/internal/core/clock"
	"coreapp/internal/domain"
	"coreapp/internal/domain/event"
	"coreapp/pkg/logger"
)

// Factory hands out pooled units of work. Every Acquire returns a
// distinct idle instance; Release resets it before pooling, so reuse
// can never observe a previous transaction's buffers.
type Factory struct {
	pool sync.Pool
}

// NewFactory creates a factory binding every unit to the given deps.
func NewFactory(store domain.Store, cache CacheInvalidator, sink event.Sink, log *logger.Logger, clk clock.Clock) *Factory {
	f := &Factory{}
	f.pool.New = func() any {
		return New(store, cache, sink, log, clk)
	}
	return f
}

// Acquire returns an idle unit of work.
func (f *Factory) Acquire() *UnitOfWork {
	return f.pool.Get().(*UnitOfWork)
}

// Release resets the unit and returns it to the pool.
func (f *Factory) Release(u *UnitOfWork) {
	u.Reset()
	f.pool.Put(u)
}
