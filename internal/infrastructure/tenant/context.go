// Package tenant provides store context management for multi-store support.
package tenant

import (
	domainEvents "github.com/sessionlens/pixeld/internal/domain/events"
	domainSession "github.com/sessionlens/pixeld/internal/domain/session"
	"github.com/sessionlens/pixeld/internal/infrastructure/caching/manager"
	persistenceEvents "github.com/sessionlens/pixeld/internal/infrastructure/persistence/events"
	persistenceSessions "github.com/sessionlens/pixeld/internal/infrastructure/persistence/sessions"
)

// Context holds store-specific request context
type Context struct {
	StoreID      string
	Database     *Database
	Status       string
	CacheManager *manager.Manager
}

// Close cleans up the store context
func (ctx *Context) Close() error {
	if ctx.Database != nil {
		return ctx.Database.Close()
	}
	return nil
}

// GetStoreID returns the store ID for this context
func (ctx *Context) GetStoreID() string {
	return ctx.StoreID
}

// GetDatabase returns the store database connection
func (ctx *Context) GetDatabase() *Database {
	return ctx.Database
}

// GetCacheManager returns the cache manager
func (ctx *Context) GetCacheManager() *manager.Manager {
	return ctx.CacheManager
}

// IsActive returns true if the store is active
func (ctx *Context) IsActive() bool {
	return ctx.Status == "active"
}

// GetDatabaseInfo returns database connection information for logging
func (ctx *Context) GetDatabaseInfo() string {
	if ctx.Database != nil {
		return ctx.Database.GetConnectionInfo()
	}
	return "no database connection"
}

// =============================================================================
// Repository Factory Methods
// =============================================================================

// RawEventRepo returns a raw event repository instance.
// It returns the interface type from the domain layer.
func (ctx *Context) RawEventRepo() domainEvents.RawEventRepository {
	return persistenceEvents.NewSQLRawEventRepository(ctx.Database.Conn)
}

// ClientSessionRepo returns a client session repository instance.
// It returns the interface type from the domain layer.
func (ctx *Context) ClientSessionRepo() domainSession.ClientSessionRepository {
	return persistenceSessions.NewSQLClientSessionRepository(ctx.Database.Conn)
}

// AggregateRepo returns a session aggregate repository instance.
// It returns the interface type from the domain layer.
func (ctx *Context) AggregateRepo() domainSession.AggregateRepository {
	return persistenceSessions.NewSQLAggregateRepository(ctx.Database.Conn)
}
