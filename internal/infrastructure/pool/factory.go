package pool

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// GormConnFactory hands out gorm sessions pinned to one dedicated *sql.Conn,
// the same way gorm's DB.Connection does. Transactions started on a pooled
// session run on that connection.
type GormConnFactory struct {
	db *gorm.DB
}

// NewGormConnFactory creates a factory over db
func NewGormConnFactory(db *gorm.DB) *GormConnFactory {
	return &GormConnFactory{db: db}
}

// Open implements Factory
func (f *GormConnFactory) Open(ctx context.Context) (*gorm.DB, error) {
	sqlDB, err := f.db.DB()
	if err != nil {
		return nil, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, err
	}
	// A Context forces gorm to clone the statement, so pinning ConnPool does
	// not leak into the root handle.
	session := f.db.Session(&gorm.Session{NewDB: true, Context: context.WithoutCancel(ctx)})
	session.Statement.ConnPool = conn
	return session, nil
}

// Ping implements Factory
func (f *GormConnFactory) Ping(ctx context.Context, db *gorm.DB) error {
	conn, ok := db.Statement.ConnPool.(*sql.Conn)
	if !ok {
		return fmt.Errorf("session is not bound to a dedicated connection")
	}
	return conn.PingContext(ctx)
}

// Close implements Factory
func (f *GormConnFactory) Close(db *gorm.DB) error {
	if conn, ok := db.Statement.ConnPool.(*sql.Conn); ok {
		return conn.Close()
	}
	return nil
}

// GormSessionFactory hands out plain sessions over the shared database/sql
// pool. The Pool still bounds concurrency. Used with single-connection
// databases such as in-memory sqlite.
type GormSessionFactory struct {
	db *gorm.DB
}

// NewGormSessionFactory creates a session factory over db
func NewGormSessionFactory(db *gorm.DB) *GormSessionFactory {
	return &GormSessionFactory{db: db}
}

// Open implements Factory
func (f *GormSessionFactory) Open(ctx context.Context) (*gorm.DB, error) {
	return f.db.Session(&gorm.Session{NewDB: true}), nil
}

// Ping implements Factory
func (f *GormSessionFactory) Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close implements Factory
func (f *GormSessionFactory) Close(*gorm.DB) error { return nil }

// RedisConnFactory hands out dedicated go-redis connections
type RedisConnFactory struct {
	client *redis.Client
}

// NewRedisConnFactory creates a factory over client
func NewRedisConnFactory(client *redis.Client) *RedisConnFactory {
	return &RedisConnFactory{client: client}
}

// Open implements Factory
func (f *RedisConnFactory) Open(ctx context.Context) (*redis.Conn, error) {
	conn := f.client.Conn()
	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// Ping implements Factory
func (f *RedisConnFactory) Ping(ctx context.Context, conn *redis.Conn) error {
	return conn.Ping(ctx).Err()
}

// Close implements Factory
func (f *RedisConnFactory) Close(conn *redis.Conn) error {
	return conn.Close()
}
