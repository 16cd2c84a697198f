package pool

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Kind identifies a store behind the manager
type Kind string

const (
	KindStructured Kind = "structured"
	KindDocument   Kind = "document"
	KindCache      Kind = "cache"
)

// Manager owns one independent pool per store kind. It is built once at
// startup and passed to every accessor.
type Manager struct {
	Structured *Pool[*gorm.DB]
	Document   *Pool[*gorm.DB]
	Cache      *Pool[*redis.Conn]
}

// ManagerConfig holds the pool options and factories for each store kind.
// A nil cache factory leaves Manager.Cache nil (in-memory cache backend).
type ManagerConfig struct {
	Structured        Options
	StructuredFactory Factory[*gorm.DB]
	Document          Options
	DocumentFactory   Factory[*gorm.DB]
	Cache             Options
	CacheFactory      Factory[*redis.Conn]
}

// NewManager opens all pools, closing the ones already opened on failure.
func NewManager(ctx context.Context, cfg ManagerConfig) (*Manager, error) {
	m := &Manager{}
	var err error

	cfg.Structured.Name = string(KindStructured)
	if m.Structured, err = New(ctx, cfg.StructuredFactory, cfg.Structured); err != nil {
		return nil, err
	}
	cfg.Document.Name = string(KindDocument)
	if m.Document, err = New(ctx, cfg.DocumentFactory, cfg.Document); err != nil {
		m.Close()
		return nil, err
	}
	if cfg.CacheFactory != nil {
		cfg.Cache.Name = string(KindCache)
		if m.Cache, err = New(ctx, cfg.CacheFactory, cfg.Cache); err != nil {
			m.Close()
			return nil, err
		}
	}
	return m, nil
}

// Stats returns the counters of every configured pool
func (m *Manager) Stats() []Stats {
	stats := make([]Stats, 0, 3)
	if m.Structured != nil {
		stats = append(stats, m.Structured.Stats())
	}
	if m.Document != nil {
		stats = append(stats, m.Document.Stats())
	}
	if m.Cache != nil {
		stats = append(stats, m.Cache.Stats())
	}
	return stats
}

// Ping borrows one connection from each pool
func (m *Manager) Ping(ctx context.Context) error {
	noop := func(context.Context, *gorm.DB) error { return nil }
	if err := m.Structured.Do(ctx, noop); err != nil {
		return fmt.Errorf("structured store: %w", err)
	}
	if err := m.Document.Do(ctx, noop); err != nil {
		return fmt.Errorf("document store: %w", err)
	}
	if m.Cache != nil {
		if err := m.Cache.Do(ctx, func(context.Context, *redis.Conn) error { return nil }); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	return nil
}

// Close closes every pool
func (m *Manager) Close() {
	if m.Structured != nil {
		m.Structured.Close()
	}
	if m.Document != nil {
		m.Document.Close()
	}
	if m.Cache != nil {
		m.Cache.Close()
	}
}
