package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Service is the document store used by every other component.
type Service interface {
	Documents

	// RunInTx runs fn inside a single transaction. Writes made through the
	// Documents handed to fn become visible to subscribers only on commit.
	RunInTx(ctx context.Context, fn func(Documents) error) error

	// SubscribeToCollection delivers the full result set of q to onChange once
	// on subscribe and again after every change in collection. Read errors are
	// logged and the callback is skipped. The returned func unsubscribes.
	SubscribeToCollection(collection string, q Query, onChange func([]Record)) func()

	// SubscribeToUserNotifications is SubscribeToCollection over the
	// notifications addressed to userID, newest first.
	SubscribeToUserNotifications(userID string, onChange func([]Record)) func()

	RunMigrations() error

	// Health returns a map of health status information.
	Health() map[string]string

	// Close terminates subscriptions and the connection pool.
	Close()
}

type service struct {
	*store
	dsn     string
	pool    *pgxpool.Pool
	log     logrus.FieldLogger
	watcher *watcher
}

// New connects to the Postgres instance at dsn.
func New(ctx context.Context, dsn string, log logrus.FieldLogger) (Service, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DB_STRING environment variable not set")
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &service{
		store: &store{q: pool},
		dsn:   dsn,
		pool:  pool,
		log:   log,
	}
	s.watcher = newWatcher(pool, s.store, log.WithField("component", "subscriptions"))
	return s, nil
}

func (s *service) RunInTx(ctx context.Context, fn func(Documents) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&store{q: tx})
	})
}

func (s *service) SubscribeToCollection(collection string, q Query, onChange func([]Record)) func() {
	return s.watcher.subscribe(collection, q, onChange)
}

func (s *service) SubscribeToUserNotifications(userID string, onChange func([]Record)) func() {
	if userID == "" {
		s.log.Warn("notification subscription requested without a user id")
		return func() {}
	}
	return s.watcher.subscribe(CollectionNotifications, NotificationsQuery(userID), onChange)
}

// NotificationsQuery selects the notifications addressed to userID, newest first.
func NotificationsQuery(userID string) Query {
	return Query{
		Filter:     Record{"userId": userID},
		OrderBy:    FieldCreatedAt,
		Descending: true,
	}
}

func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := s.pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	ps := s.pool.Stat()
	stats["total_connections"] = strconv.Itoa(int(ps.TotalConns()))
	stats["idle_connections"] = strconv.Itoa(int(ps.IdleConns()))
	stats["acquired_connections"] = strconv.Itoa(int(ps.AcquiredConns()))
	stats["max_connections"] = strconv.Itoa(int(ps.MaxConns()))
	stats["subscriptions"] = strconv.Itoa(s.watcher.count())

	if ps.AcquiredConns() >= ps.MaxConns() {
		stats["message"] = "The database is experiencing heavy load."
	}

	return stats
}

func (s *service) Close() {
	s.watcher.close()
	s.pool.Close()
	s.log.Info("disconnected from database")
}
