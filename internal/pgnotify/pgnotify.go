// Package pgnotify adapts a pgx connection to the listener.Conn interface so
// the relay can subscribe to PostgreSQL LISTEN/NOTIFY channels.
package pgnotify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/shineum/contact-relay/internal/listener"
	relaytls "github.com/shineum/contact-relay/internal/tls"
)

// DialerConfig holds the configuration for connecting to PostgreSQL.
type DialerConfig struct {
	// URL is a PostgreSQL connection string (URL or keyword/value form).
	URL string

	// Strict forces TLS with certificate verification regardless of sslmode.
	Strict bool

	// CAFile optionally pins the CA bundle used in strict mode.
	CAFile string
}

// NewDialer parses the connection string once and returns a listener.Dialer
// that opens a fresh pgx connection on every call.
func NewDialer(cfg DialerConfig) (listener.Dialer, error) {
	connCfg, err := ParseConfig(cfg)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) (listener.Conn, error) {
		conn, err := pgx.ConnectConfig(ctx, connCfg.Copy())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return &Conn{conn: conn}, nil
	}, nil
}

// ParseConfig parses the connection string and applies the TLS policy.
func ParseConfig(cfg DialerConfig) (*pgx.ConnConfig, error) {
	connCfg, err := pgx.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if cfg.Strict {
		tlsCfg, err := relaytls.ClientConfig(connCfg.Host, true, cfg.CAFile)
		if err != nil {
			return nil, err
		}
		connCfg.TLSConfig = tlsCfg
		connCfg.Fallbacks = nil
	}

	return connCfg, nil
}

// Conn is a listener.Conn backed by a single pgx connection.
type Conn struct {
	conn *pgx.Conn
}

// Listen subscribes the connection to channel.
func (c *Conn) Listen(ctx context.Context, channel string) error {
	_, err := c.conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())
	return err
}

// WaitForNotification blocks until a notification arrives or ctx is done.
func (c *Conn) WaitForNotification(ctx context.Context) (*listener.Notification, error) {
	n, err := c.conn.WaitForNotification(ctx)
	if err != nil {
		return nil, err
	}
	return &listener.Notification{
		Channel:    n.Channel,
		Payload:    n.Payload,
		PID:        n.PID,
		ReceivedAt: time.Now(),
	}, nil
}

// Ping checks that the server still answers.
func (c *Conn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Close terminates the connection.
func (c *Conn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// ColumnExists reports whether table has a column named column.
func (c *Conn) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	const query = `SELECT EXISTS (
		SELECT 1 FROM information_schema.columns
		WHERE table_name = $1 AND column_name = $2
	)`

	var exists bool
	if err := c.conn.QueryRow(ctx, query, table, column).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// ColumnChecker is implemented by connections that can inspect the schema.
type ColumnChecker interface {
	ColumnExists(ctx context.Context, table, column string) (bool, error)
}

// RequireColumnHook returns a connect hook that warns when table lacks
// column. Connections that cannot inspect the schema are skipped.
func RequireColumnHook(table, column string) listener.ConnectHook {
	return func(ctx context.Context, c listener.Conn) {
		checker, ok := c.(ColumnChecker)
		if !ok {
			return
		}

		exists, err := checker.ColumnExists(ctx, table, column)
		if err != nil {
			slog.Error("failed to check column", "table", table, "column", column, "error", err)
			return
		}
		if !exists {
			slog.Warn("column not found", "table", table, "column", column)
			return
		}
		slog.Info("column confirmed", "table", table, "column", column)
	}
}
