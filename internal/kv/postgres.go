package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

const DefaultTable = "yin_trade_kv"

// Postgres stores keys in a single table and announces changes with
// NOTIFY so that other processes can watch them.
type Postgres struct {
	db      *pgxpool.Pool
	log     *slog.Logger
	table   string
	channel string
	origin  string
}

type pgNotice struct {
	Key     string `json:"key"`
	Origin  string `json:"origin"`
	Deleted bool   `json:"deleted,omitempty"`
}

func NewPostgres(db *pgxpool.Pool, table string, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	if table == "" {
		table = DefaultTable
	}
	return &Postgres{
		db:      db,
		log:     logger,
		table:   pq.QuoteIdentifier(table),
		channel: table + "_changes",
		origin:  uuid.NewString(),
	}
}

func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key        text PRIMARY KEY,
			value      text NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)
	`, p.table))
	return err
}

func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.db.QueryRow(ctx, fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, p.table), key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (p *Postgres) Set(ctx context.Context, key, value string) error {
	return p.mutate(ctx, key, false, fmt.Sprintf(`
		INSERT INTO %s (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, p.table), key, value)
}

func (p *Postgres) Remove(ctx context.Context, key string) error {
	return p.mutate(ctx, key, true, fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, p.table), key)
}

func (p *Postgres) mutate(ctx context.Context, key string, deleted bool, query string, args ...any) error {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	cmd, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}
	payload, _ := json.Marshal(pgNotice{Key: key, Origin: p.origin, Deleted: deleted})
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, p.channel, string(payload)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Watch holds one pooled connection in LISTEN mode until ctx ends.
func (p *Postgres) Watch(ctx context.Context) (<-chan Change, error) {
	conn, err := p.db.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pq.QuoteIdentifier(p.channel)); err != nil {
		conn.Release()
		return nil, err
	}
	out := make(chan Change, 64)
	go func() {
		defer close(out)
		defer conn.Release()
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.log.Warn("kv listen stopped", "err", err)
				}
				return
			}
			var notice pgNotice
			if err := json.Unmarshal([]byte(n.Payload), &notice); err != nil || notice.Origin == p.origin {
				continue
			}
			c := Change{Key: notice.Key, Deleted: notice.Deleted, Origin: notice.Origin}
			if !notice.Deleted {
				v, ok, err := p.Get(ctx, notice.Key)
				if err != nil || !ok {
					continue
				}
				c.NewValue = v
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
