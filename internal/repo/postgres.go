package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sir_venger/docupload/internal/models"
)

const sessionsTable = "upload_sessions"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PGStore сохраняет сессии в Postgres, чтобы их видели все инстансы сервиса.
// Mutations of one key are serialized with SELECT ... FOR UPDATE.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore создаёт пул подключений к Postgres.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sessions dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PGStore{pool: pool}, nil
}

var _ Store = (*PGStore)(nil)

// Create записывает (или перезаписывает) сессию целиком.
func (s *PGStore) Create(ctx context.Context, sess models.UploadSession) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	sqlStr, args, err := psql.
		Insert(sessionsTable).
		Columns("key", "status", "payload", "expires_at", "updated_at").
		Values(sess.Key, string(sess.Status), payload, sess.ExpiresAt, sess.UpdatedAt).
		Suffix(`
					ON CONFLICT (key) DO UPDATE
					SET status     = EXCLUDED.status,
						payload    = EXCLUDED.payload,
						expires_at = EXCLUDED.expires_at,
						updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert sql: %w", err)
	}

	if _, err := s.pool.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("exec upsert: %w", err)
	}
	return nil
}

// Get возвращает сессию по ключу.
func (s *PGStore) Get(ctx context.Context, key string) (models.UploadSession, error) {
	sqlStr, args, err := psql.Select("payload").From(sessionsTable).Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return models.UploadSession{}, fmt.Errorf("build select: %w", err)
	}
	return scanSession(s.pool.QueryRow(ctx, sqlStr, args...))
}

func (s *PGStore) Update(ctx context.Context, key string, fn Mutation) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	sqlStr, args, err := psql.Select("payload").From(sessionsTable).
		Where(sq.Eq{"key": key}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return fmt.Errorf("build select: %w", err)
	}

	sess, err := scanSession(tx.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		return err
	}

	remove, fnErr := fn(&sess)
	switch {
	case remove:
		sqlStr, args, err = psql.Delete(sessionsTable).Where(sq.Eq{"key": key}).ToSql()
	case fnErr == nil:
		var payload []byte
		if payload, err = json.Marshal(sess); err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		sqlStr, args, err = psql.Update(sessionsTable).
			Set("status", string(sess.Status)).
			Set("payload", payload).
			Set("expires_at", sess.ExpiresAt).
			Set("updated_at", sess.UpdatedAt).
			Where(sq.Eq{"key": key}).
			ToSql()
	default:
		return fnErr
	}
	if err != nil {
		return fmt.Errorf("build write: %w", err)
	}

	if _, err := tx.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("exec write: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return fnErr
}

func (s *PGStore) Delete(ctx context.Context, key string) error {
	sqlStr, args, err := psql.Delete(sessionsTable).Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	tag, err := s.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("exec delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *PGStore) Expired(ctx context.Context, now time.Time, limit int) ([]models.UploadSession, error) {
	q := psql.Select("payload").From(sessionsTable).
		Where(sq.LtOrEq{"expires_at": now}).
		OrderBy("expires_at")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query expired: %w", err)
	}
	defer rows.Close()

	var out []models.UploadSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Close освобождает подключения пула.
func (s *PGStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func scanSession(row pgx.Row) (models.UploadSession, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.UploadSession{}, models.ErrNotFound
		}
		return models.UploadSession{}, fmt.Errorf("scan session row: %w", err)
	}

	var sess models.UploadSession
	if err := json.Unmarshal(payload, &sess); err != nil {
		return models.UploadSession{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return sess, nil
}
