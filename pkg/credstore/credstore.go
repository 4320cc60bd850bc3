// Package credstore rotates through a durable pool of upstream access
// credentials. The pool itself is written by an external registration job;
// this package only reads credential rows and persists a single rotation
// cursor, so a checkout stays O(1) no matter how large the pool grows.
package credstore

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/qq148376839/video-parser-service/pkg/storage"
)

// ErrNoActiveCredential is returned when the pool holds no credential that
// is both active and unexpired.
var ErrNoActiveCredential = errors.New("credstore: no active credential available")

const cursorKey = "credential_cursor"

type Credential struct {
	ID           int64
	Email        string
	Password     string
	UID          string
	AccessKey    string
	RegisterTime string
	ExpireDate   string
}

type Store struct {
	db *storage.DB
}

func New(db *storage.DB) *Store {
	return &Store{db: db}
}

const selectCredential = `
SELECT id, email, password, uid, access_key,
       COALESCE(register_time, ''), COALESCE(expire_date, '')
FROM credentials
WHERE is_active = 1
  AND (expire_date IS NULL OR expire_date > datetime('now'))`

// CheckoutNext returns the next active, unexpired credential in circular
// id order. The cursor read, the credential lookup and the cursor advance
// happen inside one transaction so two concurrent resolvers can never be
// handed the same credential.
//
// The cursor is the id of the last credential handed out (not an offset
// into the active set): an id-indexed lookup stays cheap for large pools,
// and rows deactivated by the external lifecycle job are skipped naturally.
func (s *Store) CheckoutNext(ctx context.Context) (Credential, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return Credential{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var cursorStr string
	err = tx.QueryRowContext(ctx,
		"SELECT state_value FROM rotation_state WHERE state_key = ?", cursorKey,
	).Scan(&cursorStr)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Credential{}, err
	}
	cursor, _ := strconv.ParseInt(cursorStr, 10, 64)
	err = nil

	cred, err := scanCredential(tx.QueryRowContext(ctx,
		selectCredential+" AND id > ? ORDER BY id LIMIT 1", cursor))
	if errors.Is(err, sql.ErrNoRows) {
		// Past the end of the pool: wrap to the first active credential.
		cred, err = scanCredential(tx.QueryRowContext(ctx,
			selectCredential+" ORDER BY id LIMIT 1"))
	}
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		err = nil
		return Credential{}, ErrNoActiveCredential
	}
	if err != nil {
		return Credential{}, err
	}

	_, err = tx.ExecContext(ctx, `
INSERT OR REPLACE INTO rotation_state (state_key, state_value, updated_at)
VALUES (?, ?, datetime('now'))`, cursorKey, strconv.FormatInt(cred.ID, 10))
	if err != nil {
		return Credential{}, err
	}

	if err = tx.Commit(); err != nil {
		return Credential{}, err
	}
	return cred, nil
}

func scanCredential(row *sql.Row) (Credential, error) {
	var c Credential
	err := row.Scan(&c.ID, &c.Email, &c.Password, &c.UID, &c.AccessKey,
		&c.RegisterTime, &c.ExpireDate)
	return c, err
}

type Stats struct {
	Total   int
	Active  int
	Expired int
}

// PoolStats reports pool composition for the cred CLI. Read-only.
func (s *Store) PoolStats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.SQL().QueryRowContext(ctx, `
SELECT COUNT(*),
       SUM(CASE WHEN is_active = 1 AND (expire_date IS NULL OR expire_date > datetime('now')) THEN 1 ELSE 0 END),
       SUM(CASE WHEN expire_date IS NOT NULL AND expire_date <= datetime('now') THEN 1 ELSE 0 END)
FROM credentials`)
	var active, expired sql.NullInt64
	if err := row.Scan(&st.Total, &active, &expired); err != nil {
		return Stats{}, err
	}
	st.Active = int(active.Int64)
	st.Expired = int(expired.Int64)
	return st, nil
}

// ListActive returns the active pool ordered by id, for inspection only.
func (s *Store) ListActive(ctx context.Context) ([]Credential, error) {
	rows, err := s.db.SQL().QueryContext(ctx, selectCredential+" ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Credential
	for rows.Next() {
		var c Credential
		if err := rows.Scan(&c.ID, &c.Email, &c.Password, &c.UID, &c.AccessKey,
			&c.RegisterTime, &c.ExpireDate); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
