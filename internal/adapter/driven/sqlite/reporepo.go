package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/repofeed/internal/domain/model"
	"github.com/ericfisherdev/repofeed/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RepoStore = (*RepoRecordRepo)(nil)

// RepoRecordRepo is the SQLite implementation of the RepoStore port interface.
type RepoRecordRepo struct {
	db *DB
}

// NewRepoRecordRepo creates a new RepoRecordRepo backed by the given DB.
func NewRepoRecordRepo(db *DB) *RepoRecordRepo {
	return &RepoRecordRepo{db: db}
}

const repoColumns = `key, repo_id, name, description, url, avatar_url`

// GetByKey retrieves a record by its surrogate key. Returns nil, nil if the
// record does not exist.
func (r *RepoRecordRepo) GetByKey(ctx context.Context, key int64) (*model.RepoRecord, error) {
	const query = `SELECT ` + repoColumns + ` FROM repos WHERE key = ?`

	rec, err := scanRepoRecord(r.db.Reader.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get repo %d: %w", key, err)
	}

	return rec, nil
}

// ListAll returns all records in insertion order, which is the order the
// remote listing returned them in.
func (r *RepoRecordRepo) ListAll(ctx context.Context) ([]model.RepoRecord, error) {
	const query = `SELECT ` + repoColumns + ` FROM repos ORDER BY key`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	defer rows.Close()

	var recs []model.RepoRecord
	for rows.Next() {
		rec, err := scanRepoRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repo: %w", err)
		}
		recs = append(recs, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate repos: %w", err)
	}

	return recs, nil
}

// Upsert inserts rec, or updates the row that already holds rec.RepoID.
// rec.Key is ignored; keys are assigned by the store.
func (r *RepoRecordRepo) Upsert(ctx context.Context, rec model.RepoRecord) (model.UpsertStatus, error) {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return model.UpsertStatus{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	status, err := upsertRepo(ctx, tx, rec)
	if err != nil {
		return model.UpsertStatus{}, err
	}

	if err := tx.Commit(); err != nil {
		return model.UpsertStatus{}, fmt.Errorf("commit upsert repo %d: %w", rec.RepoID, err)
	}

	return status, nil
}

// DeleteAll removes every record and returns the number of rows deleted.
func (r *RepoRecordRepo) DeleteAll(ctx context.Context) (int, error) {
	result, err := r.db.Writer.ExecContext(ctx, `DELETE FROM repos`)
	if err != nil {
		return 0, fmt.Errorf("delete repos: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}

	return int(n), nil
}

// ReplaceAll atomically deletes every record and upserts recs in order,
// returning how many rows were created or updated. On error nothing changes.
func (r *RepoRecordRepo) ReplaceAll(ctx context.Context, recs []model.RepoRecord) (int, error) {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	result, err := tx.ExecContext(ctx, `DELETE FROM repos`)
	if err != nil {
		return 0, fmt.Errorf("delete repos: %w", err)
	}
	deleted, _ := result.RowsAffected()

	var count int
	for _, rec := range recs {
		status, err := upsertRepo(ctx, tx, rec)
		if err != nil {
			return 0, err
		}
		if status.Changed() {
			count++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit replace repos: %w", err)
	}

	slog.Debug("repos replaced", "deleted", deleted, "written", count)

	return count, nil
}

func upsertRepo(ctx context.Context, tx *sql.Tx, rec model.RepoRecord) (model.UpsertStatus, error) {
	var key int64
	err := tx.QueryRowContext(ctx, `SELECT key FROM repos WHERE repo_id = ?`, rec.RepoID).Scan(&key)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		const insert = `INSERT INTO repos (repo_id, name, description, url, avatar_url) VALUES (?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, insert,
			rec.RepoID, rec.Name, rec.Description, rec.URL, rec.AvatarURL,
		); err != nil {
			return model.UpsertStatus{}, fmt.Errorf("insert repo %d: %w", rec.RepoID, err)
		}
		return model.UpsertStatus{Created: true}, nil

	case err != nil:
		return model.UpsertStatus{}, fmt.Errorf("look up repo %d: %w", rec.RepoID, err)
	}

	const update = `UPDATE repos SET name = ?, description = ?, url = ?, avatar_url = ? WHERE key = ?`
	if _, err := tx.ExecContext(ctx, update,
		rec.Name, rec.Description, rec.URL, rec.AvatarURL, key,
	); err != nil {
		return model.UpsertStatus{}, fmt.Errorf("update repo %d: %w", rec.RepoID, err)
	}
	return model.UpsertStatus{Updated: true}, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRepoRecord(s scanner) (*model.RepoRecord, error) {
	var rec model.RepoRecord
	err := s.Scan(&rec.Key, &rec.RepoID, &rec.Name, &rec.Description, &rec.URL, &rec.AvatarURL)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
