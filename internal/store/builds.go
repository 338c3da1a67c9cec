package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bricklayer/pkg/utils"
)

// Build statuses. A build is inserted as running and finalized exactly once.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Build is one recorded build attempt.
type Build struct {
	ID          string     `json:"id"`
	RecipePath  string     `json:"recipe_path"`
	BaseRef     string     `json:"base_ref"`
	Status      string     `json:"status"`
	Digest      *string    `json:"digest,omitempty"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// InsertBuild records the start of a build and returns the new record.
func InsertBuild(ctx context.Context, db *sql.DB, recipePath, baseRef string) (*Build, error) {
	id, err := utils.NewUUID7()
	if err != nil {
		return nil, fmt.Errorf("generate build id: %w", err)
	}
	now := time.Now().Unix()

	query := `
		INSERT INTO builds (id, recipe_path, base_ref, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`

	if _, err := db.ExecContext(ctx, query, id, recipePath, baseRef, StatusRunning, now); err != nil {
		return nil, fmt.Errorf("insert build: %w", err)
	}

	return &Build{
		ID:         id,
		RecipePath: recipePath,
		BaseRef:    baseRef,
		Status:     StatusRunning,
		StartedAt:  time.Unix(now, 0),
	}, nil
}

// FinishBuild finalizes a running build as succeeded with its image digest.
func FinishBuild(ctx context.Context, db *sql.DB, id, imageDigest string) error {
	query := `UPDATE builds SET status = ?, digest = ?, completed_at = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, StatusSucceeded, imageDigest, time.Now().Unix(), id); err != nil {
		return fmt.Errorf("finish build: %w", err)
	}
	return nil
}

// FailBuild finalizes a running build as failed with the failure reason.
func FailBuild(ctx context.Context, db *sql.DB, id, reason string) error {
	query := `UPDATE builds SET status = ?, error = ?, completed_at = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, StatusFailed, reason, time.Now().Unix(), id); err != nil {
		return fmt.Errorf("fail build: %w", err)
	}
	return nil
}

// GetBuildByID retrieves a single build record.
func GetBuildByID(ctx context.Context, db *sql.DB, id string) (*Build, error) {
	query := `
		SELECT id, recipe_path, base_ref, status, digest, error, started_at, completed_at
		FROM builds WHERE id = ?
	`
	return scanBuild(db.QueryRowContext(ctx, query, id))
}

// ListBuilds returns the most recent builds, newest first.
func ListBuilds(ctx context.Context, db *sql.DB, limit int) ([]*Build, error) {
	query := `
		SELECT id, recipe_path, base_ref, status, digest, error, started_at, completed_at
		FROM builds ORDER BY started_at DESC, id DESC LIMIT ?
	`
	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}
	defer rows.Close()

	var builds []*Build
	for rows.Next() {
		build, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, build)
	}

	return builds, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBuild(row rowScanner) (*Build, error) {
	var (
		build       Build
		startedAt   int64
		completedAt sql.NullInt64
	)
	err := row.Scan(&build.ID, &build.RecipePath, &build.BaseRef, &build.Status,
		&build.Digest, &build.Error, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	build.StartedAt = time.Unix(startedAt, 0)
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		build.CompletedAt = &t
	}
	return &build, nil
}
