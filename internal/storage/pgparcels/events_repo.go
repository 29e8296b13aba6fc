package pgparcels

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/ParcelBox/internal/apperr"
	"github.com/BearBump/ParcelBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

type eventRepo struct{ tx pgx.Tx }

func (r eventRepo) Append(ctx context.Context, rec *models.AuditRecord) error {
	err := r.tx.QueryRow(ctx, `
INSERT INTO audit_events (actor_kind, actor_id, kind, version, payload, created_at)
VALUES ($1,$2,$3,$4,$5::jsonb,$6)
RETURNING id
`, string(rec.Actor.Kind), rec.Actor.ID, rec.Kind, rec.Version, string(rec.Payload), rec.CreatedAt).Scan(&rec.ID)
	return errors.Wrap(err, "insert audit event")
}

func (r eventRepo) ListContaining(ctx context.Context, filters []json.RawMessage, limit, offset int) ([]*models.AuditRecord, error) {
	if len(filters) == 0 {
		return []*models.AuditRecord{}, nil
	}
	conds := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters)+2)
	for i, f := range filters {
		if !json.Valid(f) {
			return nil, apperr.ErrInvalidArgument.New("bad filter %q", string(f))
		}
		conds = append(conds, fmt.Sprintf("payload @> $%d::jsonb", i+1))
		args = append(args, string(f))
	}
	q := `
SELECT id, actor_kind, actor_id, kind, version, payload, created_at
FROM audit_events
WHERE ` + strings.Join(conds, " OR ") + `
ORDER BY id`
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select audit events")
	}
	defer rows.Close()

	out := []*models.AuditRecord{}
	for rows.Next() {
		var rec models.AuditRecord
		var actorKind string
		var payload []byte
		if err := rows.Scan(&rec.ID, &actorKind, &rec.Actor.ID, &rec.Kind, &rec.Version, &payload, &rec.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan audit event")
		}
		rec.Actor.Kind = models.ActorKind(actorKind)
		rec.Payload = payload
		out = append(out, &rec)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

type outboxRepo struct{ tx pgx.Tx }

func (r outboxRepo) Save(ctx context.Context, jobs []*models.OutboxJob) error {
	if len(jobs) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, j := range jobs {
		b.Queue(`
INSERT INTO outbox_jobs (id, kind, key, payload, max_retries, attempts, next_attempt_at, published_at, last_error, created_at)
VALUES ($1,$2,$3,$4::jsonb,$5,$6,$7,$8,$9,$10)
`, j.ID, j.Kind, j.Key, string(j.Payload), j.MaxRetries, j.Attempts, j.NextAttemptAt, j.PublishedAt, j.LastError, j.CreatedAt)
	}
	if err := r.tx.SendBatch(ctx, b).Close(); err != nil {
		return errors.Wrap(err, "insert outbox jobs")
	}
	return nil
}

const outboxColumns = `id, kind, key, payload, max_retries, attempts, next_attempt_at, published_at, last_error, created_at`

// ClaimDueJobs picks due unpublished jobs and leases them so other relay instances skip
// them until the lease runs out. Uses SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimDueJobs(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxJob, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT `+outboxColumns+`
FROM outbox_jobs
WHERE published_at IS NULL
  AND next_attempt_at IS NOT NULL
  AND next_attempt_at <= $1
ORDER BY next_attempt_at ASC, created_at ASC
LIMIT $2
FOR UPDATE SKIP LOCKED
`, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due jobs")
	}
	picked := []*models.OutboxJob{}
	for rows.Next() {
		var j models.OutboxJob
		var payload []byte
		if err := rows.Scan(&j.ID, &j.Kind, &j.Key, &payload, &j.MaxRetries, &j.Attempts,
			&j.NextAttemptAt, &j.PublishedAt, &j.LastError, &j.CreatedAt); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan due job")
		}
		j.Payload = payload
		picked = append(picked, &j)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	if len(picked) > 0 {
		leaseUntil := now.UTC().Add(lease)
		ids := make([]string, 0, len(picked))
		for _, j := range picked {
			ids = append(ids, j.ID)
			j.NextAttemptAt = &leaseUntil
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox_jobs SET next_attempt_at = $2 WHERE id = ANY($1)`, ids, leaseUntil); err != nil {
			return nil, errors.Wrap(err, "lease jobs")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

func (s *Storage) MarkJobPublished(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
UPDATE outbox_jobs SET published_at = $2, next_attempt_at = NULL, attempts = attempts + 1 WHERE id = $1
`, id, at.UTC())
	if err != nil {
		return errors.Wrap(err, "mark job published")
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound.New("outbox job %s not found", id)
	}
	return nil
}

func (s *Storage) MarkJobFailed(ctx context.Context, id string, lastErr string, nextAttemptAt *time.Time) error {
	tag, err := s.db.Exec(ctx, `
UPDATE outbox_jobs SET last_error = $2, attempts = attempts + 1, next_attempt_at = $3 WHERE id = $1
`, id, lastErr, nextAttemptAt)
	if err != nil {
		return errors.Wrap(err, "mark job failed")
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound.New("outbox job %s not found", id)
	}
	return nil
}

func (s *Storage) DeletePublishedJobs(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM outbox_jobs WHERE published_at IS NOT NULL AND published_at < $1`, before.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "delete published jobs")
	}
	return tag.RowsAffected(), nil
}
