// Package postgres provides PostgreSQL database adapters.
//
// It implements repository interfaces for data persistence with connection
// pooling, explicit transaction management, and OpenTelemetry tracing.
package postgres

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/forgelabs/genflow/internal/domain"
)

// JobRepo persists and loads Job entities through a minimal pgx pool,
// enforcing the state-machine invariants of §3 on every status update.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

var _ domain.JobRepository = (*JobRepo)(nil)

// Create inserts a new job, assigning an id if the caller left it empty.
func (r *JobRepo) Create(ctx domain.Context, j *domain.Job) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "jobs"),
	)

	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now

	params, err := json.Marshal(j.Params)
	if err != nil {
		return fmt.Errorf("op=job.create.marshal_params: %w", err)
	}

	q := `INSERT INTO jobs (id, owner, kind, params, enriched_prompt, cost, state, progress, attempts,
	                        provider, result, error, moderation, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULL,NULL,$11,$12,$13)`
	_, err = r.Pool.Exec(ctx, q,
		j.ID, j.Owner, j.Kind, params, j.EnrichedPrompt, j.Cost, j.State, j.Progress, j.Attempts,
		j.Provider, j.Moderation, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("op=job.create: %w", err)
	}
	return nil
}

// UpdateStatus applies a partial status update inside an explicit read-committed
// transaction, enforcing the transition and progress invariants (§3, §9b open
// question 2) before writing. A violation returns ErrIllegalTransition and the
// row is left untouched.
func (r *JobRepo) UpdateStatus(ctx domain.Context, id string, upd domain.StatusUpdate) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.UpdateStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "jobs"),
	)

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=job.update_status.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
				slog.Error("failed to rollback job status update", slog.String("job_id", id), slog.Any("error", rbErr))
			}
		}
	}()

	var current domain.Job
	var paramsRaw []byte
	row := tx.QueryRow(ctx, `SELECT state, progress FROM jobs WHERE id=$1 FOR UPDATE`, id)
	if err := row.Scan(&current.State, &current.Progress); err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("op=job.update_status: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("op=job.update_status.select: %w", err)
	}
	_ = paramsRaw

	nextState := current.State
	if upd.State != nil {
		nextState = *upd.State
	}
	nextProgress := current.Progress
	if upd.Progress != nil {
		nextProgress = *upd.Progress
	}

	if upd.State != nil && *upd.State != current.State {
		if err := domain.ValidateTransition(current.State, *upd.State); err != nil {
			return fmt.Errorf("op=job.update_status.transition: %w", err)
		}
	}
	if err := domain.ValidateProgress(current.Progress, nextProgress, nextState); err != nil {
		return fmt.Errorf("op=job.update_status.progress: %w", err)
	}
	// Invariant 1 (§3): a job cannot enter the completed state without a
	// result. worker.complete always sets both together, but enforcing it
	// here too means a future caller that forgets cannot silently persist a
	// resultless completion.
	if nextState == domain.StateCompleted && current.State != domain.StateCompleted && upd.Result == nil {
		return fmt.Errorf("op=job.update_status: %w", domain.ErrIllegalTransition)
	}

	setClauses := []string{"updated_at=$2"}
	args := []any{id, time.Now().UTC()}
	argN := 3

	add := func(clause string, val any) {
		setClauses = append(setClauses, fmt.Sprintf("%s=$%d", clause, argN))
		args = append(args, val)
		argN++
	}
	if upd.State != nil {
		add("state", *upd.State)
		if upd.State.Terminal() {
			add("completed_at", time.Now().UTC())
		}
	}
	if upd.Progress != nil {
		add("progress", *upd.Progress)
	}
	if upd.Attempts != nil {
		add("attempts", *upd.Attempts)
	}
	if upd.Provider != nil {
		add("provider", *upd.Provider)
	}
	if upd.Result != nil {
		resultJSON, err := json.Marshal(upd.Result)
		if err != nil {
			return fmt.Errorf("op=job.update_status.marshal_result: %w", err)
		}
		add("result", resultJSON)
	}
	if upd.Err != nil {
		errJSON, err := json.Marshal(upd.Err)
		if err != nil {
			return fmt.Errorf("op=job.update_status.marshal_error: %w", err)
		}
		add("error", errJSON)
	}
	if upd.Moderation != nil {
		add("moderation", *upd.Moderation)
	}
	if upd.EnrichedPrompt != nil {
		add("enriched_prompt", *upd.EnrichedPrompt)
	}

	q := "UPDATE jobs SET " + joinSet(setClauses) + " WHERE id=$1"
	tag, err := tx.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("op=job.update_status.exec: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=job.update_status: %w", domain.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=job.update_status.commit: %w", err)
	}
	committed = true
	return nil
}

func joinSet(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += ", " + c
	}
	return out
}

// Get loads a job by id.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "jobs"),
	)

	q := `SELECT id, owner, kind, params, enriched_prompt, cost, state, progress, attempts,
	             COALESCE(provider, ''), result, error, moderation, created_at, updated_at, completed_at
	      FROM jobs WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	j, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Job{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.get: %w", err)
	}
	return j, nil
}

// ListByOwner returns a page of an owner's jobs, newest first, optionally
// filtered by kind and/or state.
func (r *JobRepo) ListByOwner(ctx domain.Context, owner string, filters domain.JobFilters, page domain.Page) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListByOwner")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "jobs"),
	)

	q := `SELECT id, owner, kind, params, enriched_prompt, cost, state, progress, attempts,
	             COALESCE(provider, ''), result, error, moderation, created_at, updated_at, completed_at
	      FROM jobs WHERE owner=$1`
	args := []any{owner}
	argN := 2
	if filters.Kind != nil {
		q += fmt.Sprintf(" AND kind=$%d", argN)
		args = append(args, *filters.Kind)
		argN++
	}
	if filters.State != nil {
		q += fmt.Sprintf(" AND state=$%d", argN)
		args = append(args, *filters.State)
		argN++
	}
	limit := page.Limit
	if limit <= 0 {
		limit = 20
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argN, argN+1)
	args = append(args, limit, page.Offset)

	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=job.list_by_owner: %w", err)
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("op=job.list_by_owner.scan: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.list_by_owner.rows: %w", err)
	}
	return out, nil
}

// GetByOwnerAndPrompt looks up an owner's job by kind and params.Name, used
// to reject duplicate training job names (§4.4).
func (r *JobRepo) GetByOwnerAndPrompt(ctx domain.Context, owner string, kind domain.Kind, name string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.GetByOwnerAndPrompt")
	defer span.End()

	q := `SELECT id, owner, kind, params, enriched_prompt, cost, state, progress, attempts,
	             COALESCE(provider, ''), result, error, moderation, created_at, updated_at, completed_at
	      FROM jobs WHERE owner=$1 AND kind=$2 AND params->>'name'=$3
	      ORDER BY created_at DESC LIMIT 1`
	row := r.Pool.QueryRow(ctx, q, owner, kind, name)
	j, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Job{}, fmt.Errorf("op=job.get_by_owner_and_prompt: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.get_by_owner_and_prompt: %w", err)
	}
	return j, nil
}

// ListStuck returns, across all owners, up to limit jobs in state whose
// updated_at predates cutoff, oldest first, so repeated sweeps make progress
// through a large backlog instead of always re-fetching the same page.
func (r *JobRepo) ListStuck(ctx domain.Context, state domain.State, cutoff time.Time, offset, limit int) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListStuck")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "jobs"),
	)

	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, owner, kind, params, enriched_prompt, cost, state, progress, attempts,
	             COALESCE(provider, ''), result, error, moderation, created_at, updated_at, completed_at
	      FROM jobs WHERE state=$1 AND updated_at < $2
	      ORDER BY updated_at ASC LIMIT $3 OFFSET $4`
	rows, err := r.Pool.Query(ctx, q, state, cutoff, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("op=job.list_stuck: %w", err)
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("op=job.list_stuck.scan: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.list_stuck.rows: %w", err)
	}
	return out, nil
}

// SetPublic flips the is_public flag inside the job's stored result blob. It
// implements moderation.PublicityRepo; a job with no result yet (not completed)
// is left untouched rather than fabricating an empty result.
func (r *JobRepo) SetPublic(ctx domain.Context, jobID string, public bool) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.SetPublic")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "jobs"),
	)

	q := `UPDATE jobs SET result = jsonb_set(COALESCE(result, '{}'::jsonb), '{is_public}', $2::jsonb), updated_at=$3
	      WHERE id=$1 AND result IS NOT NULL`
	tag, err := r.Pool.Exec(ctx, q, jobID, fmt.Sprintf("%t", public), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=job.set_public: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=job.set_public: %w", domain.ErrNotFound)
	}
	return nil
}

// rowScanner abstracts pgx.Row and pgx.Rows, both of which expose Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var j domain.Job
	var paramsRaw, resultRaw, errRaw []byte
	var provider string
	var completedAt *time.Time
	if err := row.Scan(
		&j.ID, &j.Owner, &j.Kind, &paramsRaw, &j.EnrichedPrompt, &j.Cost, &j.State, &j.Progress, &j.Attempts,
		&provider, &resultRaw, &errRaw, &j.Moderation, &j.CreatedAt, &j.UpdatedAt, &completedAt,
	); err != nil {
		return domain.Job{}, err
	}
	j.Provider = provider
	j.CompletedAt = completedAt

	if len(paramsRaw) > 0 {
		if err := json.Unmarshal(paramsRaw, &j.Params); err != nil {
			return domain.Job{}, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	if len(resultRaw) > 0 {
		j.Result = &domain.Result{}
		if err := json.Unmarshal(resultRaw, j.Result); err != nil {
			return domain.Job{}, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if len(errRaw) > 0 {
		j.Err = &domain.JobError{}
		if err := json.Unmarshal(errRaw, j.Err); err != nil {
			return domain.Job{}, fmt.Errorf("unmarshal error: %w", err)
		}
	}
	return j, nil
}
