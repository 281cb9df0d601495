package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/forgelabs/genflow/internal/domain"
	"github.com/forgelabs/genflow/internal/service/notify"
)

// PreferenceRepo backs notify.PreferenceStore with a per-user,
// per-category opt-out row. A user with no row for a category is treated as
// opted in (notify.Dispatcher's default).
type PreferenceRepo struct{ Pool PgxPool }

// NewPreferenceRepo constructs a PreferenceRepo with the given pool.
func NewPreferenceRepo(p PgxPool) *PreferenceRepo { return &PreferenceRepo{Pool: p} }

var _ notify.PreferenceStore = (*PreferenceRepo)(nil)

// Enabled reports whether user has category enabled. Absence of a row means
// enabled; a row only ever records an explicit opt-out.
func (r *PreferenceRepo) Enabled(ctx domain.Context, user string, category domain.NotificationCategory) (bool, error) {
	tracer := otel.Tracer("repo.preferences")
	ctx, span := tracer.Start(ctx, "preferences.Enabled")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "notification_preferences"),
	)

	var disabled bool
	err := r.Pool.QueryRow(ctx,
		`SELECT disabled FROM notification_preferences WHERE user_id = $1 AND category = $2`,
		user, string(category),
	).Scan(&disabled)
	if err != nil {
		if err == pgx.ErrNoRows {
			return true, nil
		}
		return true, fmt.Errorf("op=preferences.enabled: %w", err)
	}
	return !disabled, nil
}

// SetEnabled upserts the user's preference for category.
func (r *PreferenceRepo) SetEnabled(ctx domain.Context, user string, category domain.NotificationCategory, enabled bool) error {
	tracer := otel.Tracer("repo.preferences")
	ctx, span := tracer.Start(ctx, "preferences.SetEnabled")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "notification_preferences"),
	)

	_, err := r.Pool.Exec(ctx,
		`INSERT INTO notification_preferences (user_id, category, disabled)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, category) DO UPDATE SET disabled = EXCLUDED.disabled`,
		user, string(category), !enabled,
	)
	if err != nil {
		return fmt.Errorf("op=preferences.set_enabled: %w", err)
	}
	return nil
}
