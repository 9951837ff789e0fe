package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/dispatch/internal/domain"
)

const preferenceColumns = `user_id, email_enabled, sms_enabled, whatsapp_enabled, push_enabled,
	       email_priority, sms_priority, whatsapp_priority, push_priority,
	       created_at, updated_at`

type pgPreferenceRepository struct {
	pool *pgxpool.Pool
}

// NewPgPreferenceRepository returns a PreferenceRepository backed by PostgreSQL.
func NewPgPreferenceRepository(pool *pgxpool.Pool) PreferenceRepository {
	return &pgPreferenceRepository{pool: pool}
}

// GetOrCreate inserts the default row if none exists, then reads it back.
// ON CONFLICT DO NOTHING makes concurrent first reads race-safe: the insert
// loser simply reads the winner's row.
func (r *pgPreferenceRepository) GetOrCreate(ctx context.Context, userID string) (*domain.Preferences, error) {
	defaults := domain.DefaultPreferences(userID)
	_, err := r.pool.Exec(ctx, `
		INSERT INTO preferences
			(user_id, email_enabled, sms_enabled, whatsapp_enabled, push_enabled,
			 email_priority, sms_priority, whatsapp_priority, push_priority,
			 created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (user_id) DO NOTHING`,
		defaults.UserID, defaults.EmailEnabled, defaults.SMSEnabled,
		defaults.WhatsAppEnabled, defaults.PushEnabled,
		defaults.EmailPriority, defaults.SMSPriority,
		defaults.WhatsAppPriority, defaults.PushPriority,
		defaults.CreatedAt, defaults.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert default preferences: %w", err)
	}

	return r.get(ctx, userID)
}

// Update overwrites only the supplied fields. The row is created with
// defaults first so a partial update on an unseen user behaves as an upsert.
func (r *pgPreferenceRepository) Update(ctx context.Context, userID string, u *domain.PreferencesUpdate) (*domain.Preferences, error) {
	if _, err := r.GetOrCreate(ctx, userID); err != nil {
		return nil, err
	}

	var sets []string
	var args []any

	set := func(column string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if u.EmailEnabled != nil {
		set("email_enabled", *u.EmailEnabled)
	}
	if u.SMSEnabled != nil {
		set("sms_enabled", *u.SMSEnabled)
	}
	if u.WhatsAppEnabled != nil {
		set("whatsapp_enabled", *u.WhatsAppEnabled)
	}
	if u.PushEnabled != nil {
		set("push_enabled", *u.PushEnabled)
	}
	if u.EmailPriority != nil {
		set("email_priority", *u.EmailPriority)
	}
	if u.SMSPriority != nil {
		set("sms_priority", *u.SMSPriority)
	}
	if u.WhatsAppPriority != nil {
		set("whatsapp_priority", *u.WhatsAppPriority)
	}
	if u.PushPriority != nil {
		set("push_priority", *u.PushPriority)
	}

	if len(sets) == 0 {
		return r.get(ctx, userID)
	}

	args = append(args, userID)
	query := fmt.Sprintf(`
		UPDATE preferences
		SET %s, updated_at = NOW()
		WHERE user_id = $%d`, strings.Join(sets, ", "), len(args))

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("update preferences: %w", err)
	}

	return r.get(ctx, userID)
}

func (r *pgPreferenceRepository) get(ctx context.Context, userID string) (*domain.Preferences, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+preferenceColumns+`
		FROM preferences WHERE user_id = $1`, userID)

	var p domain.Preferences
	err := row.Scan(
		&p.UserID, &p.EmailEnabled, &p.SMSEnabled, &p.WhatsAppEnabled, &p.PushEnabled,
		&p.EmailPriority, &p.SMSPriority, &p.WhatsAppPriority, &p.PushPriority,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	return &p, nil
}
