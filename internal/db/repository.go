package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// DefaultDeliveryLimit caps ListDeliveryAttempts when the filter has no limit.
const DefaultDeliveryLimit = 100

// Repository handles template lookups and the delivery audit log
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// GetTemplateByCode returns the active template with the given code.
func (r *Repository) GetTemplateByCode(ctx context.Context, code string) (*Template, error) {
	query := `
		SELECT id, code, name, subject, body, channel_hint, is_active, updated_at
		FROM notification_templates
		WHERE code = $1 AND is_active = TRUE
	`

	var t Template
	err := r.db.Pool().QueryRow(ctx, query, code).Scan(
		&t.ID,
		&t.Code,
		&t.Name,
		&t.Subject,
		&t.Body,
		&t.ChannelHint,
		&t.IsActive,
		&t.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, code)
	}

	if err != nil {
		r.logger.Error("failed to get template",
			zap.Error(err),
			zap.String("code", code),
		)
		return nil, fmt.Errorf("query template: %w", storeErr(err))
	}

	return &t, nil
}

// ListTemplates returns active templates ordered by name.
func (r *Repository) ListTemplates(ctx context.Context) ([]*Template, error) {
	query := `
		SELECT id, code, name, subject, body, channel_hint, is_active, updated_at
		FROM notification_templates
		WHERE is_active = TRUE
		ORDER BY name
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", storeErr(err))
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		var t Template
		err := rows.Scan(
			&t.ID,
			&t.Code,
			&t.Name,
			&t.Subject,
			&t.Body,
			&t.ChannelHint,
			&t.IsActive,
			&t.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", storeErr(err))
		}
		templates = append(templates, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", storeErr(err))
	}

	return templates, nil
}

// InsertDeliveryAttempt appends one audit row. ID and CreatedAt are filled in.
func (r *Repository) InsertDeliveryAttempt(ctx context.Context, a *DeliveryAttempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	query := `
		INSERT INTO notification_deliveries (
			id, template_code, channel, recipient_phone, recipient_email,
			subject, body, status, error_message, provider_ref,
			sent_at, reference_type, reference_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		a.ID,
		a.TemplateCode,
		a.Channel,
		a.RecipientPhone,
		a.RecipientEmail,
		a.Subject,
		a.Body,
		a.Status,
		a.ErrorMessage,
		a.ProviderRef,
		a.SentAt,
		a.ReferenceType,
		a.ReferenceID,
	).Scan(&a.CreatedAt)

	if err != nil {
		r.logger.Error("failed to insert delivery attempt",
			zap.Error(err),
			zap.String("attempt_id", a.ID.String()),
			zap.String("channel", a.Channel),
		)
		return fmt.Errorf("insert delivery attempt: %w", storeErr(err))
	}

	return nil
}

// ListDeliveryAttempts returns the most recent attempts matching the filter.
func (r *Repository) ListDeliveryAttempts(ctx context.Context, f DeliveryFilter) ([]*DeliveryAttempt, error) {
	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("channel", f.Channel)
	add("status", f.Status)
	add("reference_type", f.ReferenceType)

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultDeliveryLimit
	}
	args = append(args, limit)

	query := `
		SELECT
			id, template_code, channel, recipient_phone, recipient_email,
			subject, body, status, error_message, provider_ref,
			sent_at, reference_type, reference_id, created_at
		FROM notification_deliveries
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query delivery attempts: %w", storeErr(err))
	}
	defer rows.Close()

	var attempts []*DeliveryAttempt
	for rows.Next() {
		var a DeliveryAttempt
		err := rows.Scan(
			&a.ID,
			&a.TemplateCode,
			&a.Channel,
			&a.RecipientPhone,
			&a.RecipientEmail,
			&a.Subject,
			&a.Body,
			&a.Status,
			&a.ErrorMessage,
			&a.ProviderRef,
			&a.SentAt,
			&a.ReferenceType,
			&a.ReferenceID,
			&a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan delivery attempt: %w", storeErr(err))
		}
		attempts = append(attempts, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", storeErr(err))
	}

	return attempts, nil
}
