package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/martok-store/internal/domain/settings"
)

const (
	loadSettingsSQL = `SELECT document FROM settings WHERE id`

	// The singleton row is created at most once; concurrent callers all read
	// the winner's document.
	initSettingsSQL = `INSERT INTO settings (id, document) VALUES (TRUE, $1) ON CONFLICT (id) DO NOTHING`
)

var _ settings.Repository = (*SettingsRepository)(nil)

// SettingsRepository stores the settings singleton as a JSONB document.
type SettingsRepository struct {
	pool *pgxpool.Pool
}

// NewSettingsRepository returns a SettingsRepository that uses the given pool.
func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

// Load returns settings.ErrNotFound until Init has run.
func (r *SettingsRepository) Load(ctx context.Context) (*settings.Settings, error) {
	var s settings.Settings
	if err := r.pool.QueryRow(ctx, loadSettingsSQL).Scan(&s); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, settings.ErrNotFound
		}
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	return &s, nil
}

// Init stores s unless settings already exist, then returns the stored
// document.
func (r *SettingsRepository) Init(ctx context.Context, s settings.Settings) (*settings.Settings, error) {
	doc, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshaling settings: %w", err)
	}
	if _, err := r.pool.Exec(ctx, initSettingsSQL, doc); err != nil {
		return nil, fmt.Errorf("initializing settings: %w", err)
	}
	return r.Load(ctx)
}
