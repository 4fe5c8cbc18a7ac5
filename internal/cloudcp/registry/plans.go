package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const planColumns = `id, name, stripe_price_id, active, created_at, updated_at`

// UpsertPlan creates or replaces a plan definition.
func (r *Registry) UpsertPlan(ctx context.Context, p *Plan) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("plan id is required")
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := r.exec(ctx, `
		INSERT INTO plans (`+planColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			stripe_price_id = excluded.stripe_price_id,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		p.ID, p.Name, p.StripePriceID, boolToInt(p.Active), p.CreatedAt.Unix(), p.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert plan: %w", err)
	}
	return nil
}

// GetPlan retrieves a plan by ID. Returns (nil, nil) when absent.
func (r *Registry) GetPlan(ctx context.Context, id string) (*Plan, error) {
	return scanPlan(r.queryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = ?`, id))
}

// ListPlans returns plans ordered by ID, optionally only active ones.
func (r *Registry) ListPlans(ctx context.Context, activeOnly bool) ([]*Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY id`

	rows, err := r.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func scanPlan(s scanner) (*Plan, error) {
	var p Plan
	var active int
	var createdAt, updatedAt int64
	if err := s.Scan(&p.ID, &p.Name, &p.StripePriceID, &active, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan plan: %w", err)
	}
	p.Active = active != 0
	p.CreatedAt = unixUTC(createdAt)
	p.UpdatedAt = unixUTC(updatedAt)
	return &p, nil
}
