package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/leadpilot/leadpilot/internal/domain"
)

// GetAgent retrieves an agent by id.
func (s *Store) GetAgent(ctx context.Context, id uuid.UUID) (*domain.Agent, error) {
	a := &domain.Agent{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, autosend_enabled, brand_voice, signature_text,
		        followup_enabled, followup_max_stage, stage1_delay_hours,
		        stage2_delay_hours, created_at
		 FROM agents WHERE id = $1`, id).Scan(
		&a.ID, &a.Name, &a.Email, &a.AutosendEnabled, &a.BrandVoice,
		&a.SignatureText, &a.FollowupEnabled, &a.FollowupMaxStage,
		&a.Stage1DelayHours, &a.Stage2DelayHours, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return a, err
}

// GetProperty retrieves a property by id.
func (s *Store) GetProperty(ctx context.Context, id uuid.UUID) (*domain.Property, error) {
	p := &domain.Property{}
	var enabled sql.NullBool
	var maxStage sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, title, address, kind, price_euro, rooms, area_sqm,
		        description, followup_enabled, max_stage_override, created_at
		 FROM properties WHERE id = $1`, id).Scan(
		&p.ID, &p.AgentID, &p.Title, &p.Address, &p.Kind, &p.PriceEuro,
		&p.Rooms, &p.AreaSqm, &p.Description, &enabled, &maxStage, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if enabled.Valid {
		v := enabled.Bool
		p.FollowupEnabled = &v
	}
	if maxStage.Valid {
		v := int(maxStage.Int64)
		p.MaxStageOverride = &v
	}
	return p, nil
}

// ListTemplates returns the agent's active response templates for a
// routing category, most recent first.
func (s *Store) ListTemplates(ctx context.Context, agentID uuid.UUID, category string) ([]*domain.ResponseTemplate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, name, category, body, active
		 FROM response_templates
		 WHERE agent_id = $1 AND category = $2 AND active = TRUE
		 ORDER BY name`, agentID, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ResponseTemplate
	for rows.Next() {
		t := &domain.ResponseTemplate{}
		if err := rows.Scan(&t.ID, &t.AgentID, &t.Name, &t.Category, &t.Body, &t.Active); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
