package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/massage-booking/internal/model"
	"github.com/jwalitptl/massage-booking/internal/repository"
)

type serviceRepository struct {
	BaseRepository
}

func NewServiceRepository(base BaseRepository) repository.ServiceRepository {
	return &serviceRepository{base}
}

func (r *serviceRepository) Get(ctx context.Context, id uuid.UUID) (*model.Service, error) {
	query := `
		SELECT id, name, COALESCE(description, '') AS description, base_price, min_duration_minutes, active, created_at, updated_at
		FROM services
		WHERE id = $1
	`
	var svc model.Service
	err := r.db.GetContext(ctx, &svc, query, id)
	track("service_get", err)
	if err != nil {
		return nil, fmt.Errorf("failed to get service: %w", notFound(err))
	}
	return &svc, nil
}

func (r *serviceRepository) List(ctx context.Context) ([]*model.Service, error) {
	query := `
		SELECT id, name, COALESCE(description, '') AS description, base_price, min_duration_minutes, active, created_at, updated_at
		FROM services
		ORDER BY name ASC
	`
	var services []*model.Service
	err := r.db.SelectContext(ctx, &services, query)
	track("service_list", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	return services, nil
}

type therapistRepository struct {
	BaseRepository
}

func NewTherapistRepository(base BaseRepository) repository.TherapistRepository {
	return &therapistRepository{base}
}

func (r *therapistRepository) Get(ctx context.Context, id uuid.UUID) (*model.Therapist, error) {
	query := `
		SELECT id, first_name, last_name, email, COALESCE(phone, '') AS phone, active, created_at, updated_at
		FROM therapists
		WHERE id = $1
	`
	var th model.Therapist
	err := r.db.GetContext(ctx, &th, query, id)
	track("therapist_get", err)
	if err != nil {
		return nil, fmt.Errorf("failed to get therapist: %w", notFound(err))
	}
	return &th, nil
}

type pricingRuleRepository struct {
	BaseRepository
}

func NewPricingRuleRepository(base BaseRepository) repository.PricingRuleRepository {
	return &pricingRuleRepository{base}
}

const pricingRuleColumns = `
	id, day_of_week, to_char(start_time, 'HH24:MI') AS start_time, to_char(end_time, 'HH24:MI') AS end_time,
	uplift_percentage, COALESCE(label, '') AS label, active, created_at, updated_at`

func (r *pricingRuleRepository) ListActive(ctx context.Context) ([]*model.PricingRule, error) {
	query := `SELECT ` + pricingRuleColumns + ` FROM pricing_rules WHERE active ORDER BY day_of_week, start_time`
	var rules []*model.PricingRule
	err := r.db.SelectContext(ctx, &rules, query)
	track("pricing_rule_list_active", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list pricing rules: %w", err)
	}
	return rules, nil
}

func (r *pricingRuleRepository) List(ctx context.Context) ([]*model.PricingRule, error) {
	query := `SELECT ` + pricingRuleColumns + ` FROM pricing_rules ORDER BY day_of_week, start_time`
	var rules []*model.PricingRule
	err := r.db.SelectContext(ctx, &rules, query)
	track("pricing_rule_list", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list pricing rules: %w", err)
	}
	return rules, nil
}

type rateCardRepository struct {
	BaseRepository
}

func NewRateCardRepository(base BaseRepository) repository.RateCardRepository {
	return &rateCardRepository{base}
}

func (r *rateCardRepository) GetRateCard(ctx context.Context, therapistID uuid.UUID, serviceID *uuid.UUID) (*model.TherapistRateCard, error) {
	query := `
		SELECT id, therapist_id, service_id, normal_rate, afterhours_rate
		FROM therapist_rate_cards
		WHERE therapist_id = $1 AND service_id IS NULL
	`
	args := []interface{}{therapistID}
	if serviceID != nil {
		query = `
			SELECT id, therapist_id, service_id, normal_rate, afterhours_rate
			FROM therapist_rate_cards
			WHERE therapist_id = $1 AND service_id = $2
		`
		args = append(args, *serviceID)
	}

	var card model.TherapistRateCard
	err := r.db.GetContext(ctx, &card, query, args...)
	track("rate_card_get", err)
	if err != nil {
		return nil, fmt.Errorf("failed to get rate card: %w", notFound(err))
	}
	return &card, nil
}
