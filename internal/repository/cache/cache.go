// Package cache wraps read-mostly configuration repositories with an
// in-process TTL cache. Pricing rules and rate cards change a few times a
// year but are read on every quote.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/jwalitptl/massage-booking/internal/model"
	"github.com/jwalitptl/massage-booking/internal/repository"
)

const (
	keyActiveRules = "pricing_rules:active"
	keyAllRules    = "pricing_rules:all"
)

type PricingRuleRepository struct {
	next  repository.PricingRuleRepository
	store *gocache.Cache
}

func NewPricingRuleRepository(next repository.PricingRuleRepository, ttl time.Duration) *PricingRuleRepository {
	return &PricingRuleRepository{next: next, store: gocache.New(ttl, 2*ttl)}
}

func (r *PricingRuleRepository) ListActive(ctx context.Context) ([]*model.PricingRule, error) {
	return r.list(ctx, keyActiveRules, r.next.ListActive)
}

func (r *PricingRuleRepository) List(ctx context.Context) ([]*model.PricingRule, error) {
	return r.list(ctx, keyAllRules, r.next.List)
}

func (r *PricingRuleRepository) list(ctx context.Context, key string, load func(context.Context) ([]*model.PricingRule, error)) ([]*model.PricingRule, error) {
	if v, ok := r.store.Get(key); ok {
		return v.([]*model.PricingRule), nil
	}
	rules, err := load(ctx)
	if err != nil {
		return nil, err
	}
	r.store.SetDefault(key, rules)
	return rules, nil
}

// Invalidate drops cached rules after an edit.
func (r *PricingRuleRepository) Invalidate() {
	r.store.Flush()
}

type RateCardRepository struct {
	next  repository.RateCardRepository
	store *gocache.Cache
}

func NewRateCardRepository(next repository.RateCardRepository, ttl time.Duration) *RateCardRepository {
	return &RateCardRepository{next: next, store: gocache.New(ttl, 2*ttl)}
}

// missing marks a lookup the database answered with ErrNotFound, so the
// service-card then profile-card fallback does not hit the database twice.
type missing struct{}

func rateCardKey(therapistID uuid.UUID, serviceID *uuid.UUID) string {
	if serviceID == nil {
		return fmt.Sprintf("rate_card:%s:profile", therapistID)
	}
	return fmt.Sprintf("rate_card:%s:%s", therapistID, serviceID)
}

func (r *RateCardRepository) GetRateCard(ctx context.Context, therapistID uuid.UUID, serviceID *uuid.UUID) (*model.TherapistRateCard, error) {
	key := rateCardKey(therapistID, serviceID)
	if v, ok := r.store.Get(key); ok {
		if _, miss := v.(missing); miss {
			return nil, fmt.Errorf("rate card %s: %w", key, repository.ErrNotFound)
		}
		return v.(*model.TherapistRateCard), nil
	}

	card, err := r.next.GetRateCard(ctx, therapistID, serviceID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		r.store.SetDefault(key, missing{})
		return nil, err
	case err != nil:
		return nil, err
	}
	r.store.SetDefault(key, card)
	return card, nil
}

func (r *RateCardRepository) Invalidate(therapistID uuid.UUID) {
	prefix := fmt.Sprintf("rate_card:%s:", therapistID)
	for key := range r.store.Items() {
		if strings.HasPrefix(key, prefix) {
			r.store.Delete(key)
		}
	}
}
