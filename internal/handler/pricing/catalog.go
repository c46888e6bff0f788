package pricing

import (
	"context"

	"github.com/jwalitptl/massage-booking/internal/model"
	"github.com/jwalitptl/massage-booking/internal/repository"
)

// RepositoryCatalog serves the read-only catalog routes straight from the
// repositories (the cached pricing rule repository in production).
type RepositoryCatalog struct {
	Rules    repository.PricingRuleRepository
	Services repository.ServiceRepository
}

func (c RepositoryCatalog) ListRules(ctx context.Context) ([]*model.PricingRule, error) {
	return c.Rules.List(ctx)
}

func (c RepositoryCatalog) ListServices(ctx context.Context) ([]*model.Service, error) {
	return c.Services.List(ctx)
}
