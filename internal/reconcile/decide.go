package reconcile

import (
	"context"
	"fmt"

	"github.com/rpattn/certrecon/internal/domain"

	"golang.org/x/sync/errgroup"
)

// Signals are the inputs of the decision table.
type Signals struct {
	OrgFragment   bool
	OrgExists     bool
	OrgNewer      bool
	OrgIncomplete bool
	ProductExists bool
	ProductNewer  bool
}

// SignalsFor derives the decision inputs from a row and its existence checks.
func SignalsFor(extraction domain.ExtractionResult, orgCheck, productCheck domain.ExistenceCheck) Signals {
	return Signals{
		OrgFragment:   extraction.Organization != nil,
		OrgExists:     orgCheck.Exists,
		OrgNewer:      orgCheck.Exists && orgCheck.IsNewer,
		OrgIncomplete: !extraction.OrganizationComplete(),
		ProductExists: productCheck.Exists,
		ProductNewer:  productCheck.Exists && productCheck.IsNewer,
	}
}

// DecideAction evaluates the decision table in precedence order. Combinations
// no rule covers, such as a stale organization next to a new product, are Skip.
func DecideAction(s Signals) domain.Action {
	switch {
	case s.OrgFragment && !s.OrgExists && s.OrgIncomplete:
		return domain.ActionNeedsCompletion
	case !s.OrgExists && !s.ProductExists:
		return domain.ActionInsertBoth
	case s.OrgExists && s.ProductExists && s.OrgNewer && s.ProductNewer:
		return domain.ActionUpdateBoth
	case !s.OrgExists && s.ProductNewer:
		return domain.ActionInsertOrgUpdateProduct
	case s.OrgNewer && !s.ProductExists:
		return domain.ActionUpdateOrgInsertProduct
	default:
		return domain.ActionSkip
	}
}

// Reconciler turns extracted rows into decisions.
type Reconciler struct {
	checker *Checker
}

// NewReconciler wires a reconciler over the lookups.
func NewReconciler(orgs OrganizationLookup, products ProductLookup) *Reconciler {
	return &Reconciler{checker: NewChecker(orgs, products)}
}

// Decide checks both sides of a row and picks its action.
func (r *Reconciler) Decide(ctx context.Context, extraction domain.ExtractionResult) (domain.ReconciliationDecision, error) {
	orgCheck, err := r.checker.CheckOrganization(ctx, extraction.Organization, extraction.EmissionDate)
	if err != nil {
		return domain.ReconciliationDecision{}, err
	}
	productCheck, err := r.checker.CheckProduct(ctx, extraction.Product, extraction.EmissionDate)
	if err != nil {
		return domain.ReconciliationDecision{}, err
	}

	action := DecideAction(SignalsFor(extraction, orgCheck, productCheck))
	decision := domain.ReconciliationDecision{
		OrgCheck:          orgCheck,
		ProductCheck:      productCheck,
		Extraction:        extraction,
		Action:            action,
		IsNewOrganization: extraction.Organization != nil && !orgCheck.Exists,
		MissingFields:     []string{},
	}
	if action == domain.ActionNeedsCompletion {
		decision.MissingFields = append(decision.MissingFields, extraction.MissingOrgFields...)
	}
	return decision, nil
}

// DecideAll decides every extraction on at most workers goroutines. The
// result keeps the input order.
func (r *Reconciler) DecideAll(ctx context.Context, extractions []domain.ExtractionResult, workers int) ([]domain.ReconciliationDecision, error) {
	decisions := make([]domain.ReconciliationDecision, len(extractions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i := range extractions {
		g.Go(func() error {
			decision, err := r.Decide(gctx, extractions[i])
			if err != nil {
				return fmt.Errorf("row %d: %w", extractions[i].RowNumber, err)
			}
			decisions[i] = decision
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return decisions, nil
}
