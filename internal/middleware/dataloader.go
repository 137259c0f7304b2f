package middleware

import (
	"context"
	"net/http"

	"github.com/rpattn/certrecon/internal/entityloader"
	"github.com/rpattn/certrecon/internal/repository"
)

type ctxKey string

const loadersKey ctxKey = "entityLoaders"

// DataLoaderMiddleware attaches request-scoped existence loaders to the request context
func DataLoaderMiddleware(orgs repository.OrganizationRepository, products repository.ProductRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loaders := entityloader.NewLoaders(orgs, products)
			ctx := ContextWithLoaders(r.Context(), loaders)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ContextWithLoaders stores loaders on the context.
func ContextWithLoaders(ctx context.Context, loaders *entityloader.Loaders) context.Context {
	return context.WithValue(ctx, loadersKey, loaders)
}

// LoadersFromContext retrieves the loaders from context
func LoadersFromContext(ctx context.Context) *entityloader.Loaders {
	if l, ok := ctx.Value(loadersKey).(*entityloader.Loaders); ok {
		return l
	}
	return nil
}
