package graphql

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/drivehub/ugc/internal/errs"
)

// Any carries a federation entity representation: a map with __typename and
// the entity's key fields.
type Any map[string]any

// ImplementsGraphQLType marks Any as the _Any scalar.
func (Any) ImplementsGraphQLType(name string) bool { return name == "_Any" }

// UnmarshalGraphQL accepts the raw representation object.
func (a *Any) UnmarshalGraphQL(input any) error {
	m, ok := input.(map[string]any)
	if !ok {
		return fmt.Errorf("_Any must be an object, got %T", input)
	}
	*a = m
	return nil
}

// serviceResolver serves the federation _service field.
type serviceResolver struct{}

// SDL returns the schema advertised to the supergraph router.
func (serviceResolver) SDL() string { return federationSDL }

// Service resolves _service.
func (r *Resolver) Service() serviceResolver { return serviceResolver{} }

// entityResolver is one element of the _Entity union.
type entityResolver struct {
	review *reviewResolver
	user   *userResolver
	offer  *offerResolver
}

func (e *entityResolver) ToReview() (*reviewResolver, bool) { return e.review, e.review != nil }
func (e *entityResolver) ToUser() (*userResolver, bool)     { return e.user, e.user != nil }
func (e *entityResolver) ToOffer() (*offerResolver, bool)   { return e.offer, e.offer != nil }

// Entities resolves _entities: each representation is looked up by its key.
// Unresolvable representations yield null entries rather than failing the
// whole batch.
func (r *Resolver) Entities(ctx context.Context, args struct{ Representations []Any }) ([]*entityResolver, error) {
	out := make([]*entityResolver, len(args.Representations))
	for i, rep := range args.Representations {
		typename, _ := rep["__typename"].(string)
		rawID, _ := rep["id"].(string)

		id, err := uuid.Parse(rawID)
		if err != nil {
			return nil, errs.Validation(fmt.Sprintf("representation %d: invalid id", i))
		}

		switch typename {
		case "Review":
			rev, err := r.reviews.Get(ctx, id)
			if err != nil {
				return nil, asGraphQLError(err)
			}
			if rev != nil {
				out[i] = &entityResolver{review: &reviewResolver{r: *rev, root: r}}
			}
		case "User":
			user := r.ext.GetUserWithFallback(ctx, id)
			out[i] = &entityResolver{user: &userResolver{u: user, root: r}}
		case "Offer":
			offer := r.ext.GetOfferWithFallback(ctx, id)
			out[i] = &entityResolver{offer: &offerResolver{o: offer, root: r}}
		default:
			return nil, errs.Validation(fmt.Sprintf("representation %d: unknown type %q", i, typename))
		}
	}
	return out, nil
}
