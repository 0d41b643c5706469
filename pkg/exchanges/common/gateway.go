package common

import "context"

// Gateway abstracts order routing to the venue.
type Gateway interface {
	PlaceOrder(ctx context.Context, contract Contract, spec OrderSpec) (int64, error)
	CancelOrder(ctx context.Context, orderID int64) error
}
