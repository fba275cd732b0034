package reading

import "context"

// Repository persists readings. Insert is the only supported operation.
type Repository interface {
	Insert(ctx context.Context, r Reading) error
}
