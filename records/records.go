// Package records is the contract the sync engine needs from the system of record.
package records

import "context"

// Predicate is a parameterized filter, e.g. Where("id = ?", id).
type Predicate struct {
	Query string
	Args  []any
}

func Where(query string, args ...any) Predicate {
	return Predicate{Query: query, Args: args}
}

// IsZero reports whether p filters nothing.
func (p Predicate) IsZero() bool { return p.Query == "" }

type Order struct {
	Column string
	Desc   bool
}

// Query selects a page of rows. Zero Limit means no limit.
type Query struct {
	Where  []Predicate
	Order  []Order
	Offset int
	Limit  int
}

// Tx is the view of the store inside one unit of work.
// FindOne returns (nil, nil) when nothing matches.
type Tx[T any] interface {
	FindOne(where Predicate) (*T, error)
	Insert(v *T) error
	Update(v *T) error
	Remove(v *T) error
}

// Store runs units of work against the authoritative copy of T.
type Store[T any] interface {
	// Unit scopes fn to one unit of work. Whether that is a database
	// transaction is up to the implementation.
	Unit(ctx context.Context, fn func(Tx[T]) error) error
	Find(ctx context.Context, q Query) ([]*T, error)
}
