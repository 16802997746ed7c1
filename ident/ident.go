// Package ident defines the identity types accepted by the generic sync engine.
//
// Stores key documents by the string form of an id: cache keys, index document
// ids and log fields all go through ID.String. Dispatch happens at
// instantiation time, so Sync[T, ident.String] and Sync[T, ident.Int64] are
// distinct types with no runtime probing of the id's kind.
package ident

import (
	"strconv"

	"github.com/google/uuid"
)

// ID is a comparable identity with a canonical string form.
// uuid.UUID satisfies it as is.
type ID interface {
	comparable
	String() string
}

// String is a textual id.
type String string

func (s String) String() string { return string(s) }

// IsZero reports whether the id is empty.
func (s String) IsZero() bool { return s == "" }

// Int64 is a numeric id.
type Int64 int64

func (i Int64) String() string { return strconv.FormatInt(int64(i), 10) }

// IsZero reports whether the id is zero.
func (i Int64) IsZero() bool { return i == 0 }

// NewString returns a random UUID (v4) as a String id.
func NewString() String { return String(uuid.NewString()) }

// ParseUUID parses s as a UUID id.
func ParseUUID(s string) (uuid.UUID, error) { return uuid.Parse(s) }

func satisfies[T ID]() {}

var _ = []func(){satisfies[String], satisfies[Int64], satisfies[uuid.UUID]}
