// Package storeapi defines the row-store collaborator contract used by the
// data-source node and the identifier catalog (spec.md §6): a wide-column
// store addressed by (table, row key, column family, qualifier).
package storeapi

import "context"

// Row is one stored row: ordered qualifier/value column pairs within a
// single column family. Engines that return columns pre-sorted by
// qualifier may skip re-sorting; callers must not assume that.
type Row struct {
	Key         []byte
	Qualifiers  [][]byte
	Values      [][]byte
}

// Store is the minimal contract the engine needs from the underlying
// key-value store. Implementations may be a real wide-column database
// client or, in tests, an in-memory fake.
type Store interface {
	// Get fetches a single row's columns from one family. found=false with
	// err=nil means the row does not exist.
	Get(ctx context.Context, table string, key []byte, family string) (row Row, found bool, err error)

	// MultiGet fetches several rows in one round trip, preserving order;
	// a missing row is represented by a zero-value Row and found=false at
	// the corresponding index.
	MultiGet(ctx context.Context, table string, keys [][]byte, family string) (rows []Row, found []bool, err error)

	// Scan iterates rows in [startKey, stopKey) order, calling fn for each.
	// fn returning an error stops the scan and the error propagates.
	Scan(ctx context.Context, table string, startKey, stopKey []byte, family string, fn func(Row) error) error

	// Put writes one qualifier/value cell.
	Put(ctx context.Context, table string, key []byte, family string, qualifier, value []byte) error

	// Delete removes one qualifier from a row; qualifier == nil deletes the
	// whole row.
	Delete(ctx context.Context, table string, key []byte, family string, qualifier []byte) error
}
