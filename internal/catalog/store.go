package catalog

import (
	"context"

	"github.com/tsqueng/coreengine/internal/storeapi"
)

const (
	uidTable        = "uid"
	familyIDForward = "id"   // name -> id
	familyNameBack  = "name" // id -> name
)

func familyForKind(k Kind) string {
	switch k {
	case KindMetric:
		return "metrics"
	case KindTagKey:
		return "tagk"
	case KindTagValue:
		return "tagv"
	default:
		return "unknown"
	}
}

// RowStoreAdapter implements Store on top of a generic storeapi.Store,
// mirroring the uid table layout: row key is the name or id, column
// family distinguishes the UID kind, qualifier distinguishes forward vs
// reverse lookup direction (spec.md §6).
type RowStoreAdapter struct {
	Store storeapi.Store
}

func (a RowStoreAdapter) GetID(ctx context.Context, kind Kind, name string) ([]byte, bool, error) {
	row, found, err := a.Store.Get(ctx, uidTable, []byte(name), familyForKind(kind))
	if err != nil || !found {
		return nil, false, err
	}
	for i, q := range row.Qualifiers {
		if string(q) == familyIDForward {
			return row.Values[i], true, nil
		}
	}
	return nil, false, nil
}

func (a RowStoreAdapter) GetName(ctx context.Context, kind Kind, id []byte) (string, bool, error) {
	row, found, err := a.Store.Get(ctx, uidTable, id, familyForKind(kind))
	if err != nil || !found {
		return "", false, err
	}
	for i, q := range row.Qualifiers {
		if string(q) == familyNameBack {
			return string(row.Values[i]), true, nil
		}
	}
	return "", false, nil
}

// Assign writes a new bidirectional name<->id mapping. Used by tests and by
// administrative UID-assignment tooling, not by query-path code.
func Assign(ctx context.Context, store storeapi.Store, kind Kind, name string, id []byte) error {
	if err := store.Put(ctx, uidTable, []byte(name), familyForKind(kind), []byte(familyIDForward), id); err != nil {
		return err
	}
	return store.Put(ctx, uidTable, id, familyForKind(kind), []byte(familyNameBack), []byte(name))
}
