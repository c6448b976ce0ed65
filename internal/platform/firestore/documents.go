package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// GetAs fetches ref and decodes it into T.
func GetAs[T any](ctx context.Context, ref *firestore.DocumentRef, op string) (T, error) {
	var out T
	snap, err := ref.Get(ctx)
	if err != nil {
		return out, WrapError(op, err)
	}
	if err := snap.DataTo(&out); err != nil {
		return out, WrapError(op, err)
	}
	return out, nil
}

// CollectAs drains a query into decoded documents, passing each snapshot id to onID when set.
func CollectAs[T any](ctx context.Context, query firestore.Query, op string, onID func(*T, string)) ([]T, error) {
	iter := query.Documents(ctx)
	defer iter.Stop()

	var out []T
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, WrapError(op, err)
		}
		var doc T
		if err := snap.DataTo(&doc); err != nil {
			return nil, WrapError(op, err)
		}
		if onID != nil {
			onID(&doc, snap.Ref.ID)
		}
		out = append(out, doc)
	}
}
