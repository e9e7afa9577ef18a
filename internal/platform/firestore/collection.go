package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Collection gives typed access to one top-level collection.
type Collection[T any] struct {
	provider *Provider
	name     string
}

func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: name}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

// Ref returns the document reference for id.
func (c *Collection[T]) Ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%s: document id is required", c.name)
	}
	if c.provider == nil {
		return nil, errors.New("firestore: provider is nil")
	}
	col, err := c.provider.Collection(ctx, c.name)
	if err != nil {
		return nil, err
	}
	return col.Doc(id), nil
}

// Get loads and decodes a single document.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return zero, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return zero, WrapError(c.name+".get", err)
	}
	return Decode[T](c.name, snap)
}

// Query runs build against the collection and decodes every match.
func (c *Collection[T]) Query(ctx context.Context, build func(firestore.Query) firestore.Query) ([]T, error) {
	col, err := c.provider.Collection(ctx, c.name)
	if err != nil {
		return nil, err
	}
	query := col.Query
	if build != nil {
		query = build(query)
	}
	iter := query.Documents(ctx)
	defer iter.Stop()

	var out []T
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, WrapError(c.name+".query", err)
		}
		item, err := Decode[T](c.name, snap)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
}

// Decode converts a snapshot into T.
func Decode[T any](collection string, snap *firestore.DocumentSnapshot) (T, error) {
	var out T
	if snap == nil || !snap.Exists() {
		id := ""
		if snap != nil && snap.Ref != nil {
			id = snap.Ref.ID
		}
		return out, NotFound(collection+".decode", id)
	}
	if err := snap.DataTo(&out); err != nil {
		return out, fmt.Errorf("%s: decode %s: %w", collection, snap.Ref.ID, err)
	}
	return out, nil
}
