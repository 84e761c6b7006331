package keystore

import (
	"context"
	"errors"
	"strings"
)

type Source string

const (
	SourceConfig Source = "config"
	SourceStored Source = "stored"
	SourceNone   Source = "none"
)

// Resolver picks the API key for a user. A key from configuration always wins
// over one the user entered.
type Resolver struct {
	configured string
	store      Store
}

func NewResolver(configured string, store Store) *Resolver {
	return &Resolver{configured: strings.TrimSpace(configured), store: store}
}

func (r *Resolver) Resolve(ctx context.Context, userID string) (string, Source, error) {
	if r.configured != "" {
		return r.configured, SourceConfig, nil
	}
	if r.store == nil {
		return "", SourceNone, nil
	}
	rec, err := r.store.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return "", SourceNone, nil
	}
	if err != nil {
		return "", SourceNone, err
	}
	return rec.Key, SourceStored, nil
}

func (r *Resolver) Store() Store { return r.store }
