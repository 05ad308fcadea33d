package couchbase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/couchbase/gocb/v2"

	"lumavet.pet/lumavet/internal/store"
)

// maxKeyLength is the Couchbase document key limit in bytes
const maxKeyLength = 250

// docKey joins natural key parts with "::". Keys that would exceed the
// server limit are replaced by their SHA-256.
func docKey(parts ...string) string {
	key := strings.Join(parts, "::")
	if len(key) <= maxKeyLength {
		return key
	}
	sum := sha256.Sum256([]byte(key))
	return "h::" + hex.EncodeToString(sum[:])
}

func errorsIsAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// mapError translates KV errors into the store sentinels
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gocb.ErrDocumentNotFound):
		return store.ErrNotFound
	case errorsIsAny(err, gocb.ErrDocumentExists, gocb.ErrCasMismatch):
		return store.ErrConflict
	}
	return err
}

// documents performs typed KV operations on one collection
type documents struct {
	col *gocb.Collection
}

func (d documents) insert(ctx context.Context, key string, v interface{}) error {
	if _, err := d.col.Insert(key, v, &gocb.InsertOptions{Context: ctx}); err != nil {
		return wrap("insert", key, err)
	}
	return nil
}

func (d documents) upsert(ctx context.Context, key string, v interface{}) error {
	if _, err := d.col.Upsert(key, v, &gocb.UpsertOptions{Context: ctx}); err != nil {
		return wrap("upsert", key, err)
	}
	return nil
}

// get decodes the document into v and returns its CAS
func (d documents) get(ctx context.Context, key string, v interface{}) (gocb.Cas, error) {
	res, err := d.col.Get(key, &gocb.GetOptions{Context: ctx})
	if err != nil {
		return 0, wrap("get", key, err)
	}
	if err := res.Content(v); err != nil {
		return 0, fmt.Errorf("decode %s: %w", key, err)
	}
	return res.Cas(), nil
}

// replace overwrites an existing document. A non-zero cas makes it
// conditional.
func (d documents) replace(ctx context.Context, key string, v interface{}, cas gocb.Cas) error {
	if _, err := d.col.Replace(key, v, &gocb.ReplaceOptions{Context: ctx, Cas: cas}); err != nil {
		return wrap("replace", key, err)
	}
	return nil
}

func (d documents) remove(ctx context.Context, key string) error {
	if _, err := d.col.Remove(key, &gocb.RemoveOptions{Context: ctx}); err != nil {
		return wrap("remove", key, err)
	}
	return nil
}

func (d documents) exists(ctx context.Context, key string) (bool, error) {
	res, err := d.col.Exists(key, &gocb.ExistsOptions{Context: ctx})
	if err != nil {
		return false, wrap("exists", key, err)
	}
	return res.Exists(), nil
}

// wrap keeps the store sentinels matchable with errors.Is
func wrap(op, key string, err error) error {
	mapped := mapError(err)
	if mapped != err {
		return mapped
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}
