package couchbase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"lumavet.pet/lumavet/internal/store"
)

// Claim kinds for unique user attributes
const (
	claimUsername = "username"
	claimEmail    = "email"
)

// claim reserves a unique natural key for one owner. Claims are created with
// Insert, so the KV engine arbitrates concurrent reservations.
type claim struct {
	Kind      string    `json:"kind"`
	Value     string    `json:"value"`
	OwnerID   string    `json:"owner_id"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// claims holds the reservations for usernames and emails
type claims struct {
	docs documents
	now  func() time.Time
}

func claimKey(kind, value string) string {
	return docKey(kind, store.NormalizeKey(value))
}

// acquire reserves value for owner. Re-acquiring a key the owner already
// holds succeeds; a key held by someone else gives store.ErrConflict.
func (c claims) acquire(ctx context.Context, kind, value, owner string) error {
	key := claimKey(kind, value)
	err := c.docs.insert(ctx, key, claim{
		Kind:      kind,
		Value:     store.NormalizeKey(value),
		OwnerID:   owner,
		ClaimedAt: c.now().UTC(),
	})
	if !errors.Is(err, store.ErrConflict) {
		return err
	}
	holder, herr := c.owner(ctx, kind, value)
	if herr == nil && holder == owner {
		return nil
	}
	return store.ErrConflict
}

// release drops the reservation if owner still holds it
func (c claims) release(ctx context.Context, kind, value, owner string) {
	key := claimKey(kind, value)
	var cl claim
	if _, err := c.docs.get(ctx, key, &cl); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn().Err(err).Str("claim", key).Msg("Failed to read claim for release")
		}
		return
	}
	if cl.OwnerID != owner {
		return
	}
	if err := c.docs.remove(ctx, key); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Warn().Err(err).Str("claim", key).Msg("Failed to release claim")
	}
}

// owner returns the id holding the reservation
func (c claims) owner(ctx context.Context, kind, value string) (string, error) {
	var cl claim
	if _, err := c.docs.get(ctx, claimKey(kind, value), &cl); err != nil {
		return "", err
	}
	return cl.OwnerID, nil
}
