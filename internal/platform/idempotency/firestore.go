package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/shopeasy/storefront/internal/platform/firestore"
)

const collection = "idempotencyKeys"

// FirestoreStore keeps records in the idempotencyKeys collection.
type FirestoreStore struct {
	provider *pfirestore.Provider
}

// NewFirestoreStore constructs a Firestore-backed store.
func NewFirestoreStore(provider *pfirestore.Provider) *FirestoreStore {
	return &FirestoreStore{provider: provider}
}

type recordDocument struct {
	Fingerprint string              `firestore:"fingerprint"`
	Completed   bool                `firestore:"completed"`
	Status      int                 `firestore:"status"`
	Headers     map[string][]string `firestore:"headers"`
	Body        []byte              `firestore:"body"`
	CreatedAt   time.Time           `firestore:"createdAt"`
	ExpiresAt   time.Time           `firestore:"expiresAt"`
}

func (d recordDocument) record() Record {
	return Record(d)
}

func (s *FirestoreStore) ref(ctx context.Context, key string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(collection).Doc(documentID(key)), nil
}

// Reserve implements Store.
func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Record, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	ref, err := s.ref(ctx, key)
	if err != nil {
		return 0, Record{}, err
	}

	var (
		state  State
		record Record
	)
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		var doc recordDocument
		if err == nil {
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
		}
		if err != nil || expired(doc.record(), now) {
			doc = recordDocument{Fingerprint: fingerprint, CreatedAt: now, ExpiresAt: now.Add(ttl)}
			state, record = StateNew, doc.record()
			return tx.Set(ref, doc)
		}
		if doc.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		state, record = StatePending, doc.record()
		if doc.Completed {
			state = StateCompleted
		}
		return nil
	})
	if errors.Is(err, ErrFingerprintMismatch) {
		return 0, Record{}, ErrFingerprintMismatch
	}
	if err != nil {
		return 0, Record{}, err
	}
	return state, record, nil
}

// Complete implements Store.
func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	ref, err := s.ref(ctx, key)
	if err != nil {
		return err
	}
	doc := recordDocument{
		Fingerprint: fingerprint,
		Completed:   true,
		Status:      resp.Status,
		Headers:     replayableHeaders(resp.Headers),
		Body:        resp.Body,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	_, err = ref.Set(ctx, doc)
	return pfirestore.WrapError("idempotency.complete", err)
}

// Release implements Store.
func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	ref, err := s.ref(ctx, key)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return pfirestore.WrapError("idempotency.release", err)
	}
	return nil
}

// Purge implements Store.
func (s *FirestoreStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = 200
	}
	snaps, err := client.Collection(collection).Where("expiresAt", "<=", now.UTC()).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.purge", err)
	}
	if len(snaps) == 0 {
		return 0, nil
	}
	bw := client.BulkWriter(ctx)
	for _, snap := range snaps {
		if _, err := bw.Delete(snap.Ref); err != nil {
			return 0, pfirestore.WrapError("idempotency.purge", err)
		}
	}
	bw.End()
	return len(snaps), nil
}
