package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeProvider counts EmbedBatch calls and returns a deterministic
// vector per text so tests can assert on call counts.
type fakeProvider struct {
	calls      int
	batchSizes []int
	dims       int
}

func (f *fakeProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	f.batchSizes = append(f.batchSizes, len(texts))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (f *fakeProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeProvider) Identity() Identity {
	return Identity{ID: "fake", Model: "fake-model", Fingerprint: "fp"}
}

func (f *fakeProvider) Dimensions() int { return f.dims }

// fakeStore is an in-memory PersistentCache.
type fakeStore struct {
	rows map[string][]float32
}

func newFakeStore() *fakeStore { return &fakeStore{rows: map[string][]float32{}} }

func key(provider, model, fingerprint, hash string) string {
	return provider + "|" + model + "|" + fingerprint + "|" + hash
}

func (s *fakeStore) GetMany(_ context.Context, provider, model, fingerprint string, hashes []string) (map[string][]float32, error) {
	out := map[string][]float32{}
	for _, h := range hashes {
		if v, ok := s.rows[key(provider, model, fingerprint, h)]; ok {
			out[h] = v
		}
	}
	return out, nil
}

func (s *fakeStore) PutMany(_ context.Context, entries []Entry) error {
	for _, e := range entries {
		s.rows[key(e.Provider, e.Model, e.Fingerprint, e.Hash)] = e.Vector
	}
	return nil
}

func TestCacheDeduplicatesByHashWithinOneBatch(t *testing.T) {
	p := &fakeProvider{}
	c, err := NewCache(p, newFakeStore(), 100)
	require.NoError(t, err)

	hashes := []string{"h1", "h1", "h2"}
	texts := []string{"aaa", "aaa", "bb"}

	vecs, err := c.EmbedWithHashes(context.Background(), hashes, texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	require.Equal(t, vecs[0], vecs[1])
	require.Equal(t, 1, p.calls)
	require.Equal(t, []int{2}, p.batchSizes) // only 2 unique hashes requested
}

func TestCacheSecondSyncIssuesZeroProviderCalls(t *testing.T) {
	p := &fakeProvider{}
	store := newFakeStore()
	c, err := NewCache(p, store, 100)
	require.NoError(t, err)

	hashes := []string{"h1", "h2"}
	texts := []string{"aaa", "bb"}

	_, err = c.EmbedWithHashes(context.Background(), hashes, texts)
	require.NoError(t, err)
	require.Equal(t, 1, p.calls)

	// Fresh cache instance backed by the same store, simulating a second
	// process/sync: the persistent layer alone must satisfy every hash.
	c2, err := NewCache(p, store, 100)
	require.NoError(t, err)
	_, err = c2.EmbedWithHashes(context.Background(), hashes, texts)
	require.NoError(t, err)
	require.Equal(t, 1, p.calls, "second sync over identical content must not call the provider again")
}

func TestCacheLRUAvoidsStoreRoundTrip(t *testing.T) {
	p := &fakeProvider{}
	store := newFakeStore()
	c, err := NewCache(p, store, 100)
	require.NoError(t, err)

	_, err = c.EmbedWithHashes(context.Background(), []string{"h1"}, []string{"aaa"})
	require.NoError(t, err)

	// Delete from the store; the in-process LRU should still satisfy it.
	store.rows = map[string][]float32{}

	vecs, err := c.EmbedWithHashes(context.Background(), []string{"h1"}, []string{"aaa"})
	require.NoError(t, err)
	require.Equal(t, 1, p.calls)
	require.NotEmpty(t, vecs[0])
}

func TestCacheRejectsMismatchedLengths(t *testing.T) {
	c, err := NewCache(&fakeProvider{}, newFakeStore(), 10)
	require.NoError(t, err)
	_, err = c.EmbedWithHashes(context.Background(), []string{"h1"}, nil)
	require.Error(t, err)
}
