package cache

import (
	"context"
	"encoding/json"
	"time"

	"faceattend/internal/embedding"
)

// DefaultTTL bounds the life of a cached entry.
const DefaultTTL = time.Hour

// KeyPrefix namespaces embedding entries in shared backends.
const KeyPrefix = "face:embedding:"

// Entry is one cached face vector belonging to an identity.
type Entry struct {
	FaceID     string
	IdentityID string
	Quality    float64
	Vector     []float32
}

// Generations holds the invalidation count of each key at some instant.
type Generations map[string]int64

// Cache maps identity keys to their enrolled vectors. It is never
// authoritative: backend failures are logged and reported as misses.
//
// Read-through loaders call Snapshot before reading the store and hand the
// result to PutBatch, which skips every key invalidated in between. A nil
// Generations writes nothing.
type Cache interface {
	Get(ctx context.Context, key string) ([]Entry, bool)
	GetMany(ctx context.Context, keys []string) map[string][]Entry
	Put(ctx context.Context, key string, entries []Entry, ttl time.Duration)
	Snapshot(ctx context.Context, keys []string) Generations
	PutBatch(ctx context.Context, batch map[string][]Entry, seen Generations, ttl time.Duration)
	// Invalidate removes key and bumps its generation.
	Invalidate(ctx context.Context, key string)
	Keys(ctx context.Context) []string
	Clear(ctx context.Context) (int, error)
}

type wireEntry struct {
	FaceID     string  `json:"face_id"`
	IdentityID string  `json:"identity_id"`
	Quality    float64 `json:"quality"`
	Vector     []byte  `json:"vector"`
}

func encodeEntries(entries []Entry) ([]byte, error) {
	out := make([]wireEntry, 0, len(entries))
	for _, e := range entries {
		b, err := embedding.Encode(e.Vector)
		if err != nil {
			return nil, err
		}
		out = append(out, wireEntry{FaceID: e.FaceID, IdentityID: e.IdentityID, Quality: e.Quality, Vector: b})
	}
	return json.Marshal(out)
}

func decodeEntries(data []byte) ([]Entry, error) {
	var in []wireEntry
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(in))
	for _, w := range in {
		v, err := embedding.Decode(w.Vector)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{FaceID: w.FaceID, IdentityID: w.IdentityID, Quality: w.Quality, Vector: v})
	}
	return out, nil
}

func cloneEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		e.Vector = append([]float32(nil), e.Vector...)
		out[i] = e
	}
	return out
}

func ttlOr(ttl, fallback time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultTTL
}

// Nop never holds anything. Used when caching is disabled.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]Entry, bool)                              { return nil, false }
func (Nop) GetMany(context.Context, []string) map[string][]Entry                     { return map[string][]Entry{} }
func (Nop) Put(context.Context, string, []Entry, time.Duration)                      {}
func (Nop) Snapshot(context.Context, []string) Generations                           { return Generations{} }
func (Nop) PutBatch(context.Context, map[string][]Entry, Generations, time.Duration) {}
func (Nop) Invalidate(context.Context, string)                                       {}
func (Nop) Keys(context.Context) []string                                            { return nil }
func (Nop) Clear(context.Context) (int, error)                                       { return 0, nil }
