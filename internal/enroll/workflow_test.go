package enroll

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceattend/internal/apperror"
	"faceattend/internal/cache"
	"faceattend/internal/model"
	"faceattend/internal/store"
	"faceattend/internal/store/memory"
	"faceattend/internal/testutil"
)

type fakeProvider struct {
	detectFn func(ctx context.Context, ref string) (*model.Detection, error)
	embedFn  func(ctx context.Context, ref string) (*model.Extraction, error)
}

func (f *fakeProvider) Detect(ctx context.Context, ref string) (*model.Detection, error) {
	return f.detectFn(ctx, ref)
}

func (f *fakeProvider) Embed(ctx context.Context, ref string) (*model.Extraction, error) {
	return f.embedFn(ctx, ref)
}

type fakeBlobs struct {
	mu      sync.Mutex
	saved   map[string][]byte
	deleted []string
	saveErr error
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{saved: make(map[string][]byte)} }

func (f *fakeBlobs) Save(_ context.Context, name string, r io.Reader) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := "mem://" + name
	f.saved[ref] = data
	return ref, nil
}

func (f *fakeBlobs) Delete(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, ref)
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeBlobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func goodDetection(size int) *model.Detection {
	return &model.Detection{
		Box:        model.Box{Width: size, Height: size},
		Confidence: 0.99,
		Sharpness:  250,
		Brightness: 120,
	}
}

func okProvider() *fakeProvider {
	return &fakeProvider{
		detectFn: func(context.Context, string) (*model.Detection, error) { return goodDetection(200), nil },
		embedFn: func(context.Context, string) (*model.Extraction, error) {
			return &model.Extraction{Vector: []float32{0.1, 0.2, 0.3, 0.4}, ModelName: "facenet", ModelVersion: "1"}, nil
		},
	}
}

func upload() Upload {
	return Upload{Filename: "me.JPG", Body: bytes.NewReader([]byte("jpeg bytes"))}
}

var (
	alice = model.Caller{ExternalKey: "E001", Role: model.RoleUser}
	bob   = model.Caller{ExternalKey: "E002", Role: model.RoleUser}
	admin = model.Caller{ExternalKey: "ADM", Role: model.RoleAdmin}
)

func adminOnly() Authorizer {
	return AuthorizerFunc(func(_ context.Context, caller model.Caller, _ string) error {
		if !caller.IsAdmin() {
			return apperror.ErrForbidden
		}
		return nil
	})
}

func TestSelfEnroll_ProvisionsIdentityAndPersists(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	blobs := newFakeBlobs()
	c := cache.NewMemory(0, testutil.FixedClock())
	c.Put(ctx, "E001", []cache.Entry{{FaceID: "stale", Vector: []float32{1}}}, 0)

	w := NewWorkflow(okProvider(), blobs, WithCache(c), WithClock(testutil.FixedClock()))
	res, err := w.SelfEnroll(ctx, s.Session(), alice, upload())
	require.NoError(t, err)

	assert.True(t, res.IdentityCreated)
	assert.Equal(t, "E001", res.Identity.ExternalKey)
	assert.Equal(t, "e001@placeholder.local", res.Identity.Email)
	assert.Equal(t, "E001", res.Identity.Name)
	assert.Equal(t, 1.0, res.Assessment.Score)
	assert.False(t, res.Sample.IsPrimary)
	assert.True(t, strings.HasSuffix(res.Sample.ImageRef, ".jpg"))
	assert.Equal(t, 1, blobs.count())

	samples, err := w.ListMine(ctx, s.Session(), alice)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, res.Sample.ID, samples[0].ID)

	vectors, err := s.Session().Faces().VectorsFor(ctx, []string{res.Identity.ID})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, vectors[0].Vector)

	entries, err := s.Session().Audit().List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.AuditEnroll, entries[0].Action)

	_, ok := c.Get(ctx, "E001")
	assert.False(t, ok, "cache entry must be invalidated")
}

func TestProvisionOnBehalf_NeverOverwritesIdentity(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	_, _, err := s.Session().Identities().CreateIfAbsent(ctx, model.Identity{
		ID: "id-1", ExternalKey: "E001", Name: "Ada", Email: "ada@corp.example", Active: true,
	})
	require.NoError(t, err)

	w := NewWorkflow(okProvider(), newFakeBlobs(), WithAuthorizer(adminOnly()))
	res, err := w.ProvisionOnBehalf(ctx, s.Session(), admin, "E001", Profile{Name: "Other", Email: "x@y"}, upload())
	require.NoError(t, err)
	assert.False(t, res.IdentityCreated)
	assert.Equal(t, "Ada", res.Identity.Name)
	assert.Equal(t, "ada@corp.example", res.Identity.Email)

	stored, err := s.Session().Identities().GetByExternalKey(ctx, "E001")
	require.NoError(t, err)
	assert.Equal(t, "Ada", stored.Name)
}

func TestProvisionOnBehalf_UsesProfileForNewIdentity(t *testing.T) {
	s := memory.New()
	w := NewWorkflow(okProvider(), newFakeBlobs(), WithAuthorizer(adminOnly()))

	res, err := w.ProvisionOnBehalf(context.Background(), s.Session(), admin, " E777 ", Profile{Name: "Grace"}, upload())
	require.NoError(t, err)
	assert.True(t, res.IdentityCreated)
	assert.Equal(t, "E777", res.Identity.ExternalKey)
	assert.Equal(t, "Grace", res.Identity.Name)
	assert.Equal(t, "e777@placeholder.local", res.Identity.Email)
}

func TestProvisionOnBehalf_AuthorizationBeforeAnyWork(t *testing.T) {
	ctx := context.Background()
	calls := 0
	p := &fakeProvider{
		detectFn: func(context.Context, string) (*model.Detection, error) { calls++; return nil, nil },
		embedFn:  func(context.Context, string) (*model.Extraction, error) { calls++; return nil, nil },
	}

	for name, w := range map[string]*Workflow{
		"no authorizer": NewWorkflow(p, newFakeBlobs()),
		"admin only":    NewWorkflow(p, newFakeBlobs(), WithAuthorizer(adminOnly())),
	} {
		t.Run(name, func(t *testing.T) {
			s := memory.New()
			_, err := w.ProvisionOnBehalf(ctx, s.Session(), bob, "E001", Profile{}, upload())
			assert.True(t, errors.Is(err, apperror.ErrForbidden))

			_, err = s.Session().Identities().GetByExternalKey(ctx, "E001")
			assert.True(t, errors.Is(err, apperror.ErrIdentityNotFound))
			assert.Equal(t, 0, w.blobs.(*fakeBlobs).count())
		})
	}
	assert.Zero(t, calls)
}

func TestProvisionOnBehalf_SelfTargetSkipsAuthorizer(t *testing.T) {
	authz := AuthorizerFunc(func(context.Context, model.Caller, string) error {
		t.Fatal("authorizer must not run for the caller's own key")
		return nil
	})
	w := NewWorkflow(okProvider(), newFakeBlobs(), WithAuthorizer(authz))

	_, err := w.ProvisionOnBehalf(context.Background(), memory.New().Session(), bob, "E002", Profile{}, upload())
	assert.NoError(t, err)
}

func TestEnroll_FailuresRemoveStoredUpload(t *testing.T) {
	dial := errors.New("connection refused")
	tests := []struct {
		name   string
		detect func(context.Context, string) (*model.Detection, error)
		embed  func(context.Context, string) (*model.Extraction, error)
		want   error
	}{
		{
			name:   "provider down on detect",
			detect: func(context.Context, string) (*model.Detection, error) { return nil, dial },
			want:   apperror.ErrProviderUnavailable,
		},
		{
			name:   "no face",
			detect: func(context.Context, string) (*model.Detection, error) { return nil, nil },
			want:   apperror.ErrNoFaceDetected,
		},
		{
			name: "low quality",
			detect: func(context.Context, string) (*model.Detection, error) {
				return &model.Detection{Box: model.Box{Width: 40, Height: 40}, Brightness: 120}, nil
			},
			want: apperror.ErrLowQuality,
		},
		{
			name:  "no embedding",
			embed: func(context.Context, string) (*model.Extraction, error) { return nil, nil },
			want:  apperror.ErrEmbeddingExtractionFailed,
		},
		{
			name:  "empty embedding",
			embed: func(context.Context, string) (*model.Extraction, error) { return &model.Extraction{}, nil },
			want:  apperror.ErrEmbeddingExtractionFailed,
		},
		{
			name: "zero embedding",
			embed: func(context.Context, string) (*model.Extraction, error) {
				return &model.Extraction{Vector: []float32{0, 0, 0}}, nil
			},
			want: apperror.ErrDegenerateVector,
		},
		{
			name:  "provider down on embed",
			embed: func(context.Context, string) (*model.Extraction, error) { return nil, dial },
			want:  apperror.ErrProviderUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			p := okProvider()
			if tt.detect != nil {
				p.detectFn = tt.detect
			}
			if tt.embed != nil {
				p.embedFn = tt.embed
			}
			blobs := newFakeBlobs()
			s := memory.New()
			w := NewWorkflow(p, blobs)

			_, err := w.SelfEnroll(ctx, s.Session(), alice, upload())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Equal(t, 0, blobs.count())
			assert.Len(t, blobs.deleted, 1)

			samples, err := w.ListMine(ctx, s.Session(), alice)
			require.NoError(t, err)
			assert.Empty(t, samples)
		})
	}
}

func TestEnroll_LowQualityCarriesScore(t *testing.T) {
	p := okProvider()
	p.detectFn = func(context.Context, string) (*model.Detection, error) {
		return &model.Detection{Box: model.Box{Width: 50, Height: 50}, Sharpness: 0, Brightness: 120}, nil
	}
	w := NewWorkflow(p, newFakeBlobs())

	_, err := w.SelfEnroll(context.Background(), memory.New().Session(), alice, upload())
	var qe *apperror.QualityError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, 0.4, qe.Score)
}

func TestEnroll_BoundaryScoreIsAccepted(t *testing.T) {
	p := okProvider()
	p.detectFn = func(context.Context, string) (*model.Detection, error) {
		return &model.Detection{Box: model.Box{Width: 100, Height: 100}, Sharpness: 0, Brightness: 120}, nil
	}
	w := NewWorkflow(p, newFakeBlobs())

	res, err := w.SelfEnroll(context.Background(), memory.New().Session(), alice, upload())
	require.NoError(t, err)
	assert.Equal(t, 0.5, res.Assessment.Score)
	assert.True(t, res.Sample.IsBlurry)
}

func TestEnroll_BlobFailureStopsBeforeProvider(t *testing.T) {
	p := &fakeProvider{
		detectFn: func(context.Context, string) (*model.Detection, error) {
			t.Fatal("provider must not be called")
			return nil, nil
		},
	}
	blobs := newFakeBlobs()
	blobs.saveErr = errors.New("disk full")
	s := memory.New()

	_, err := NewWorkflow(p, blobs).SelfEnroll(context.Background(), s.Session(), alice, upload())
	assert.True(t, errors.Is(err, apperror.ErrStoreUnavailable))

	vectors, err := s.Session().Faces().VectorsFor(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestEnroll_PartialWriteRollsBack(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	s.FailOn("faces.create_embedding", errors.New("write timeout"))
	blobs := newFakeBlobs()
	w := NewWorkflow(okProvider(), blobs)

	_, err := w.SelfEnroll(ctx, s.Session(), alice, upload())
	assert.True(t, errors.Is(err, apperror.ErrStoreUnavailable))
	assert.Equal(t, 0, blobs.count())

	s.FailOn("faces.create_embedding", nil)
	samples, err := w.ListMine(ctx, s.Session(), alice)
	require.NoError(t, err)
	assert.Empty(t, samples, "sample without embedding must not survive")

	entries, err := s.Session().Audit().List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEnroll_ConcurrentSameIdentity(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	w := NewWorkflow(okProvider(), newFakeBlobs())

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.SelfEnroll(ctx, s.Session(), alice, upload())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	ident, err := s.Session().Identities().GetByExternalKey(ctx, "E001")
	require.NoError(t, err)
	samples, err := s.Session().Faces().ListSamples(ctx, ident.ID)
	require.NoError(t, err)
	vectors, err := s.Session().Faces().VectorsFor(ctx, []string{ident.ID})
	require.NoError(t, err)
	assert.Len(t, samples, n)
	assert.Len(t, vectors, n)
}

func TestDeleteSample(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	blobs := newFakeBlobs()
	c := cache.NewMemory(0, testutil.FixedClock())
	w := NewWorkflow(okProvider(), blobs, WithCache(c))

	first, err := w.SelfEnroll(ctx, s.Session(), alice, upload())
	require.NoError(t, err)
	second, err := w.SelfEnroll(ctx, s.Session(), alice, upload())
	require.NoError(t, err)

	err = w.DeleteSample(ctx, s.Session(), bob, first.Sample.ID)
	assert.True(t, errors.Is(err, apperror.ErrForbidden))

	c.Put(ctx, "E001", []cache.Entry{{FaceID: first.Sample.ID}}, 0)
	require.NoError(t, w.DeleteSample(ctx, s.Session(), alice, first.Sample.ID))
	require.NoError(t, w.DeleteSample(ctx, s.Session(), admin, second.Sample.ID))

	_, ok := c.Get(ctx, "E001")
	assert.False(t, ok)
	assert.Equal(t, 0, blobs.count())

	err = w.DeleteSample(ctx, s.Session(), admin, first.Sample.ID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	samples, err := w.ListMine(ctx, s.Session(), alice)
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestDeleteSample_CallerTransactionDefersCleanup(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	blobs := newFakeBlobs()
	c := cache.NewMemory(0, testutil.FixedClock())
	w := NewWorkflow(okProvider(), blobs, WithCache(c))

	first, err := w.SelfEnroll(ctx, s.Session(), alice, upload())
	require.NoError(t, err)
	second, err := w.SelfEnroll(ctx, s.Session(), alice, upload())
	require.NoError(t, err)
	c.Put(ctx, "E001", []cache.Entry{{FaceID: first.Sample.ID}}, 0)

	rollback := errors.New("rollback")
	err = s.Within(ctx, func(tx store.UnitOfWork) error {
		require.NoError(t, w.DeleteSample(ctx, tx, alice, first.Sample.ID))
		return rollback
	})
	require.ErrorIs(t, err, rollback)
	_, ok := c.Get(ctx, "E001")
	assert.True(t, ok, "rolled back delete must keep the cache entry")
	assert.Equal(t, 2, blobs.count())

	err = s.Within(ctx, func(tx store.UnitOfWork) error {
		require.NoError(t, w.DeleteSample(ctx, tx, alice, second.Sample.ID))
		_, ok := c.Get(ctx, "E001")
		assert.True(t, ok, "invalidation must wait for commit")
		assert.Equal(t, 2, blobs.count())
		return nil
	})
	require.NoError(t, err)
	_, ok = c.Get(ctx, "E001")
	assert.False(t, ok)
	assert.Equal(t, 1, blobs.count())

	samples, err := w.ListMine(ctx, s.Session(), alice)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, first.Sample.ID, samples[0].ID)
}

func TestListMine_UnknownCaller(t *testing.T) {
	samples, err := NewWorkflow(okProvider(), newFakeBlobs()).ListMine(context.Background(), memory.New().Session(), bob)
	require.NoError(t, err)
	assert.NotNil(t, samples)
	assert.Empty(t, samples)
}

func TestKeyedMutex_ReleasesKeys(t *testing.T) {
	var k keyedMutex
	unlock := k.lock("a")
	done := make(chan struct{})
	go func() {
		defer close(done)
		k.lock("a")()
	}()
	unlock()
	<-done
	assert.Empty(t, k.locks)
}
