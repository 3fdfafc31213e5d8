package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceattend/internal/apperror"
	"faceattend/internal/model"
	"faceattend/internal/store"
)

func seedIdentity(t *testing.T, uow store.UnitOfWork, id, key string) model.Identity {
	t.Helper()
	ident, created, err := uow.Identities().CreateIfAbsent(context.Background(), model.Identity{ID: id, ExternalKey: key, Name: key, Active: true, Role: model.RoleUser})
	require.NoError(t, err)
	require.True(t, created)
	return ident
}

func TestIdentities_CreateIfAbsentNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	uow := New().Session()
	seedIdentity(t, uow, "i1", "E1")

	got, created, err := uow.Identities().CreateIfAbsent(ctx, model.Identity{ID: "i2", ExternalKey: "E1", Name: "Someone Else"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "i1", got.ID)
	assert.Equal(t, "E1", got.Name)

	_, err = uow.Identities().GetByExternalKey(ctx, "missing")
	assert.True(t, errors.Is(err, apperror.ErrIdentityNotFound))
}

func TestAtomic_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	uow := s.Session()
	seedIdentity(t, uow, "i1", "E1")

	s.FailOn("faces.create_embedding", errors.New("disk full"))
	err := uow.Atomic(ctx, func(tx store.UnitOfWork) error {
		if err := tx.Faces().CreateSample(ctx, model.FaceSample{ID: "f1", IdentityID: "i1"}); err != nil {
			return err
		}
		return tx.Faces().CreateEmbedding(ctx, model.Embedding{FaceID: "f1", Vector: []float32{1}})
	})
	require.Error(t, err)

	_, err = uow.Faces().GetSample(ctx, "f1")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	s.FailOn("faces.create_embedding", nil)
	err = uow.Atomic(ctx, func(tx store.UnitOfWork) error {
		if err := tx.Faces().CreateSample(ctx, model.FaceSample{ID: "f1", IdentityID: "i1"}); err != nil {
			return err
		}
		return tx.Faces().CreateEmbedding(ctx, model.Embedding{FaceID: "f1", Vector: []float32{1}})
	})
	require.NoError(t, err)

	vecs, err := uow.Faces().VectorsFor(ctx, []string{"i1"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, "f1", vecs[0].FaceID)
}

func TestAfterCommit(t *testing.T) {
	ctx := context.Background()
	s := New()

	var ran []string
	s.Session().AfterCommit(func() { ran = append(ran, "now") })
	require.Equal(t, []string{"now"}, ran)

	require.NoError(t, s.Within(ctx, func(uow store.UnitOfWork) error {
		require.True(t, uow.Transactional())
		return uow.Atomic(ctx, func(inner store.UnitOfWork) error {
			inner.AfterCommit(func() { ran = append(ran, "committed") })
			assert.Len(t, ran, 1)
			return nil
		})
	}))
	assert.Equal(t, []string{"now", "committed"}, ran)

	err := s.Within(ctx, func(uow store.UnitOfWork) error {
		uow.AfterCommit(func() { ran = append(ran, "rolled back") })
		return errors.New("abort")
	})
	require.Error(t, err)
	assert.Equal(t, []string{"now", "committed"}, ran)

	// Hooks run after the store lock is released.
	require.NoError(t, s.Session().Atomic(ctx, func(uow store.UnitOfWork) error {
		uow.AfterCommit(func() {
			_, err := s.Session().Audit().List(ctx, 1)
			assert.NoError(t, err)
		})
		return nil
	}))
}

func TestFaces_VectorsOrderedAndDeleteCascades(t *testing.T) {
	ctx := context.Background()
	uow := New().Session()
	seedIdentity(t, uow, "i1", "E1")
	seedIdentity(t, uow, "i2", "E2")

	for _, f := range []struct{ id, owner string }{{"f3", "i2"}, {"f1", "i1"}, {"f2", "i1"}} {
		require.NoError(t, uow.Faces().CreateSample(ctx, model.FaceSample{ID: f.id, IdentityID: f.owner}))
		require.NoError(t, uow.Faces().CreateEmbedding(ctx, model.Embedding{FaceID: f.id, Vector: []float32{1, 0}}))
	}

	vecs, err := uow.Faces().VectorsFor(ctx, []string{"i1", "i2"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, []string{"f1", "f2", "f3"}, []string{vecs[0].FaceID, vecs[1].FaceID, vecs[2].FaceID})

	enrolled, err := uow.Identities().ListEnrolled(ctx)
	require.NoError(t, err)
	assert.Len(t, enrolled, 2)

	require.NoError(t, uow.Faces().DeleteSample(ctx, "f3"))
	enrolled, err = uow.Identities().ListEnrolled(ctx)
	require.NoError(t, err)
	require.Len(t, enrolled, 1)
	assert.Equal(t, "E1", enrolled[0].ExternalKey)

	assert.True(t, errors.Is(uow.Faces().DeleteSample(ctx, "f3"), apperror.ErrNotFound))
}

func TestAttendance_ConcurrentInsertCreatesOnce(t *testing.T) {
	ctx := context.Background()
	uow := New().Session()
	seedIdentity(t, uow, "i1", "E1")
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	const callers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		seen    = map[time.Time]bool{}
	)
	for n := 0; n < callers; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rec, ok, err := uow.Attendance().InsertIfAbsent(ctx, model.AttendanceRecord{
				ID:         "r" + string(rune('a'+n)),
				IdentityID: "i1",
				Date:       date,
				CheckIn:    date.Add(time.Duration(n) * time.Second),
				Status:     model.StatusPresent,
			})
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				created++
			}
			seen[rec.CheckIn] = true
		}(n)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, seen, 1)

	counts, err := uow.Attendance().CountByStatus(ctx, "i1", time.Time{}, date)
	require.NoError(t, err)
	assert.Equal(t, map[model.Status]int{model.StatusPresent: 1}, counts)
}
