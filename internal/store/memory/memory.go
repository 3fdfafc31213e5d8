// Package memory is an in-process implementation of the store contracts,
// used for development runs and tests.
package memory

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"faceattend/internal/apperror"
	"faceattend/internal/model"
	"faceattend/internal/store"
)

type state struct {
	identities map[string]model.Identity
	byKey      map[string]string
	samples    map[string]model.FaceSample
	embeddings map[string]model.Embedding
	records    map[recordKey]model.AttendanceRecord
	audit      []model.AuditEntry
}

type recordKey struct {
	identityID string
	date       string
}

func keyOf(identityID string, date time.Time) recordKey {
	return recordKey{identityID: identityID, date: date.Format(time.DateOnly)}
}

func newState() *state {
	return &state{
		identities: make(map[string]model.Identity),
		byKey:      make(map[string]string),
		samples:    make(map[string]model.FaceSample),
		embeddings: make(map[string]model.Embedding),
		records:    make(map[recordKey]model.AttendanceRecord),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.identities {
		c.identities[k] = v
	}
	for k, v := range s.byKey {
		c.byKey[k] = v
	}
	for k, v := range s.samples {
		c.samples[k] = v
	}
	for k, v := range s.embeddings {
		c.embeddings[k] = v
	}
	for k, v := range s.records {
		c.records[k] = v
	}
	c.audit = append([]model.AuditEntry(nil), s.audit...)
	return c
}

// Store keeps all state behind one mutex. Atomic sections work on a copy
// that replaces the live state only when the section succeeds.
type Store struct {
	mu     sync.Mutex
	state  *state
	faults map[string]error
}

// New returns an empty store.
func New() *Store {
	return &Store{state: newState(), faults: make(map[string]error)}
}

// FailOn makes the named operation (e.g. "faces.create_embedding") return err. A nil err clears it.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

// Session returns a unit whose operations each lock the store.
func (s *Store) Session() store.UnitOfWork {
	return &unit{s: s}
}

// Within runs fn as one atomic section.
func (s *Store) Within(ctx context.Context, fn func(store.UnitOfWork) error) error {
	return s.Session().Atomic(ctx, fn)
}

type unit struct {
	s     *Store
	tx    *state
	hooks *[]func()
}

func (u *unit) do(op string, f func(st *state) error) error {
	if u.tx != nil {
		if err := u.s.faults[op]; err != nil {
			return err
		}
		return f(u.tx)
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if err := u.s.faults[op]; err != nil {
		return err
	}
	return f(u.s.state)
}

func (u *unit) Atomic(_ context.Context, fn func(store.UnitOfWork) error) error {
	if u.tx != nil {
		return fn(u)
	}
	var hooks []func()
	if err := u.s.apply(fn, &hooks); err != nil {
		return err
	}
	for _, h := range hooks {
		h()
	}
	return nil
}

// apply runs fn on a copy of the state and swaps it in on success.
func (s *Store) apply(fn func(store.UnitOfWork) error, hooks *[]func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &unit{s: s, tx: s.state.clone(), hooks: hooks}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.tx
	return nil
}

func (u *unit) Transactional() bool { return u.tx != nil }

func (u *unit) AfterCommit(fn func()) {
	if u.tx == nil {
		fn()
		return
	}
	*u.hooks = append(*u.hooks, fn)
}

func (u *unit) Identities() store.IdentityRepository   { return identities{u} }
func (u *unit) Faces() store.FaceRepository            { return faces{u} }
func (u *unit) Attendance() store.AttendanceRepository { return attendance{u} }
func (u *unit) Audit() store.AuditRepository           { return audit{u} }

type identities struct{ u *unit }

func (r identities) GetByExternalKey(_ context.Context, key string) (model.Identity, error) {
	var out model.Identity
	err := r.u.do("identities.get", func(st *state) error {
		id, ok := st.byKey[key]
		if !ok {
			return apperror.ErrIdentityNotFound
		}
		out = st.identities[id]
		return nil
	})
	return out, err
}

func (r identities) GetByID(_ context.Context, id string) (model.Identity, error) {
	var out model.Identity
	err := r.u.do("identities.get", func(st *state) error {
		ident, ok := st.identities[id]
		if !ok {
			return apperror.ErrIdentityNotFound
		}
		out = ident
		return nil
	})
	return out, err
}

func (r identities) CreateIfAbsent(_ context.Context, ident model.Identity) (model.Identity, bool, error) {
	var (
		out     model.Identity
		created bool
	)
	err := r.u.do("identities.create", func(st *state) error {
		if id, ok := st.byKey[ident.ExternalKey]; ok {
			out = st.identities[id]
			return nil
		}
		if ident.CreatedAt.IsZero() {
			ident.CreatedAt = time.Now().UTC()
		}
		st.identities[ident.ID] = ident
		st.byKey[ident.ExternalKey] = ident.ID
		out, created = ident, true
		return nil
	})
	return out, created, err
}

func (r identities) ListEnrolled(_ context.Context) ([]model.Identity, error) {
	var out []model.Identity
	err := r.u.do("identities.list_enrolled", func(st *state) error {
		enrolled := make(map[string]bool)
		for faceID := range st.embeddings {
			if s, ok := st.samples[faceID]; ok {
				enrolled[s.IdentityID] = true
			}
		}
		for id := range enrolled {
			if ident := st.identities[id]; ident.Active {
				out = append(out, ident)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalKey < out[j].ExternalKey })
	return out, err
}

type faces struct{ u *unit }

func (r faces) CreateSample(_ context.Context, s model.FaceSample) error {
	return r.u.do("faces.create_sample", func(st *state) error {
		if _, ok := st.identities[s.IdentityID]; !ok {
			return apperror.ErrIdentityNotFound
		}
		st.samples[s.ID] = s
		return nil
	})
}

func (r faces) CreateEmbedding(_ context.Context, e model.Embedding) error {
	return r.u.do("faces.create_embedding", func(st *state) error {
		if _, ok := st.samples[e.FaceID]; !ok {
			return apperror.ErrNotFound
		}
		if _, dup := st.embeddings[e.FaceID]; dup {
			return apperror.New(apperror.CodeInvalidInput, "face already has an embedding", http.StatusConflict)
		}
		e.Vector = append([]float32(nil), e.Vector...)
		st.embeddings[e.FaceID] = e
		return nil
	})
}

func (r faces) GetSample(_ context.Context, id string) (model.FaceSample, error) {
	var out model.FaceSample
	err := r.u.do("faces.get_sample", func(st *state) error {
		s, ok := st.samples[id]
		if !ok {
			return apperror.ErrNotFound
		}
		out = s
		return nil
	})
	return out, err
}

func (r faces) ListSamples(_ context.Context, identityID string) ([]model.FaceSample, error) {
	var out []model.FaceSample
	err := r.u.do("faces.list_samples", func(st *state) error {
		for _, s := range st.samples {
			if s.IdentityID == identityID {
				out = append(out, s)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r faces) DeleteSample(_ context.Context, id string) error {
	return r.u.do("faces.delete_sample", func(st *state) error {
		if _, ok := st.samples[id]; !ok {
			return apperror.ErrNotFound
		}
		delete(st.samples, id)
		delete(st.embeddings, id)
		return nil
	})
}

func (r faces) VectorsFor(_ context.Context, identityIDs []string) ([]model.EnrolledVector, error) {
	var out []model.EnrolledVector
	err := r.u.do("faces.vectors", func(st *state) error {
		want := make(map[string]bool, len(identityIDs))
		for _, id := range identityIDs {
			want[id] = true
		}
		for faceID, e := range st.embeddings {
			s := st.samples[faceID]
			if !want[s.IdentityID] {
				continue
			}
			out = append(out, model.EnrolledVector{
				IdentityID: s.IdentityID,
				FaceID:     faceID,
				Quality:    s.QualityScore,
				Vector:     append([]float32(nil), e.Vector...),
			})
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].FaceID < out[j].FaceID })
	return out, err
}

type attendance struct{ u *unit }

func (r attendance) InsertIfAbsent(_ context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, bool, error) {
	var (
		out     model.AttendanceRecord
		created bool
	)
	err := r.u.do("attendance.insert", func(st *state) error {
		k := keyOf(rec.IdentityID, rec.Date)
		if existing, ok := st.records[k]; ok {
			out = existing
			return nil
		}
		st.records[k] = rec
		out, created = rec, true
		return nil
	})
	return out, created, err
}

func (r attendance) Get(_ context.Context, identityID string, date time.Time) (model.AttendanceRecord, error) {
	var out model.AttendanceRecord
	err := r.u.do("attendance.get", func(st *state) error {
		rec, ok := st.records[keyOf(identityID, date)]
		if !ok {
			return apperror.ErrNotFound
		}
		out = rec
		return nil
	})
	return out, err
}

func (r attendance) List(_ context.Context, identityID string, from, to time.Time) ([]model.AttendanceRecord, error) {
	var out []model.AttendanceRecord
	err := r.u.do("attendance.list", func(st *state) error {
		for _, rec := range st.records {
			if rec.IdentityID == identityID && !rec.Date.Before(from) && !rec.Date.After(to) {
				out = append(out, rec)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, err
}

func (r attendance) CountByStatus(ctx context.Context, identityID string, from, to time.Time) (map[model.Status]int, error) {
	recs, err := r.List(ctx, identityID, from, to)
	if err != nil {
		return nil, err
	}
	out := make(map[model.Status]int)
	for _, rec := range recs {
		out[rec.Status]++
	}
	return out, nil
}

type audit struct{ u *unit }

func (r audit) Append(_ context.Context, e model.AuditEntry) error {
	return r.u.do("audit.append", func(st *state) error {
		st.audit = append(st.audit, e)
		return nil
	})
}

func (r audit) List(_ context.Context, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []model.AuditEntry
	err := r.u.do("audit.list", func(st *state) error {
		for i := len(st.audit) - 1; i >= 0 && len(out) < limit; i-- {
			out = append(out, st.audit[i])
		}
		return nil
	})
	return out, err
}
