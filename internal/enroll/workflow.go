// Package enroll turns an uploaded face image into a stored FaceSample and
// Embedding for an identity.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"faceattend/internal/apperror"
	"faceattend/internal/cache"
	"faceattend/internal/clock"
	"faceattend/internal/embedding"
	"faceattend/internal/logger"
	"faceattend/internal/metrics"
	"faceattend/internal/model"
	"faceattend/internal/quality"
	"faceattend/internal/store"
)

// Upload is one image handed in by a client.
type Upload struct {
	Filename string
	Body     io.Reader
}

// Profile carries optional attributes for an identity created on the fly.
// They are ignored when the identity already exists.
type Profile struct {
	Name  string
	Email string
}

// Result describes a completed enrollment.
type Result struct {
	Identity        model.Identity     `json:"identity"`
	IdentityCreated bool               `json:"identity_created"`
	Sample          model.FaceSample   `json:"sample"`
	Assessment      quality.Assessment `json:"assessment"`
}

// Workflow runs enrollments. It is safe for concurrent use.
type Workflow struct {
	provider Provider
	blobs    BlobStore
	authz    Authorizer
	gate     quality.Gate
	cache    cache.Cache
	clock    clock.Clock
	log      logrus.FieldLogger
	locks    keyedMutex
	newID    func() string
}

// Option configures a Workflow.
type Option func(*Workflow)

func WithAuthorizer(a Authorizer) Option { return func(w *Workflow) { w.authz = a } }
func WithGate(g quality.Gate) Option     { return func(w *Workflow) { w.gate = g } }
func WithCache(c cache.Cache) Option     { return func(w *Workflow) { w.cache = c } }
func WithClock(c clock.Clock) Option     { return func(w *Workflow) { w.clock = c } }
func WithLogger(l logrus.FieldLogger) Option {
	return func(w *Workflow) { w.log = l }
}

// NewWorkflow wires a workflow. Without an authorizer every on-behalf
// enrollment is refused.
func NewWorkflow(p Provider, b BlobStore, opts ...Option) *Workflow {
	w := &Workflow{
		provider: p,
		blobs:    b,
		gate:     quality.NewGate(quality.DefaultMinScore),
		newID:    newSampleID,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.authz == nil {
		w.authz = denyAll
	}
	if w.cache == nil {
		w.cache = cache.Nop{}
	}
	w.clock = clock.OrReal(w.clock)
	w.log = logger.OrStandard(w.log)
	return w
}

// newSampleID returns a time-ordered id so that scan order follows creation order.
func newSampleID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// SelfEnroll enrolls a face for the caller's own identity.
func (w *Workflow) SelfEnroll(ctx context.Context, uow store.UnitOfWork, caller model.Caller, up Upload) (Result, error) {
	if caller.ExternalKey == "" {
		return Result{}, apperror.ErrUnauthorized
	}
	return w.run(ctx, uow, caller, caller.ExternalKey, Profile{}, up)
}

// ProvisionOnBehalf enrolls a face for targetKey, creating the identity with
// profile when it does not exist. The authorizer is consulted first unless
// the target is the caller.
func (w *Workflow) ProvisionOnBehalf(ctx context.Context, uow store.UnitOfWork, caller model.Caller, targetKey string, profile Profile, up Upload) (Result, error) {
	targetKey = strings.TrimSpace(targetKey)
	if targetKey == "" {
		return Result{}, apperror.New(apperror.CodeInvalidInput, "target identity key is required", apperror.ErrInvalidInput.HTTPStatus)
	}
	if targetKey != caller.ExternalKey {
		if err := w.authz.CanEnrollFor(ctx, caller, targetKey); err != nil {
			w.log.WithFields(logrus.Fields{"actor": caller.ExternalKey, "identity": targetKey}).Warn("on-behalf enrollment refused")
			metrics.Enrollments.WithLabelValues(outcome(err)).Inc()
			return Result{}, err
		}
	}
	return w.run(ctx, uow, caller, targetKey, profile, up)
}

func (w *Workflow) run(ctx context.Context, uow store.UnitOfWork, caller model.Caller, key string, profile Profile, up Upload) (Result, error) {
	res, err := w.enroll(ctx, uow, caller, key, profile, up)
	metrics.Enrollments.WithLabelValues(outcome(err)).Inc()
	return res, err
}

func (w *Workflow) enroll(ctx context.Context, uow store.UnitOfWork, caller model.Caller, key string, profile Profile, up Upload) (Result, error) {
	if up.Body == nil {
		return Result{}, apperror.New(apperror.CodeInvalidInput, "image is required", apperror.ErrInvalidInput.HTTPStatus)
	}
	log := w.log.WithFields(logrus.Fields{"identity": key, "actor": caller.ExternalKey})

	ident, created, err := w.resolve(ctx, uow, key, profile)
	if err != nil {
		return Result{}, err
	}
	if created {
		log.Info("identity provisioned")
	}

	sampleID := w.newID()
	ref, err := w.blobs.Save(ctx, blobName(key, sampleID, up.Filename), up.Body)
	if err != nil {
		return Result{}, apperror.StoreUnavailable(fmt.Errorf("save upload: %w", err))
	}
	kept := false
	defer func() {
		if !kept {
			w.discard(ctx, ref)
		}
	}()

	src := ref
	if loc, ok := w.blobs.(Locator); ok {
		if src, err = loc.Locate(ctx, ref); err != nil {
			return Result{}, apperror.StoreUnavailable(fmt.Errorf("locate upload: %w", err))
		}
	}

	det, err := w.provider.Detect(ctx, src)
	if err != nil {
		return Result{}, apperror.ProviderUnavailable(err)
	}
	if det == nil {
		return Result{}, apperror.ErrNoFaceDetected
	}

	assessment, err := w.gate.Check(quality.Signals{
		Height:     det.Box.Height,
		Width:      det.Box.Width,
		Sharpness:  det.Sharpness,
		Brightness: det.Brightness,
	})
	if err != nil {
		log.WithField("score", assessment.Score).Info("sample rejected by quality gate")
		return Result{}, err
	}

	ext, err := w.provider.Embed(ctx, src)
	if err != nil {
		return Result{}, apperror.ProviderUnavailable(err)
	}
	if ext == nil || len(ext.Vector) == 0 || len(ext.Vector) > embedding.MaxDimension {
		return Result{}, apperror.ErrEmbeddingExtractionFailed
	}
	if embedding.IsDegenerate(ext.Vector) {
		return Result{}, apperror.ErrDegenerateVector
	}

	now := w.clock.Now().UTC()
	sample := model.FaceSample{
		ID:           sampleID,
		IdentityID:   ident.ID,
		ImageRef:     ref,
		Confidence:   det.Confidence,
		Box:          det.Box,
		QualityScore: assessment.Score,
		IsBlurry:     assessment.IsBlurry,
		Brightness:   det.Brightness,
		Sharpness:    det.Sharpness,
		CreatedAt:    now,
	}
	emb := model.Embedding{
		FaceID:       sampleID,
		Vector:       ext.Vector,
		ModelName:    ext.ModelName,
		ModelVersion: ext.ModelVersion,
		CreatedAt:    now,
	}

	unlock := w.locks.lock(key)
	err = uow.Atomic(ctx, func(tx store.UnitOfWork) error {
		if err := tx.Faces().CreateSample(ctx, sample); err != nil {
			return fmt.Errorf("create sample: %w", err)
		}
		if err := tx.Faces().CreateEmbedding(ctx, emb); err != nil {
			return fmt.Errorf("create embedding: %w", err)
		}
		tx.AfterCommit(func() { w.invalidate(ctx, key) })
		return tx.Audit().Append(ctx, model.AuditEntry{
			ID:        uuid.NewString(),
			ActorKey:  caller.ExternalKey,
			Action:    model.AuditEnroll,
			Subject:   key,
			Detail:    fmt.Sprintf("face %s quality %.2f", sampleID, assessment.Score),
			CreatedAt: now,
		})
	})
	unlock()
	if err != nil {
		log.WithError(err).Error("enrollment not persisted")
		return Result{}, apperror.StoreUnavailable(err)
	}
	kept = true

	log.WithFields(logrus.Fields{"face_id": sampleID, "score": assessment.Score}).Info("face enrolled")
	return Result{Identity: ident, IdentityCreated: created, Sample: sample, Assessment: assessment}, nil
}

// resolve returns the identity for key, creating it when absent. Existing
// identities are never modified.
func (w *Workflow) resolve(ctx context.Context, uow store.UnitOfWork, key string, profile Profile) (model.Identity, bool, error) {
	name := strings.TrimSpace(profile.Name)
	if name == "" {
		name = key
	}
	email := strings.TrimSpace(profile.Email)
	if email == "" {
		email = model.PlaceholderEmail(key)
	}
	ident, created, err := uow.Identities().CreateIfAbsent(ctx, model.Identity{
		ID:          uuid.NewString(),
		ExternalKey: key,
		Name:        name,
		Email:       email,
		Active:      true,
		Role:        model.RoleUser,
		CreatedAt:   w.clock.Now().UTC(),
	})
	if err != nil {
		return model.Identity{}, false, apperror.StoreUnavailable(err)
	}
	return ident, created, nil
}

// invalidate drops the cached vectors of key once its samples changed.
func (w *Workflow) invalidate(ctx context.Context, key string) {
	w.cache.Invalidate(context.WithoutCancel(ctx), key)
}

// discard removes a stored upload. It runs even when ctx is already done.
func (w *Workflow) discard(ctx context.Context, ref string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.blobs.Delete(ctx, ref); err != nil {
		w.log.WithError(err).WithField("ref", ref).Warn("failed to remove stored upload")
	}
}

// DeleteSample removes one face sample and its embedding. Only the owner
// or an administrator may do so.
func (w *Workflow) DeleteSample(ctx context.Context, uow store.UnitOfWork, caller model.Caller, faceID string) error {
	sample, err := uow.Faces().GetSample(ctx, faceID)
	if err != nil {
		return apperror.StoreUnavailable(err)
	}
	owner, err := uow.Identities().GetByID(ctx, sample.IdentityID)
	if err != nil {
		return apperror.StoreUnavailable(err)
	}
	if owner.ExternalKey != caller.ExternalKey && !caller.IsAdmin() {
		return apperror.ErrForbidden
	}

	unlock := w.locks.lock(owner.ExternalKey)
	err = uow.Atomic(ctx, func(tx store.UnitOfWork) error {
		if err := tx.Faces().DeleteSample(ctx, faceID); err != nil {
			return err
		}
		tx.AfterCommit(func() {
			w.invalidate(ctx, owner.ExternalKey)
			if sample.ImageRef != "" {
				w.discard(ctx, sample.ImageRef)
			}
		})
		return tx.Audit().Append(ctx, model.AuditEntry{
			ID:        uuid.NewString(),
			ActorKey:  caller.ExternalKey,
			Action:    model.AuditDeleteFace,
			Subject:   owner.ExternalKey,
			Detail:    "face " + faceID,
			CreatedAt: w.clock.Now().UTC(),
		})
	})
	unlock()
	if err != nil {
		return apperror.StoreUnavailable(err)
	}

	w.log.WithFields(logrus.Fields{"identity": owner.ExternalKey, "face_id": faceID, "actor": caller.ExternalKey}).Info("face deleted")
	return nil
}

// ListMine returns the caller's face samples, oldest first.
func (w *Workflow) ListMine(ctx context.Context, uow store.UnitOfWork, caller model.Caller) ([]model.FaceSample, error) {
	ident, err := uow.Identities().GetByExternalKey(ctx, caller.ExternalKey)
	if errors.Is(err, apperror.ErrIdentityNotFound) {
		return []model.FaceSample{}, nil
	}
	if err != nil {
		return nil, apperror.StoreUnavailable(err)
	}
	samples, err := uow.Faces().ListSamples(ctx, ident.ID)
	if err != nil {
		return nil, apperror.StoreUnavailable(err)
	}
	if samples == nil {
		samples = []model.FaceSample{}
	}
	return samples, nil
}

func blobName(key, sampleID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		ext = ".jpg"
	}
	return key + "/" + sampleID + ext
}

func outcome(err error) string {
	if err == nil {
		return "enrolled"
	}
	return strings.ToLower(apperror.From(err).Code)
}
