package enroll

import (
	"context"
	"io"

	"faceattend/internal/apperror"
	"faceattend/internal/model"
)

// Provider is the external detection and embedding service. A nil result
// with a nil error means the provider found nothing usable.
type Provider interface {
	Detect(ctx context.Context, ref string) (*model.Detection, error)
	Embed(ctx context.Context, ref string) (*model.Extraction, error)
}

// BlobStore keeps uploaded images. Refs returned by Save are what the
// provider receives.
type BlobStore interface {
	Save(ctx context.Context, name string, r io.Reader) (ref string, err error)
	Delete(ctx context.Context, ref string) error
}

// Locator is implemented by blob stores whose refs the provider cannot read
// directly. Locate returns an address the provider can fetch.
type Locator interface {
	Locate(ctx context.Context, ref string) (string, error)
}

// Authorizer decides whether caller may enroll faces for targetKey.
type Authorizer interface {
	CanEnrollFor(ctx context.Context, caller model.Caller, targetKey string) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, caller model.Caller, targetKey string) error

func (f AuthorizerFunc) CanEnrollFor(ctx context.Context, caller model.Caller, targetKey string) error {
	return f(ctx, caller, targetKey)
}

// denyAll is used when no authorizer is configured.
var denyAll = AuthorizerFunc(func(context.Context, model.Caller, string) error {
	return apperror.ErrForbidden
})
