package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIs_MatchesByCode(t *testing.T) {
	err := fmt.Errorf("enroll: %w", Wrap(errors.New("boom"), CodeNoFaceDetected, "no face", http.StatusUnprocessableEntity))

	assert.True(t, errors.Is(err, ErrNoFaceDetected))
	assert.False(t, errors.Is(err, ErrLowQuality))
}

func TestLowQuality_CarriesScore(t *testing.T) {
	err := fmt.Errorf("gate: %w", LowQuality(0.42))

	var qe *QualityError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, 0.42, qe.Score)
	assert.True(t, errors.Is(err, ErrLowQuality))
	assert.Contains(t, err.Error(), "0.42")
	assert.Equal(t, CodeLowQuality, From(err).Code)
	assert.Equal(t, 422, From(err).HTTPStatus)
}

func TestStoreUnavailable_KeepsExistingAppError(t *testing.T) {
	assert.Nil(t, StoreUnavailable(nil))

	wrapped := StoreUnavailable(errors.New("dial tcp: refused"))
	assert.True(t, errors.Is(wrapped, ErrStoreUnavailable))

	kept := StoreUnavailable(ErrIdentityNotFound)
	assert.True(t, errors.Is(kept, ErrIdentityNotFound))
	assert.False(t, errors.Is(kept, ErrStoreUnavailable))
}

func TestFrom_DefaultsToInternal(t *testing.T) {
	appErr := From(errors.New("surprise"))
	require.NotNil(t, appErr)
	assert.Equal(t, CodeInternalError, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.HTTPStatus)

	assert.Equal(t, CodeForbidden, From(ErrForbidden).Code)
	assert.Nil(t, From(nil))
}
