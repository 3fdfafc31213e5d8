package apperror

import "net/http"

var (
	ErrInvalidInput = New(CodeInvalidInput, "The provided input is invalid", http.StatusBadRequest)

	ErrUnauthorized = New(CodeUnauthorized, "Authentication is required", http.StatusUnauthorized)

	ErrForbidden = New(CodeForbidden, "You do not have permission to access this resource", http.StatusForbidden)

	ErrNotFound = New(CodeNotFound, "Resource not found", http.StatusNotFound)

	ErrIdentityNotFound = New(CodeIdentityNotFound, "Identity not found", http.StatusNotFound)

	ErrNoFaceDetected = New(CodeNoFaceDetected, "No face detected in image", http.StatusUnprocessableEntity)

	ErrLowQuality = New(CodeLowQuality, "Face quality too low", http.StatusUnprocessableEntity)

	ErrEmbeddingExtractionFailed = New(CodeEmbeddingExtractionFailed, "Failed to extract face embedding", http.StatusUnprocessableEntity)

	ErrDegenerateVector = New(CodeDegenerateVector, "Embedding vector has zero norm", http.StatusUnprocessableEntity)

	// ErrDuplicateAttendance is informational: the day is already marked.
	ErrDuplicateAttendance = New(CodeDuplicateAttendance, "Attendance already marked for today", http.StatusOK)

	ErrInternal = New(CodeInternalError, "An unexpected error occurred", http.StatusInternalServerError)

	ErrStoreUnavailable = New(CodeStoreUnavailable, "Storage is unavailable", http.StatusServiceUnavailable)

	ErrProviderUnavailable = New(CodeProviderUnavailable, "Face recognition service is unavailable", http.StatusServiceUnavailable)

	// ErrCacheUnavailable never reaches callers; the cache absorbs it.
	ErrCacheUnavailable = New(CodeCacheUnavailable, "Cache is unavailable", http.StatusServiceUnavailable)
)
