package apperror

const (
	// Client errors (4xx)
	CodeInvalidInput              = "INVALID_INPUT"
	CodeUnauthorized              = "UNAUTHORIZED"
	CodeForbidden                 = "FORBIDDEN"
	CodeNotFound                  = "NOT_FOUND"
	CodeIdentityNotFound          = "IDENTITY_NOT_FOUND"
	CodeNoFaceDetected            = "NO_FACE_DETECTED"
	CodeLowQuality                = "LOW_QUALITY"
	CodeEmbeddingExtractionFailed = "EMBEDDING_EXTRACTION_FAILED"
	CodeDegenerateVector          = "DEGENERATE_VECTOR"

	// Informational
	CodeDuplicateAttendance = "DUPLICATE_ATTENDANCE"

	// Server errors (5xx)
	CodeInternalError       = "INTERNAL_ERROR"
	CodeStoreUnavailable    = "STORE_UNAVAILABLE"
	CodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	CodeCacheUnavailable    = "CACHE_UNAVAILABLE"
)
