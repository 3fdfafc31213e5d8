package model

import (
	"strings"
	"time"
)

// Role tags an identity as a plain user or an administrator.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole maps free text to a known role, defaulting to user.
func ParseRole(s string) Role {
	if strings.EqualFold(strings.TrimSpace(s), string(RoleAdmin)) {
		return RoleAdmin
	}
	return RoleUser
}

// Identity is an enrollable subject, keyed by an immutable external key.
type Identity struct {
	ID          string    `json:"id"`
	ExternalKey string    `json:"external_key"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Active      bool      `json:"active"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// PlaceholderEmail is the contact attribute given to auto-provisioned identities.
func PlaceholderEmail(externalKey string) string {
	return strings.ToLower(externalKey) + "@placeholder.local"
}

// Box is a detected face region in pixels.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Detection is what the provider reports about the face in an image.
type Detection struct {
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence"`
	Sharpness  float64 `json:"sharpness"`
	Brightness float64 `json:"brightness"`
}

// Extraction is an embedding as produced by the provider.
type Extraction struct {
	Vector       []float32 `json:"vector"`
	ModelName    string    `json:"model_name"`
	ModelVersion string    `json:"model_version"`
}

// FaceSample holds detection and quality metadata of one enrolled image.
type FaceSample struct {
	ID           string    `json:"id"`
	IdentityID   string    `json:"identity_id"`
	ImageRef     string    `json:"image_ref"`
	Confidence   float64   `json:"confidence"`
	Box          Box       `json:"box"`
	QualityScore float64   `json:"quality_score"`
	IsBlurry     bool      `json:"is_blurry"`
	Brightness   float64   `json:"brightness"`
	Sharpness    float64   `json:"sharpness"`
	IsPrimary    bool      `json:"is_primary"` // reserved, never set
	CreatedAt    time.Time `json:"created_at"`
}

// Embedding is the vector of exactly one FaceSample.
type Embedding struct {
	FaceID       string    `json:"face_id"`
	Vector       []float32 `json:"vector"`
	ModelName    string    `json:"model_name"`
	ModelVersion string    `json:"model_version"`
	CreatedAt    time.Time `json:"created_at"`
}

// EnrolledVector is one corpus entry as read from the store.
type EnrolledVector struct {
	IdentityID string
	FaceID     string
	Quality    float64
	Vector     []float32
}

// Status of an attendance record.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusHalfDay Status = "half_day"
	StatusLeave   Status = "leave"
)

// AttendanceRecord is the ledger row for one identity on one calendar date.
type AttendanceRecord struct {
	ID         string     `json:"id"`
	IdentityID string     `json:"identity_id"`
	Date       time.Time  `json:"date"`
	CheckIn    time.Time  `json:"check_in"`
	CheckOut   *time.Time `json:"check_out,omitempty"`
	Status     Status     `json:"status"`
}

// MatchResult is one ranked candidate of a match request.
type MatchResult struct {
	IdentityID  string  `json:"identity_id"`
	ExternalKey string  `json:"external_key"`
	Name        string  `json:"name"`
	FaceID      string  `json:"face_id"`
	Similarity  float64 `json:"similarity"`
	Quality     float64 `json:"quality"`
}

// AuditEntry records an administrative or state-changing action.
type AuditEntry struct {
	ID        string    `json:"id"`
	ActorKey  string    `json:"actor_key"`
	Action    string    `json:"action"`
	Subject   string    `json:"subject"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Audit actions.
const (
	AuditEnroll     = "face.enroll"
	AuditDeleteFace = "face.delete"
	AuditMark       = "attendance.mark"
	AuditCacheClear = "cache.clear"
)

// Caller is the authenticated actor of a request.
type Caller struct {
	ExternalKey string
	Role        Role
}

// IsAdmin reports whether the caller holds the administrator role.
func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }

// DateOf truncates t to its calendar date in loc, returned as midnight UTC.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
