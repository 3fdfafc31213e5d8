package auth

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"faceattend/internal/apperror"
	"faceattend/internal/model"
)

const callerKey = "caller"

// Bearer enforces bearer JWT tokens signed with HS256 and stores the caller
// on the context.
func Bearer(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			abort(c, apperror.New(apperror.CodeUnauthorized, "missing bearer token", apperror.ErrUnauthorized.HTTPStatus))
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			abort(c, apperror.New(apperror.CodeUnauthorized, "invalid token", apperror.ErrUnauthorized.HTTPStatus))
			return
		}
		c.Set(callerKey, claims.Caller())
		c.Next()
	}
}

// RequireAdmin rejects callers without the admin role. It must run after Bearer.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := CallerFrom(c)
		if !ok {
			abort(c, apperror.ErrUnauthorized)
			return
		}
		if !caller.IsAdmin() {
			abort(c, apperror.ErrForbidden)
			return
		}
		c.Next()
	}
}

// CallerFrom returns the caller set by Bearer.
func CallerFrom(c *gin.Context) (model.Caller, bool) {
	v, ok := c.Get(callerKey)
	if !ok {
		return model.Caller{}, false
	}
	caller, ok := v.(model.Caller)
	return caller, ok && caller.ExternalKey != ""
}

// RoleAuthorizer lets administrators enroll faces for any identity.
type RoleAuthorizer struct{}

// CanEnrollFor returns ErrForbidden unless caller is an administrator.
func (RoleAuthorizer) CanEnrollFor(_ context.Context, caller model.Caller, _ string) error {
	if caller.IsAdmin() {
		return nil
	}
	return apperror.ErrForbidden
}

func abort(c *gin.Context, err *apperror.AppError) {
	c.AbortWithStatusJSON(err.HTTPStatus, gin.H{"error": gin.H{"code": err.Code, "message": err.Message}})
}
