package security

import (
	"errors"
	"net/http"
	"strings"

	"PBoard/tools/errs"
	tokens "PBoard/tools/security"

	"github.com/gin-gonic/gin"
)

// context keys set for authenticated requests
const (
	CtxUserIDKey   = "user_id"  // int64
	CtxUsernameKey = "username" // string
	CtxTokenKey    = "authorization"
)

type Options struct {
	Token tokens.Options

	// HeaderToken is read before Authorization: Bearer.
	HeaderToken string
	// QueryToken allows ?token= when no header is present.
	QueryToken bool
}

func DefaultOptions(tok tokens.Options) *Options {
	return &Options{
		Token:       tok,
		HeaderToken: "X-Auth-Token",
	}
}

// Middleware rejects requests without a valid bearer token with 401.
func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c, opts)
		if token == "" {
			abort(c, errs.ErrTokenMissing.WrapMsg("missing authorization"))
			return
		}

		claims, err := tokens.Verify(opts.Token, token)
		if err != nil {
			abort(c, err)
			return
		}

		c.Set(CtxTokenKey, token)
		c.Set(CtxUserIDKey, claims.UserID)
		c.Set(CtxUsernameKey, claims.Username)
		c.Next()
	}
}

// ExtractToken reads the configured header, then Authorization: Bearer,
// then the query string when allowed.
func ExtractToken(c *gin.Context, opts *Options) string {
	if opts.HeaderToken != "" {
		if tok := strings.TrimSpace(c.GetHeader(opts.HeaderToken)); tok != "" {
			return tok
		}
	}
	if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
		parts := strings.Fields(authz)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	if opts.QueryToken {
		return strings.TrimSpace(c.Query("token"))
	}
	return ""
}

func abort(c *gin.Context, err error) {
	body := gin.H{"error": "Invalid token"}
	if ce, ok := errs.As(err); ok {
		body["code"] = ce.Code
		if errors.Is(err, errs.ErrTokenMissing) {
			body["error"] = "Missing authorization"
		}
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, body)
}

// UserID returns the authenticated user id, or 0.
func UserID(c *gin.Context) int64 {
	return c.GetInt64(CtxUserIDKey)
}

func Username(c *gin.Context) string {
	return c.GetString(CtxUsernameKey)
}
