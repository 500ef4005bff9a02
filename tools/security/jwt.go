package security

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"PBoard/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Options controls signing and TTL.
type Options struct {
	Secret []byte        // HMAC secret
	Alg    string        // HS256/HS384/HS512, default HS256
	TTL    time.Duration // default 7 days
}

const defaultTTL = 7 * 24 * time.Hour

// Claims is what a verified token proves.
type Claims struct {
	UserID    int64
	Username  string
	ExpiresAt time.Time
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: defaultTTL}
}

// Generate signs a token for userID. The subject is the decimal user id.
func Generate(opts Options, userID int64, username string) (token string, expireAt time.Time, err error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := jwtlib.MapClaims{
		"sub":      strconv.FormatInt(userID, 10),
		"username": username,
		"iat":      now.Unix(),
		"nbf":      now.Unix(),
		"exp":      exp.Unix(),
	}

	tok := jwtlib.NewWithClaims(method, claims)
	signed, err := tok.SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks signature and expiry. Failures are one of
// errs.ErrTokenMalformed, errs.ErrTokenExpired, errs.ErrTokenSignatureInvalid.
func Verify(opts Options, token string) (*Claims, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return nil, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errs.ErrTokenMalformed.WrapMsg("empty token")
	}

	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return opts.Secret, nil
	},
		jwtlib.WithValidMethods([]string{method.Alg()}),
		jwtlib.WithExpirationRequired(),
	)
	if err != nil {
		return nil, classify(err)
	}
	if !parsed.Valid {
		return nil, errs.ErrTokenSignatureInvalid.WrapMsg("invalid token")
	}

	mc, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errs.ErrTokenMalformed.WrapMsg("claims type mismatch")
	}
	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		return nil, errs.ErrTokenMalformed.WrapMsg("missing subject")
	}
	uid, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || uid <= 0 {
		return nil, errs.ErrTokenMalformed.WrapMsg("subject is not a user id", "sub", sub)
	}

	out := &Claims{UserID: uid}
	if name, ok := mc["username"].(string); ok {
		out.Username = name
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwtlib.ErrTokenExpired):
		return errs.ErrTokenExpired.WrapMsg(err.Error())
	case errors.Is(err, jwtlib.ErrTokenSignatureInvalid),
		errors.Is(err, jwtlib.ErrTokenUnverifiable):
		return errs.ErrTokenSignatureInvalid.WrapMsg(err.Error())
	default:
		// malformed, not-yet-valid and missing required claims
		return errs.ErrTokenMalformed.WrapMsg(err.Error())
	}
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}

// Verifier adapts Options to the token verifier the broadcast hub expects.
type Verifier struct {
	Opts Options
}

func NewVerifier(opts Options) *Verifier { return &Verifier{Opts: opts} }

func (v *Verifier) VerifyToken(token string) (int64, error) {
	c, err := Verify(v.Opts, token)
	if err != nil {
		return 0, err
	}
	return c.UserID, nil
}
