package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/alem-hub/civiclearn/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION
// ══════════════════════════════════════════════════════════════════════════════

const (
	headerAPIKey    = "X-API-Key"
	headerRequestID = "X-Request-Id"

	ctxPrincipal = "principal"
	ctxRequestID = "request_id"
)

// Roles carried by a principal.
const (
	RoleService = "service" // API key holders: ingestion and admin
	RoleAdmin   = "admin"
	RoleIngest  = "ingest"
)

// Principal is the authenticated caller.
type Principal struct {
	Subject string
	Role    string
	Method  string // "api_key" or "jwt"
}

// Claims are the HS256 bearer token claims.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var (
	errMissingCredentials = errors.New("missing or invalid credentials")
	errForbidden          = errors.New("insufficient role")
)

// Authenticator accepts bcrypt-hashed API keys and HS256 JWTs.
type Authenticator struct {
	keyHashes [][]byte
	jwtSecret []byte
	issuer    string
	disabled  bool
	log       *logger.Logger

	// Keys that already matched a hash, by sha256 digest. bcrypt is too slow
	// to run on every request.
	verified sync.Map
}

// NewAuthenticator creates an authenticator. With disabled set every
// request is admitted as an admin principal.
func NewAuthenticator(keyHashes []string, jwtSecret, issuer string, disabled bool, log *logger.Logger) *Authenticator {
	a := &Authenticator{
		jwtSecret: []byte(jwtSecret),
		issuer:    issuer,
		disabled:  disabled,
		log:       log.With(logger.Component("auth")),
	}
	for _, h := range keyHashes {
		if h = strings.TrimSpace(h); h != "" {
			a.keyHashes = append(a.keyHashes, []byte(h))
		}
	}
	return a
}

// HashAPIKey returns the bcrypt hash to configure for key.
func HashAPIKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// IssueToken signs a token for subject with role, valid for ttl.
func (a *Authenticator) IssueToken(subject, role string, ttl time.Duration) (string, error) {
	if len(a.jwtSecret) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
}

// Authenticate resolves the caller from X-API-Key or an Authorization bearer.
func (a *Authenticator) Authenticate(r *http.Request) (*Principal, error) {
	if a.disabled {
		return &Principal{Subject: "anonymous", Role: RoleAdmin, Method: "disabled"}, nil
	}

	if key := strings.TrimSpace(r.Header.Get(headerAPIKey)); key != "" {
		return a.checkAPIKey(key)
	}

	authHeader := r.Header.Get("Authorization")
	if len(authHeader) <= 7 || !strings.EqualFold(authHeader[:7], "Bearer ") {
		return nil, errMissingCredentials
	}
	token := strings.TrimSpace(authHeader[7:])

	// A bearer that looks like a JWT is verified as one; anything else is
	// tried as an API key.
	if strings.Count(token, ".") == 2 && len(a.jwtSecret) > 0 {
		return a.checkJWT(token)
	}
	return a.checkAPIKey(token)
}

func (a *Authenticator) checkAPIKey(key string) (*Principal, error) {
	sum := sha256.Sum256([]byte(key))
	digest := hex.EncodeToString(sum[:])
	if _, ok := a.verified.Load(digest); ok {
		return &Principal{Subject: "key:" + digest[:8], Role: RoleService, Method: "api_key"}, nil
	}
	for _, h := range a.keyHashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			a.verified.Store(digest, struct{}{})
			return &Principal{Subject: "key:" + digest[:8], Role: RoleService, Method: "api_key"}, nil
		}
	}
	return nil, errMissingCredentials
}

func (a *Authenticator) checkJWT(raw string) (*Principal, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.jwtSecret, nil
	}, opts...)
	if err != nil {
		a.log.Debug("jwt rejected", logger.Err(err))
		return nil, errMissingCredentials
	}
	role := claims.Role
	if role == "" {
		role = RoleIngest
	}
	return &Principal{Subject: claims.Subject, Role: role, Method: "jwt"}, nil
}

// RequireAuth rejects unauthenticated requests with 401.
func (a *Authenticator) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := a.Authenticate(c.Request)
		if err != nil {
			RespondError(c, http.StatusUnauthorized, CodeUnauthorized, err)
			return
		}
		c.Set(ctxPrincipal, p)
		c.Next()
	}
}

// RequireRole admits principals holding one of roles. Must run after RequireAuth.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := PrincipalFrom(c)
		if p != nil {
			for _, r := range roles {
				if p.Role == r {
					c.Next()
					return
				}
			}
		}
		RespondError(c, http.StatusForbidden, CodeForbidden, errForbidden)
	}
}

// PrincipalFrom returns the authenticated caller, or nil.
func PrincipalFrom(c *gin.Context) *Principal {
	v, ok := c.Get(ctxPrincipal)
	if !ok {
		return nil
	}
	p, _ := v.(*Principal)
	return p
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST CONTEXT & LOGGING
// ══════════════════════════════════════════════════════════════════════════════

// RequestID propagates X-Request-Id or generates one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := strings.TrimSpace(c.GetHeader(headerRequestID))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(ctxRequestID, reqID)
		c.Writer.Header().Set(headerRequestID, reqID)
		c.Next()
	}
}

// RequestIDFrom returns the request id set by RequestID.
func RequestIDFrom(c *gin.Context) string {
	return c.GetString(ctxRequestID)
}

// RequestLogger logs one line per request at a level chosen by status.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	log = log.With(logger.Component("http"))
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", path),
			logger.Int("status", status),
			logger.Duration("duration", time.Since(start)),
			logger.String("request_id", RequestIDFrom(c)),
		}
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			fields = append(fields, logger.String("trace_id", sc.TraceID().String()))
		}
		if p := PrincipalFrom(c); p != nil {
			fields = append(fields, logger.String("principal", p.Subject))
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}

// Recovery turns a panic into a 500 envelope.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Error("panic in handler",
			logger.String("path", c.Request.URL.Path),
			logger.Any("panic", recovered),
		)
		RespondError(c, http.StatusInternalServerError, CodeInternal, errors.New("internal error"))
	})
}
