package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"translation_assurance/internal/attest"
	"translation_assurance/internal/ledger"
	"translation_assurance/internal/policy"
	"translation_assurance/internal/ratelimit"
	"translation_assurance/internal/translate"
)

const (
	maxBodyBytes = 1 << 20

	headerRequestID = "X-Request-ID"
	headerSignature = "X-Attest-Signature"
)

// Deps are the collaborators the HTTP layer is wired with. Only Engine is
// required; a nil Ledger skips recording, a nil Policy admits every language
// pair and a nil Translator disables /translate.
type Deps struct {
	Engine     *attest.Engine
	Ledger     *ledger.Ledger
	Policy     *policy.Engine
	Translator translate.Translator
	Limiter    ratelimit.Limiter
	Logger     *zap.Logger

	ClientSecret      string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	// TrustedProxies may set the client address through X-Forwarded-For.
	// With none, the client address is the connection's remote address.
	TrustedProxies []string
}

type Server struct {
	engine     *attest.Engine
	ledger     *ledger.Ledger
	policy     *policy.Engine
	translator translate.Translator
	limiter    ratelimit.Limiter
	log        *zap.Logger

	clientSecret      string
	rateLimitRequests int
	rateLimitWindow   time.Duration

	r *gin.Engine
}

func New(deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, errors.New("server: attestation engine is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.RateLimitWindow <= 0 {
		deps.RateLimitWindow = time.Minute
	}

	r := gin.New()
	if err := r.SetTrustedProxies(deps.TrustedProxies); err != nil {
		return nil, errors.Wrap(err, "server: trusted proxies")
	}
	s := &Server{
		engine:            deps.Engine,
		ledger:            deps.Ledger,
		policy:            deps.Policy,
		translator:        deps.Translator,
		limiter:           deps.Limiter,
		log:               deps.Logger,
		clientSecret:      deps.ClientSecret,
		rateLimitRequests: deps.RateLimitRequests,
		rateLimitWindow:   deps.RateLimitWindow,
		r:                 r,
	}
	r.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.r
}

func (s *Server) routes() {
	s.r.GET("/health", s.health)
	s.r.POST("/translate", s.rateLimited(routeTranslate), s.translate)
	s.r.POST("/attest", s.rateLimited(routeAttest), s.attest)
	s.r.POST("/verify", s.rateLimited(routeVerify), s.verify)

	if s.ledger == nil {
		return
	}
	g := s.r.Group("/ledger")
	g.GET("/root/latest", s.latestRoot)
	g.GET("/verify", s.verifyLedger)
	g.GET("/certificates", s.listCertificates)
	g.GET("/certificates/:id", s.getCertificate)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(headerRequestID, requestID)
		c.Set("request_id", requestID)

		c.Next()

		s.log.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Code: code, Error: message})
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, attest.ErrInvalidInput):
		status, code = http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, policy.ErrDenied):
		status, code = http.StatusForbidden, "POLICY_DENIED"
	case errors.Is(err, translate.ErrUnavailable):
		status, code = http.StatusBadGateway, "TRANSLATOR_UNAVAILABLE"
	case errors.Is(err, ledger.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	}
	writeErrorCode(c, status, code, err.Error())
}
