// Package httpapi exposes pairing and session status over HTTP.
package httpapi

import (
	"context"
	"crypto/subtle"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bnema/multisession/internal/domain"
	"github.com/bnema/multisession/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	TokenHeader           = "X-Pairing-Token"
	defaultShutdownPeriod = 10 * time.Second
	readHeaderTimeout     = 10 * time.Second
)

//go:embed static/index.html
var indexPage []byte

var ginModeOnce sync.Once

type PairingService interface {
	RequestCode(ctx context.Context, raw string) (string, error)
}

type SessionLister interface {
	Statuses() []domain.SessionStatus
}

type Options struct {
	// Token guards the pairing routes. Empty disables the check.
	Token           string
	CORSOrigins     []string
	Version         string
	ShutdownTimeout time.Duration
	Logger          zerolog.Logger
}

type Server struct {
	pairing  PairingService
	sessions SessionLister
	opts     Options
	router   *gin.Engine
}

type pairRequest struct {
	Number string `json:"number"`
}

type SessionView struct {
	ID                   string     `json:"id"`
	State                string     `json:"state"`
	Registered           bool       `json:"registered"`
	Account              string     `json:"account,omitempty"`
	RetryCount           int        `json:"retry_count"`
	LastDisconnectReason string     `json:"last_disconnect_reason,omitempty"`
	ConnectedAt          *time.Time `json:"connected_at,omitempty"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func New(pairing PairingService, sessions SessionLister, opts Options) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownPeriod
	}

	observability.RegisterMetrics()
	ginModeOnce.Do(func() { gin.SetMode(gin.ReleaseMode) })

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(opts.Logger))
	r.Use(observability.RequestMetrics())
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: opts.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization", TokenHeader},
			MaxAge:       12 * time.Hour,
		}))
	}

	s := &Server{
		pairing:  pairing,
		sessions: sessions,
		opts:     opts,
		router:   r,
	}
	s.registerRoutes()

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexPage)
	})

	paired := s.router.Group("/", requireToken(s.opts.Token))
	paired.GET("/get-pair-code", func(c *gin.Context) {
		s.pair(c, c.Query("number"))
	})
	paired.POST("/pair", func(c *gin.Context) {
		var req pairRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		s.pair(c, req.Number)
	})

	s.router.GET("/sessions", func(c *gin.Context) {
		statuses := s.sessions.Statuses()
		views := make([]SessionView, 0, len(statuses))
		for _, status := range statuses {
			views = append(views, NewSessionView(status))
		}
		c.JSON(http.StatusOK, gin.H{"sessions": views})
	})

	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"sessions": len(s.sessions.Statuses()),
			"version":  s.opts.Version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) pair(c *gin.Context, number string) {
	code, err := s.pairing.RequestCode(c.Request.Context(), number)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": errorMessage(err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": code})
}

// Run serves on addr until ctx ends, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.opts.Logger.Info().Str("addr", ln.Addr().String()).Msg("http server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	return nil
}

func requireToken(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		presented := c.GetHeader(TokenHeader)
		if presented == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				presented = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			}
		}

		if subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidIdentifier):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAlreadyRegistered), errors.Is(err, domain.ErrPairingInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPairingFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrRegistryClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage keeps internal detail out of responses for unexpected
// failures.
func errorMessage(err error) string {
	switch statusFor(err) {
	case http.StatusInternalServerError:
		return "internal error"
	case http.StatusBadGateway:
		return domain.ErrPairingFailed.Error()
	default:
		return err.Error()
	}
}

// NewSessionView is the JSON shape of a session status, shared by the API
// and the CLI.
func NewSessionView(status domain.SessionStatus) SessionView {
	view := SessionView{
		ID:                   string(status.ID),
		State:                string(status.State),
		Registered:           status.Registered,
		Account:              status.Account,
		RetryCount:           status.RetryCount,
		LastDisconnectReason: string(status.LastDisconnectReason),
		UpdatedAt:            status.UpdatedAt,
	}
	if !status.ConnectedAt.IsZero() {
		connectedAt := status.ConnectedAt
		view.ConnectedAt = &connectedAt
	}
	return view
}
