// Package mockjudge is a development backend that judges submissions from source markers
// and reports results over HTTP and a websocket push channel.
package mockjudge

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"practiceoj/internal/client/push"
	"practiceoj/internal/common/http/middleware"
	appErr "practiceoj/pkg/errors"
	"practiceoj/pkg/utils/contextkey"
	"practiceoj/pkg/utils/logger"
	"practiceoj/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config controls the development backend.
type Config struct {
	JWTSecret string        `yaml:"jwtSecret"`
	JWTIssuer string        `yaml:"jwtIssuer"`
	TokenTTL  time.Duration `yaml:"tokenTTL"`
	// QueueDelay is the time between the submit response and the first progress event.
	QueueDelay time.Duration `yaml:"queueDelay"`
	// JudgeDelay is the time between the progress event and the result event.
	JudgeDelay time.Duration `yaml:"judgeDelay"`
	// OmitClientID strips the client's identity from results so clients must correlate
	// by submission id or by problem and user.
	OmitClientID bool `yaml:"omitClientId"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.JWTSecret == "" {
		c.JWTSecret = "practiceoj-dev-secret"
	}
	if c.JWTIssuer == "" {
		c.JWTIssuer = "practiceoj-mockjudge"
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 24 * time.Hour
	}
	if c.QueueDelay < 0 {
		c.QueueDelay = 0
	}
	if c.JudgeDelay < 0 {
		c.JudgeDelay = 0
	}
}

type sessionRequest struct {
	UserID string `json:"userId" binding:"required"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type runRequest struct {
	Code     string `json:"code" binding:"required"`
	Language string `json:"language" binding:"required"`
	Stdin    string `json:"stdin"`
}

type submitRequest struct {
	ProblemID string `json:"problemId" binding:"required"`
	Code      string `json:"code" binding:"required"`
	Language  string `json:"language" binding:"required"`
	ClientID  string `json:"clientId"`
}

type reviewRequest struct {
	ProblemID    string `json:"problemId" binding:"required"`
	Code         string `json:"code"`
	Language     string `json:"language"`
	SubmissionID string `json:"submissionId"`
}

// Server is the development backend.
type Server struct {
	cfg    Config
	tokens *TokenIssuer
	hub    *Hub
	engine *gin.Engine

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	solved map[string]map[string]struct{}
}

func NewServer(cfg Config) *Server {
	cfg.ApplyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		tokens: NewTokenIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL),
		hub:    NewHub(),
		ctx:    ctx,
		cancel: cancel,
		solved: make(map[string]map[string]struct{}),
	}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Tokens exposes the issuer for tests and tooling.
func (s *Server) Tokens() *TokenIssuer {
	return s.tokens
}

// Hub exposes the push hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Close stops pending judge work and drops push connections.
func (s *Server) Close() {
	s.cancel()
	s.hub.CloseAll()
	s.wg.Wait()
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.TraceContextMiddleware(), middleware.AccessLogMiddleware())

	v1 := r.Group("/api/v1")
	v1.POST("/session", s.handleSession)

	authed := v1.Group("", authMiddleware(s.tokens))
	authed.POST("/run", s.handleRun)
	authed.POST("/submissions", s.handleSubmit)
	authed.POST("/reviews", s.handleReview)
	authed.GET("/problems/:id/status", s.handleProblemStatus)
	authed.GET("/ws", func(c *gin.Context) { s.hub.Serve(c, currentUser(c)) })
	return r
}

func (s *Server) handleSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "userId is required")
		return
	}
	token, expiresAt, err := s.tokens.Issue(strings.TrimSpace(req.UserID))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, sessionResponse{Token: token, ExpiresAt: expiresAt})
}

func (s *Server) handleRun(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "code and language are required")
		return
	}
	if !languageSupported(req.Language) {
		response.ErrorWithCode(c, appErr.LanguageNotSupported, "language "+req.Language+" is not supported")
		return
	}
	response.Success(c, judgeRun(req.Language, req.Code, req.Stdin))
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "problemId, code and language are required")
		return
	}
	if !languageSupported(req.Language) {
		response.ErrorWithCode(c, appErr.LanguageNotSupported, "language "+req.Language+" is not supported")
		return
	}

	userID := currentUser(c)
	sc := parseScript(req.Code)
	base := submitPayload{
		SubmissionID: uuid.NewString(),
		ProblemID:    req.ProblemID,
		UserID:       userID,
		Language:     req.Language,
	}
	if !s.cfg.OmitClientID {
		base.ClientID = req.ClientID
	}

	if sc.sync {
		result := s.finish(base, sc)
		response.Success(c, result)
		return
	}

	accepted := base
	accepted.Verdict = "Processing"
	accepted.Timestamp = time.Now().UnixMilli()
	response.Success(c, accepted)

	s.wg.Add(1)
	go s.judgeAsync(base, sc)
}

// judgeAsync publishes a progress event and then the final result.
func (s *Server) judgeAsync(base submitPayload, sc script) {
	defer s.wg.Done()
	ctx := context.WithValue(s.ctx, contextkey.UserID, base.UserID)

	if !s.sleep(s.cfg.QueueDelay) {
		return
	}
	progress := base
	progress.Status = "running"
	progress.TestsTotal = sc.tests
	progress.Timestamp = time.Now().UnixMilli()
	s.hub.Publish(base.UserID, push.EventUpdate, progress)

	if !s.sleep(s.cfg.JudgeDelay) {
		return
	}
	result := s.finish(base, sc)
	n := s.hub.Publish(base.UserID, push.EventResult, result)
	logger.Info(ctx, "submission judged",
		zap.String("submission_id", base.SubmissionID),
		zap.String("verdict", result.Verdict),
		zap.Int("receivers", n),
	)
}

func (s *Server) finish(base submitPayload, sc script) submitPayload {
	result := judgeSubmission(base.Language, sc)
	result.ClientID = base.ClientID
	result.SubmissionID = base.SubmissionID
	result.ProblemID = base.ProblemID
	result.UserID = base.UserID
	result.Language = base.Language
	result.Timestamp = time.Now().UnixMilli()
	if result.Verdict == "AC" {
		s.markSolved(base.UserID, base.ProblemID)
	}
	return result
}

func (s *Server) sleep(d time.Duration) bool {
	if d <= 0 {
		return s.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Server) handleReview(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "problemId is required")
		return
	}
	if parseScript(req.Code).failReview {
		response.ErrorWithCode(c, appErr.ServiceUnavailable, "review model unavailable")
		return
	}
	response.Success(c, gin.H{"reviewId": uuid.NewString()})
}

func (s *Server) handleProblemStatus(c *gin.Context) {
	problemID := c.Param("id")
	s.mu.Lock()
	_, solved := s.solved[currentUser(c)][problemID]
	s.mu.Unlock()
	response.Success(c, gin.H{"problemId": problemID, "solved": solved})
}

func (s *Server) markSolved(userID, problemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.solved[userID] == nil {
		s.solved[userID] = make(map[string]struct{})
	}
	s.solved[userID][problemID] = struct{}{}
}
