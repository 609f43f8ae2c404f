// Package server exposes the chat and document endpoints over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"document-qa/internal/config"
	"document-qa/internal/ingest"
	"document-qa/internal/models"
	"document-qa/internal/rag"
)

// Asker runs one conversation turn
type Asker interface {
	Ask(ctx context.Context, req rag.Request) (rag.TurnResult, error)
}

// Documents manages uploaded documents
type Documents interface {
	Upload(ctx context.Context, up ingest.Upload) (models.DocumentInfo, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context) ([]models.DocumentInfo, error)
	Validate(filename string, size int64) error
}

// Status is the dependency state reported by /health
type Status struct {
	VectorStore          bool
	Embeddings           string
	GenerationConfigured bool
}

type StatusFunc func(ctx context.Context) Status

type Server struct {
	echo   *echo.Echo
	cfg    config.ServerConfig
	asker  Asker
	docs   Documents
	status StatusFunc
}

func New(cfg config.ServerConfig, asker Asker, docs Documents, status StatusFunc) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil {
				ev = log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization},
		AllowCredentials: true,
	}))

	s := &Server{echo: e, cfg: cfg, asker: asker, docs: docs, status: status}
	e.GET("/", s.root)
	e.GET("/health", s.health)
	e.POST("/chat", s.chat)
	e.GET("/list-docs", s.listDocs)
	e.POST("/upload-doc", s.uploadDoc)
	e.POST("/delete-doc", s.deleteDoc)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return s
}

func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until Shutdown is called
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	log.Info().Str("addr", addr).Msg("HTTP server listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type chatRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
}

type chatResponse struct {
	Answer    string `json:"answer"`
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
}

type deleteRequest struct {
	FileID int64 `json:"file_id"`
}

func (s *Server) root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"message": "Document QA API is running"})
}

func (s *Server) health(c echo.Context) error {
	st := s.status(c.Request().Context())
	resp := map[string]any{
		"status":                "healthy",
		"vector_store":          "connected",
		"embeddings":            st.Embeddings,
		"generation_configured": st.GenerationConfigured,
		"timestamp":             time.Now().UTC().Format(time.RFC3339),
	}
	if !st.VectorStore {
		resp["status"] = "unhealthy"
		resp["vector_store"] = "unavailable"
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	res, err := s.asker.Ask(c.Request().Context(), rag.Request{
		Question:  req.Question,
		SessionID: req.SessionID,
		Model:     req.Model,
	})
	if errors.Is(err, models.ErrPersistenceFailure) {
		log.Error().Err(err).Str("session_id", res.SessionID).Msg("Failed to store conversation turn")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"detail":     "failed to store the conversation turn",
			"answer":     res.Answer,
			"session_id": res.SessionID,
			"model":      res.Model,
		})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, chatResponse{Answer: res.Answer, SessionID: res.SessionID, Model: res.Model})
}

func (s *Server) listDocs(c echo.Context) error {
	docs, err := s.docs.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, docs)
}

func (s *Server) uploadDoc(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "No file provided")
	}
	if err := s.docs.Validate(fh.Filename, fh.Size); err != nil {
		return err
	}
	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	info, err := s.docs.Upload(c.Request().Context(), ingest.Upload{
		Filename:    fh.Filename,
		Size:        fh.Size,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Body:        f,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"message":   fmt.Sprintf("File %s has been successfully uploaded and indexed.", info.Filename),
		"file_id":   info.ID,
		"filename":  info.Filename,
		"file_size": info.FileSize,
	})
}

func (s *Server) deleteDoc(c echo.Context) error {
	var req deleteRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.FileID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "file_id must be a positive integer")
	}
	if err := s.docs.Delete(c.Request().Context(), req.FileID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Successfully deleted document with file_id %d from the system.", req.FileID),
	})
}

// errorHandler writes every error as {"detail": msg}
func errorHandler(err error, c echo.Context) {
	// the request logger has already handled it
	if c.Response().Committed {
		return
	}
	code, msg := statusFor(err)
	req := c.Request()
	ev := log.Warn()
	if code >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).Int("status", code).Str("method", req.Method).Str("path", req.URL.Path).Msg("request failed")
	if req.Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, map[string]string{"detail": msg})
}

func statusFor(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, fmt.Sprint(he.Message)
	}
	switch {
	case errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrUnsupportedFormat),
		errors.Is(err, models.ErrNoContent):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}
