// Package server exposes the SpeakNode core over HTTP.
//
// The handlers are thin: they translate requests into session-scoped
// operations and map core errors onto status codes. All graph access
// goes through the session manager's per-scope locking.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/speaknode/speaknode/pkg/config"
	"github.com/speaknode/speaknode/pkg/graph"
	"github.com/speaknode/speaknode/pkg/retrieval"
	"github.com/speaknode/speaknode/pkg/session"
)

// Server wires the HTTP surface to the core.
type Server struct {
	cfg      *config.Config
	sessions *session.Manager
	log      *zap.Logger

	embedder   retrieval.Embedder
	translator retrieval.QueryTranslator

	mu      sync.Mutex
	engines map[string]*retrieval.Engine
}

// Options carries the collaborators the server hands to retrieval.
type Options struct {
	Embedder   retrieval.Embedder
	Translator retrieval.QueryTranslator
	Logger     *zap.Logger
}

// New builds a server over an opened session manager.
func New(cfg *config.Config, sessions *session.Manager, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{
		cfg:        cfg,
		sessions:   sessions,
		log:        opts.Logger,
		embedder:   opts.Embedder,
		translator: opts.Translator,
		engines:    make(map[string]*retrieval.Engine),
	}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLog(), s.cors(), s.bodyLimit())

	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	{
		api.POST("/chats", s.handleCreateChat)
		api.GET("/chats", s.handleListChats)
		api.DELETE("/chats/:id", s.handleDeleteChat)

		api.POST("/chats/:id/ingest", s.handleIngest)
		api.POST("/chats/:id/query", s.handleQuery)
		api.GET("/chats/:id/meetings", s.handleListMeetings)
		api.GET("/chats/:id/meetings/:meeting", s.handleMeetingSummary)
		api.POST("/chats/:id/nodes/update", s.handleUpdateNode)

		api.GET("/chats/:id/export", s.handleExport)
		api.POST("/chats/:id/import", s.handleImport)

		api.GET("/chats/:id/snapshot", s.handleSnapshotEncode)
		api.POST("/chats/:id/snapshot", s.handleSnapshotImport)
		api.POST("/snapshot/decode", s.handleSnapshotDecode)
	}
	return router
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: s.Router(),
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", s.cfg.Addr()))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
		)
	}
}

func (s *Server) cors() gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(s.cfg.HTTP.CORSOrigins))
	any := false
	for _, origin := range s.cfg.HTTP.CORSOrigins {
		if origin == "*" {
			any = true
		}
		allowed[origin] = struct{}{}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if any {
				c.Header("Access-Control-Allow-Origin", "*")
			} else if _, ok := allowed[origin]; ok {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) bodyLimit() gin.HandlerFunc {
	limit := s.cfg.HTTP.MaxBodyBytes
	return func(c *gin.Context) {
		if c.Request.Body != nil && limit > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

// engineFor returns the cached retrieval engine for a scope, building it
// on first use. The engine holds the scope's store, which stays open for
// the scope's lifetime; the entry is dropped when the scope is deleted.
func (s *Server) engineFor(id string, store *graph.Store) (*retrieval.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if engine, ok := s.engines[id]; ok {
		return engine, nil
	}
	engine, err := retrieval.NewEngine(store, retrieval.Options{
		Embedder:   s.embedder,
		Translator: s.translator,
		TopK:       s.cfg.SearchTopK,
		Logger:     s.log,
	})
	if err != nil {
		return nil, err
	}
	s.engines[id] = engine
	return engine, nil
}

func (s *Server) dropEngine(id string) {
	s.mu.Lock()
	delete(s.engines, id)
	s.mu.Unlock()
}

// fail maps core errors onto HTTP statuses with a stable error shape.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrScopeNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrScopeExists),
		errors.Is(err, graph.ErrAmbiguousTarget):
		status = http.StatusConflict
	case errors.Is(err, session.ErrBadScopeID),
		errors.Is(err, graph.ErrEmbeddingDim),
		errors.Is(err, graph.ErrFieldNotAllowed),
		errors.Is(err, graph.ErrInvalidStatus),
		errors.Is(err, graph.ErrUnknownKind),
		errors.Is(err, graph.ErrDumpVersion):
		status = http.StatusBadRequest
	case errors.Is(err, graph.ErrDumpTooLarge),
		errors.Is(err, graph.ErrDumpTooManyElements):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, retrieval.ErrForbiddenQuery):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
