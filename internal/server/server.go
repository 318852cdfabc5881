package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"quizquest/internal/domain/creation"
	"quizquest/internal/domain/library"
	"quizquest/internal/domain/library/generator"
	"quizquest/internal/speech/tts"
	"quizquest/internal/store"
)

const userKey = "user"

type Server struct {
	store     *store.Store
	generator generator.Generator
	engine    tts.Engine
	library   []library.Collection
	tokens    map[string]string
	captions  *Hub
}

type Options struct {
	Store     *store.Store
	Generator generator.Generator
	Engine    tts.Engine
	Library   []library.Collection
	// Tokens maps bearer tokens to user ids.
	Tokens   map[string]string
	Captions *Hub
}

func New(opts Options) *Server {
	s := &Server{
		store:     opts.Store,
		generator: opts.Generator,
		engine:    opts.Engine,
		library:   opts.Library,
		tokens:    opts.Tokens,
		captions:  opts.Captions,
	}
	if s.captions == nil {
		s.captions = NewHub()
	}
	return s
}

func (s *Server) Captions() *Hub {
	return s.captions
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/plain", []byte("OK"))
	})

	api := r.Group("/api")
	api.GET("/voices", s.listVoices)
	api.POST("/generate", s.generate)
	api.GET("/creations", s.listCreations)
	api.GET("/creations/:id", s.getCreation)
	api.GET("/creations/:id/position", s.identify(false), s.getPosition)
	api.PUT("/creations/:id/position", s.identify(true), s.putPosition)

	r.GET("/ws/captions", func(c *gin.Context) {
		if err := s.captions.serve(c.Writer, c.Request); err != nil {
			logrus.WithError(err).Warn("Caption upgrade failed")
		}
	})

	return r
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}

	errc := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http listen and serve: %w", err)
		}
		close(errc)
	}()
	logrus.WithField("addr", addr).Info("Server listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.captions.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logrus.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("Handled request")
	}
}

// identify resolves the bearer token to a user id. The user is never taken
// from the request body.
func (s *Server) identify(required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		user := ""
		if ok {
			user = s.tokens[strings.TrimSpace(token)]
		}
		if user == "" && required {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

func (s *Server) listVoices(c *gin.Context) {
	if s.engine == nil {
		c.JSON(http.StatusOK, gin.H{"voices": []tts.Voice{}})
		return
	}
	voices, err := s.engine.GetAvailableVoices()
	if err != nil {
		logrus.WithError(err).Warn("Failed to list voices")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "voices unavailable"})
		return
	}

	resp := gin.H{"voices": voices}
	if v, ok := tts.SelectVoice(voices, c.DefaultQuery("lang", tts.DefaultLanguage), c.Query("gender")); ok {
		resp["default"] = v
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) generate(c *gin.Context) {
	var req generator.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := s.generator.Generate(c.Request.Context(), req)
	if err != nil {
		logrus.WithError(err).Warn("Content generation failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": generator.ErrGenerationFailed.Error()})
		return
	}

	if s.store != nil {
		if err := s.store.SaveCreation(c.Request.Context(), created); err != nil {
			logrus.WithError(err).Error("Failed to save generated creation")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save creation"})
			return
		}
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) listCreations(c *gin.Context) {
	all := library.All(s.library)
	if s.store != nil {
		stored, err := s.store.ListCreations(c.Request.Context())
		if err != nil {
			logrus.WithError(err).Error("Failed to list creations")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list creations"})
			return
		}
		all = append(stored, all...)
	}
	all = library.Filter(all, creation.Type(c.Query("type")), c.Query("tag"))
	if all == nil {
		all = []creation.Creation{}
	}
	c.JSON(http.StatusOK, gin.H{"creations": all})
}

func (s *Server) getCreation(c *gin.Context) {
	found, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, found)
}

type positionBody struct {
	Offset int `json:"offset"`
}

func (s *Server) getPosition(c *gin.Context) {
	found, ok := s.lookup(c)
	if !ok {
		return
	}

	user := c.GetString(userKey)
	if user == "" || s.store == nil {
		c.JSON(http.StatusOK, gin.H{"offset": 0, "found": false})
		return
	}

	offset, saved, err := s.store.GetPosition(c.Request.Context(), user, found.ID, store.ContentHash(found.ReadingText()))
	if err != nil {
		logrus.WithError(err).Error("Failed to load reading position")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load position"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"offset": offset, "found": saved})
}

func (s *Server) putPosition(c *gin.Context) {
	found, ok := s.lookup(c)
	if !ok {
		return
	}

	var body positionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	text := found.ReadingText()
	if body.Offset < 0 || body.Offset > len(text) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset out of range"})
		return
	}
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no store configured"})
		return
	}

	user := c.GetString(userKey)
	if err := s.store.SavePosition(c.Request.Context(), user, found.ID, store.ContentHash(text), body.Offset); err != nil {
		logrus.WithError(err).Error("Failed to save reading position")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save position"})
		return
	}
	c.Status(http.StatusNoContent)
}

// lookup finds the :id creation in the store, then the built-in library. It
// writes the error response itself.
func (s *Server) lookup(c *gin.Context) (*creation.Creation, bool) {
	id := c.Param("id")
	if s.store != nil {
		found, err := s.store.GetCreation(c.Request.Context(), id)
		if err == nil {
			return found, true
		}
		if !errors.Is(err, store.ErrNotFound) {
			logrus.WithError(err).Error("Failed to load creation")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load creation"})
			return nil, false
		}
	}
	if found, ok := library.Find(s.library, id); ok {
		return found, true
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "creation not found"})
	return nil, false
}
