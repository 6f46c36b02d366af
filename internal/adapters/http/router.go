package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/app/session"
	"github.com/dkeye/Mesh/internal/config"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/media"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Session is what the control API drives. *session.Manager satisfies it.
type Session interface {
	Status() session.Status
	Registry() *app.TrackRegistry
	SetMuted(muted bool)
	SetVideoEnabled(enabled bool)
	StartScreenShare(ctx context.Context) error
	StopScreenShare(ctx context.Context) error
	Leave()
}

type StatsSource interface {
	Stats() []media.TrackStats
}

type muteRequest struct {
	Muted *bool `json:"muted"`
}

type videoRequest struct {
	Enabled *bool `json:"enabled"`
}

func SetupRouter(cfg *config.Config, sess Session, stats StatsSource) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	log.Info().Str("module", "adapters.http").Str("addr", cfg.ControlAddr).Msg("router setup")

	api := r.Group("/api")

	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, sess.Status())
	})
	api.GET("/tracks", func(c *gin.Context) {
		c.JSON(http.StatusOK, sess.Registry().Snapshot())
	})
	api.GET("/stats", func(c *gin.Context) {
		if stats == nil {
			c.JSON(http.StatusOK, []media.TrackStats{})
			return
		}
		c.JSON(http.StatusOK, stats.Stats())
	})

	api.POST("/mute", func(c *gin.Context) {
		var req muteRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Muted == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"muted\": bool}"})
			return
		}
		sess.SetMuted(*req.Muted)
		c.JSON(http.StatusOK, gin.H{"muted": *req.Muted})
	})
	api.POST("/video", func(c *gin.Context) {
		var req videoRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"enabled\": bool}"})
			return
		}
		sess.SetVideoEnabled(*req.Enabled)
		c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
	})

	api.POST("/share/start", func(c *gin.Context) {
		if err := sess.StartScreenShare(c.Request.Context()); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sharing": true})
	})
	api.POST("/share/stop", func(c *gin.Context) {
		if err := sess.StopScreenShare(c.Request.Context()); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sharing": false})
	})

	api.POST("/leave", func(c *gin.Context) {
		sess.Leave()
		c.JSON(http.StatusOK, gin.H{"phase": sess.Status().Phase})
	})

	return r
}

func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotSharing), errors.Is(err, domain.ErrSessionClosed):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrReacquireFailed), errors.Is(err, domain.ErrMediaAcquisition):
		status = http.StatusServiceUnavailable
	}
	log.Warn().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Int("status", status).Msg("request failed")
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
