package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"author-merge/config"
	"author-merge/services"
)

func init() {
	// Unbekannte Felder im Request-Body ablehnen
	binding.EnableDecoderDisallowUnknownFields = true
}

// appServices bündelt die Services, die der Router benötigt.
type appServices struct {
	DB       *gorm.DB
	Merge    *services.MergeService
	Review   *services.ReviewService
	Explorer *services.RelatednessService
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func newRouter(cfg *config.Config, svc appServices, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSAllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "X-API-KEY"},
		AllowCredentials: true,
	}))
	if cfg.OTelEnabled {
		router.Use(otelgin.Middleware(cfg.OTelServiceName))
	}

	setupHealthRoutes(router, svc.DB, log)

	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	setupMatchRoutes(router, svc, log)
	setupMasterAuthorRoutes(router, svc.Review, log)
	return router
}

func setupHealthRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	router.GET("/healthz", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			log.Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

func setupMatchRoutes(router *gin.Engine, svc appServices, log *zap.Logger) {
	api := router.Group("/api")

	// Review-Queue, beste Kandidaten zuerst
	api.GET("/matches/pending", func(c *gin.Context) {
		limit, err := queryInt(c, "limit", services.DefaultPendingLimit)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		offset, err := queryInt(c, "offset", 0)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		rows, err := svc.Review.ListPending(c.Request.Context(), limit, offset)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	})

	api.GET("/match/:id_a/:id_b", func(c *gin.Context) {
		a, b, ok := pairParams(c)
		if !ok {
			return
		}
		details, err := svc.Review.MatchDetails(c.Request.Context(), a, b)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, details)
	})

	api.GET("/match/:id_a/:id_b/relatedness", func(c *gin.Context) {
		a, b, ok := pairParams(c)
		if !ok {
			return
		}
		result, err := svc.Explorer.Explain(c.Request.Context(), a, b)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	api.POST("/match/:id_a/:id_b/decide", func(c *gin.Context) {
		a, b, ok := pairParams(c)
		if !ok {
			return
		}
		var req struct {
			Decision   string  `json:"decision" binding:"required"`
			CustomName *string `json:"custom_name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		outcome, err := svc.Merge.Decide(c.Request.Context(), a, b, req.Decision, req.CustomName)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":          true,
			"status":           outcome.Status,
			"master_author_id": outcome.MasterAuthorID,
			"outcome":          outcome,
		})
	})
}

func setupMasterAuthorRoutes(router *gin.Engine, review *services.ReviewService, log *zap.Logger) {
	router.GET("/api/master-authors/:id", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil || id == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid master author id"})
			return
		}
		view, err := review.MasterAuthor(c.Request.Context(), uint(id))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})
}

func pairParams(c *gin.Context) (uint, uint, bool) {
	a, errA := strconv.ParseUint(c.Param("id_a"), 10, 64)
	b, errB := strconv.ParseUint(c.Param("id_b"), 10, 64)
	if errA != nil || errB != nil || a == 0 || b == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "author ids must be positive integers"})
		return 0, 0, false
	}
	return uint(a), uint(b), true
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// respondError bildet die Fehlerklassen der Services auf HTTP-Status ab.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
