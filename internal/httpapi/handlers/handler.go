package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/serenomind/sereno/internal/ai"
	"github.com/serenomind/sereno/internal/cache"
	"github.com/serenomind/sereno/internal/common"
	"github.com/serenomind/sereno/internal/config"
	"github.com/serenomind/sereno/internal/httpapi/middleware"
	"github.com/serenomind/sereno/internal/insight"
	"github.com/serenomind/sereno/internal/store/rabbitmq"
)

type Handler struct {
	DB     *gorm.DB
	Cfg    config.Config
	Svc    *insight.Service
	Rabbit *rabbitmq.Publisher
}

func NewHandler(db *gorm.DB, cfg config.Config, rdb *redis.Client, rabbit *rabbitmq.Publisher) *Handler {
	repo := insight.NewRepo(db)

	reg := ai.NewRegistry()
	reg.Register("gemini", func(ctx context.Context) (ai.Provider, error) {
		_ = ctx
		return ai.NewGeminiProvider(cfg.GeminiBaseURL, cfg.GeminiAPIKey, cfg.GeminiTimeout), nil
	})
	provider, err := reg.Get(context.Background(), cfg.AIProvider)
	if err != nil {
		panic(fmt.Sprintf("unsupported AI_PROVIDER=%q", cfg.AIProvider))
	}
	orch := ai.NewOrchestrator(provider, cfg.GeminiModel, cfg.GeminiFallbackModel)

	var store cache.Store
	if rdb != nil {
		store = cache.NewRedis(rdb, cfg.CacheTTL)
	} else {
		store = cache.NewMemory(cfg.CacheTTL)
	}

	svc := insight.NewService(repo, orch, store, cfg.DebugAI)
	return &Handler{DB: db, Cfg: cfg, Svc: svc, Rabbit: rabbit}
}

func (h *Handler) Ping(c *gin.Context) {
	common.Ok(c, gin.H{"pong": true})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

func unauthorized(c *gin.Context) {
	common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
}
