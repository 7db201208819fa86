package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/serenomind/sereno/internal/common"
	"github.com/serenomind/sereno/internal/config"
	"github.com/serenomind/sereno/internal/httpapi/handlers"
	"github.com/serenomind/sereno/internal/httpapi/middleware"
	"github.com/serenomind/sereno/internal/store/rabbitmq"
)

func NewRouter(db *gorm.DB, cfg config.Config, rdb *redis.Client, rabbit *rabbitmq.Publisher) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(db, cfg, rdb, rabbit)

	r.GET("/ping", h.Ping)

	r.POST("/users", h.Register)
	r.POST("/login", h.Login)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)

	// Patients
	authGroup.POST("/patients", h.CreatePatient)
	authGroup.GET("/patients", h.ListPatients)
	authGroup.GET("/patients/:patient_id", h.GetPatient)
	authGroup.PUT("/patients/:patient_id", h.UpdatePatient)
	authGroup.POST("/patients/:patient_id/sessions", h.CreateSession)
	authGroup.GET("/patients/:patient_id/context", h.PatientContext)

	// Analysis
	authGroup.POST("/patients/:patient_id/analyses", h.AnalyzeSession)
	authGroup.POST("/patients/:patient_id/analyses/async", h.AnalyzeSessionAsync)
	authGroup.GET("/patients/:patient_id/analyses", h.ListAnalyses)
	authGroup.POST("/patients/:patient_id/questions", h.GenerateQuestions)
	authGroup.POST("/patients/:patient_id/scenarios", h.GenerateScenarios)
	authGroup.DELETE("/patients/:patient_id/cache", h.InvalidateCache)

	// Jobs
	authGroup.GET("/jobs/:job_id", h.GetAnalysisJob)

	return r
}
