package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuongbtq/content-publisher/internal/api/handler"
	"github.com/cuongbtq/content-publisher/internal/config"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, rateLimit config.RateLimitConfig) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	h := handler.NewHandler(deps)

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	jobs := r.Group("/jobs")
	{
		jobs.GET("", h.ListJobClasses)
		jobs.POST("/:job_class", RateLimitMiddleware(rateLimit.RequestsPerSecond, rateLimit.Burst), h.SubmitJob)

		idem := jobs.Group("/:job_class/idempotency")
		{
			idem.GET("/stats", h.IdempotencyStats)
			idem.GET("/check", h.IdempotencyCheck)
			idem.GET("/records", h.IdempotencyRecords)
		}
	}

	tasks := r.Group("/tasks")
	{
		tasks.GET("", h.ListTasks)
		tasks.GET("/:task_id", h.GetTask)
		tasks.GET("/:task_id/logs", h.GetTaskLogs)
	}

	return r
}
