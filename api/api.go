package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"gitlab.com/gridshare/gpu-cloud-service/connection"
	"gitlab.com/gridshare/gpu-cloud-service/dispatch"
	"gitlab.com/gridshare/gpu-cloud-service/internal/config"
	"gitlab.com/gridshare/gpu-cloud-service/jobqueue"
)

// Handlers carries the injected collaborators every request needs. Nothing
// here lives in package state; the process wires one instance at startup and
// tests wire their own.
type Handlers struct {
	Queue   *jobqueue.JobQueue
	Manager *connection.Manager
	Loop    *dispatch.Loop
}

func NewHandlers(queue *jobqueue.JobQueue, manager *connection.Manager, loop *dispatch.Loop) *Handlers {
	return &Handlers{Queue: queue, Manager: manager, Loop: loop}
}

func SetupRouter(h *Handlers) *gin.Engine {
	router := gin.Default()
	router.Use(cors.New(getCustomCorsConfig()))

	// Liveness: must not touch storage or the queue.
	router.GET("/", h.RootHandler)

	v1 := router.Group("/api/v1")
	v1.GET("/health", h.HealthHandler)

	authGroup := v1.Group("/auth")
	{
		authGroup.GET("/login", h.LoginURLHandler)
		authGroup.GET("/callback", h.OAuthCallbackHandler)
		authGroup.GET("/me", Authenticate, h.MeHandler)
		authGroup.POST("/role", Authenticate, h.SwitchRoleHandler)
	}

	hosts := v1.Group("/hosts")
	{
		hosts.GET("", h.ListHostsHandler)
		hosts.POST("/register", Authenticate, h.RegisterHostHandler)
		hosts.GET("/my", Authenticate, h.MyHostsHandler)
		hosts.POST("/:host_id/availability", Authenticate, h.HostAvailabilityHandler)
	}

	jobs := v1.Group("/jobs")
	{
		jobs.POST("", Authenticate, h.SubmitJobHandler)
		jobs.GET("", Authenticate, h.ListJobsHandler)
		jobs.GET("/:job_id", Authenticate, h.GetJobHandler)
		jobs.POST("/:job_id/cancel", Authenticate, h.CancelJobHandler)
	}

	v1.GET("/models", h.ListModelsHandler)

	admin := v1.Group("/admin")
	{
		admin.GET("/stats", Authenticate, h.AdminStatsHandler)
	}

	ws := router.Group("/ws")
	{
		ws.GET("/host/:host_id", h.HostChannelHandler)
		ws.GET("/job/:job_id", h.JobChannelHandler)
	}

	return router
}

func getCustomCorsConfig() cors.Config {
	cfg := DefaultConfig()
	cfg.AllowOrigins = config.GetConfig().Rest.AllowOrigins
	return cfg
}

// DefaultConfig returns a generic default configuration mapped to localhost.
func DefaultConfig() cors.Config {
	return cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Access-Control-Allow-Origin", "Origin", "Content-Length", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
}
