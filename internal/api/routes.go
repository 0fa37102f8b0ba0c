package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TheGojiOG/servervisor/internal/api/handlers"
	"github.com/TheGojiOG/servervisor/internal/api/middleware"
	"github.com/TheGojiOG/servervisor/internal/auth"
	"github.com/TheGojiOG/servervisor/internal/config"
	"github.com/TheGojiOG/servervisor/internal/logging"
	"github.com/TheGojiOG/servervisor/internal/webhook"
	"github.com/TheGojiOG/servervisor/internal/websocket"
)

// Dependencies are the collaborators wired into the router. Optional fields
// may be left nil.
type Dependencies struct {
	Config        *config.Config
	ConfigPath    string
	ServerManager *config.ServerManager
	Lifecycle     handlers.Lifecycle
	History       handlers.StatusHistory
	Usage         handlers.UsageSource
	Activity      *logging.ActivityLogger
	Hub           *websocket.Hub
	Recent        handlers.RecentOutput

	WebhookStore  webhook.ConfigStore
	WebhookTester handlers.WebhookTester
	Deliveries    handlers.DeliveryLister

	Maintenance handlers.MaintenanceRunner

	// Tokens enables bearer token authentication on the API when set
	Tokens *auth.TokenManager
}

// SetupRouter configures and returns the HTTP router
func SetupRouter(deps Dependencies) *gin.Engine {
	cfg := deps.Config

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(cfg.Security.CORS))
	router.Use(middleware.RateLimit(cfg.Security.RateLimit.Enabled, cfg.Security.RateLimit.RequestsPerMinute))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.ContentSecurityPolicy(cfg.Logging.Level == "debug"))

	serverHandler := handlers.NewServerHandler(cfg, deps.ServerManager, deps.Lifecycle, deps.History, deps.Usage, deps.Activity)
	consoleHandler := handlers.NewConsoleHandler(cfg, deps.ServerManager, deps.Hub, deps.Recent)
	webhookHandler := handlers.NewWebhookHandler(deps.ServerManager, deps.WebhookStore, deps.WebhookTester, deps.Deliveries, deps.Activity)
	settingsHandler := handlers.NewSettingsHandler(cfg, deps.ConfigPath)

	v1 := router.Group("/api/v1")
	if deps.Tokens != nil {
		v1.Use(middleware.RequireToken(deps.Tokens))
	}
	{
		servers := v1.Group("/servers")
		{
			servers.GET("", serverHandler.ListServers)
			servers.POST("", serverHandler.CreateServer)
			servers.GET("/:name", serverHandler.GetServer)
			servers.PUT("/:name", serverHandler.UpdateServer)
			servers.DELETE("/:name", serverHandler.DeleteServer)

			servers.POST("/:name/start", serverHandler.StartServer)
			servers.POST("/:name/stop", serverHandler.StopServer)
			servers.POST("/:name/command", serverHandler.ExecuteCommand)
			servers.GET("/:name/status", serverHandler.GetServerStatus)
			servers.GET("/:name/stats", serverHandler.GetServerStats)
			servers.GET("/:name/logs", serverHandler.GetLogs)
			servers.GET("/:name/players", serverHandler.GetPlayers)
			servers.GET("/:name/eula", serverHandler.GetEULA)
			servers.POST("/:name/eula", serverHandler.AcceptEULA)
			servers.POST("/:name/events", serverHandler.ReportEvent)
			servers.GET("/:name/activity", serverHandler.GetServerActivity)

			servers.GET("/:name/webhook", webhookHandler.GetWebhook)
			servers.PUT("/:name/webhook", webhookHandler.UpdateWebhook)
			servers.POST("/:name/webhook/test", webhookHandler.TestWebhook)
			servers.GET("/:name/webhook/deliveries", webhookHandler.ListDeliveries)

			servers.GET("/:name/ws", consoleHandler.HandleConsoleWebSocket)
		}

		v1.GET("/settings", settingsHandler.GetSettings)
		v1.PUT("/settings", settingsHandler.UpdateSettings)

		if deps.Maintenance != nil {
			maintenanceHandler := handlers.NewMaintenanceHandler(deps.Maintenance)
			v1.GET("/maintenance", maintenanceHandler.GetLastRun)
			v1.POST("/maintenance/run", maintenanceHandler.RunNow)
		}
	}

	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return router
}
