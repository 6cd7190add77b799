package main

import (
	"log"

	"github.com/gin-gonic/gin"

	"zapmaster-backend/internal/api"
	"zapmaster-backend/internal/blacklist"
	"zapmaster-backend/internal/campaign"
	"zapmaster-backend/internal/config"
	"zapmaster-backend/internal/database"
	"zapmaster-backend/internal/webhook"
	"zapmaster-backend/internal/ws"
	"zapmaster-backend/internal/zapi"
)

func main() {
	cfg := config.LoadConfig()
	database.InitDB(cfg)
	store := database.NewStore(database.GormDB)

	r := gin.Default()

	// CORS Middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	hub := ws.NewHub()
	go hub.Run()

	zapiClient := zapi.NewClient()
	control := campaign.NewControl(store, store)
	engine := campaign.NewEngine(control, store, zapiClient, hub)
	engine.SetMessageSink(store)

	watcher := blacklist.NewWatcher(store, zapiClient, hub, cfg.WatcherChatWindow)
	watcher.Start(cfg.WatcherIntervalMinutes)
	defer watcher.Stop()

	webhookHandler := webhook.NewHandler(store, zapiClient, hub)
	dashboardHandler := api.NewDashboardHandler(store, zapiClient)
	contactHandler := api.NewContactHandler(store, zapiClient)
	accountHandler := api.NewAccountHandler(store, zapiClient)
	campaignHandler := api.NewCampaignHandler(store, engine, control, hub)
	settingsHandler := api.NewSettingsHandler(store)

	// Campaign progress also keeps the stored campaign row in sync.
	engine.SetNotifier(campaignHandler)

	// Provider callback
	r.POST("/webhook", webhookHandler.HandleMessage)

	// Live updates
	r.GET("/ws", func(c *gin.Context) {
		hub.ServeWs(c.Writer, c.Request)
	})

	// Dashboard API Routes
	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/stats", dashboardHandler.GetStats)
		apiGroup.GET("/chats", dashboardHandler.GetChats)
		apiGroup.GET("/chats/:phone/messages", dashboardHandler.GetChatMessages)
		apiGroup.POST("/chats/:phone/send", dashboardHandler.SendMessage)
		apiGroup.DELETE("/chats/:phone", dashboardHandler.DeleteChat)

		// Contact Routes
		apiGroup.GET("/contacts", contactHandler.GetContacts)
		apiGroup.POST("/contacts", contactHandler.CreateContact)
		apiGroup.POST("/contacts/import", contactHandler.BulkImport)
		apiGroup.GET("/contacts/export", contactHandler.ExportContacts)
		apiGroup.PUT("/contacts/:phone", contactHandler.UpdateContact)
		apiGroup.DELETE("/contacts/:phone", contactHandler.DeleteContact)
		apiGroup.POST("/contacts/:phone/check", contactHandler.CheckWhatsApp)
		apiGroup.POST("/contacts/check-all", contactHandler.CheckAllUnknown)

		// Account Routes
		apiGroup.GET("/accounts", accountHandler.GetAccounts)
		apiGroup.POST("/accounts", accountHandler.CreateAccount)
		apiGroup.PUT("/accounts/:id", accountHandler.UpdateAccount)
		apiGroup.DELETE("/accounts/:id", accountHandler.DeleteAccount)
		apiGroup.POST("/accounts/:id/test", accountHandler.TestConnection)

		// Campaign Routes
		apiGroup.GET("/campaigns", campaignHandler.GetCampaigns)
		apiGroup.POST("/campaigns", campaignHandler.CreateCampaign)
		apiGroup.POST("/campaigns/:id/start", campaignHandler.StartCampaign)
		apiGroup.POST("/campaigns/stop", campaignHandler.StopCampaign)
		apiGroup.GET("/campaigns/status", campaignHandler.RunStatus)
		apiGroup.GET("/campaigns/health", campaignHandler.Health)
		apiGroup.GET("/campaigns/quota", campaignHandler.Quota)

		// Throttling policy
		apiGroup.GET("/settings", settingsHandler.GetSettings)
		apiGroup.PUT("/settings", settingsHandler.SaveSettings)
		apiGroup.GET("/settings/defaults", settingsHandler.GetDefaults)
	}

	log.Printf("Server starting on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}
