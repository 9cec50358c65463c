package server

import (
	"net/http"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/metrics"
	"chatrelay/internal/mw"
	"chatrelay/internal/service"
	"chatrelay/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter wires middleware, the REST projection and the websocket
// endpoint onto one gin engine.
func SetupRouter(cfg config.Config, gdb *gorm.DB, hub *ws.Hub) *gin.Engine {
	msgSvc := service.NewMessageService(gdb)
	receiptSvc := service.NewReceiptService(gdb)
	pollSvc := service.NewPollService(gdb)
	gateway := ws.NewGateway(hub, msgSvc, receiptSvc, pollSvc, cfg)
	h := NewHandler(msgSvc, receiptSvc, pollSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.POST("/messages", h.CreateMessage)
	api.GET("/messages", h.ListMessages)
	api.GET("/messages/recent", h.RecentMessages)
	api.GET("/messages/:id", h.GetMessage)
	api.PUT("/messages/:id", h.UpdateMessage)
	api.DELETE("/messages/:id", h.DeleteMessage)
	api.POST("/messages/:id/receipts", h.InitReceipts)
	api.PUT("/messages/:id/receipts/:userId", h.SetReceipt)
	api.POST("/messages/:id/votes", h.Vote)

	r.GET("/ws", gateway.Serve())

	return r
}
