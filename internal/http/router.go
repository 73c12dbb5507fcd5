// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trackd/internal/http/handlers"
	"trackd/internal/http/middleware"
	"trackd/internal/infra"
	"trackd/internal/modules/location"
	"trackd/internal/modules/order"
	"trackd/internal/modules/polldiff"
	"trackd/internal/realtime"
)

type Deps struct {
	Hub       *realtime.Hub
	Orders    *order.Service
	Locations *location.Service
	Sessions  *polldiff.Sessions
	Verifier  infra.TokenVerifier
	WS        handlers.WSOptions
	Logger    *slog.Logger
}

func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	r := gin.New()
	r.Use(middleware.Recovery(d.Logger), middleware.Logging(d.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if d.WS.Logger == nil {
		d.WS.Logger = d.Logger
	}
	wsHandler := handlers.NewWSHandler(d.Hub, d.Orders, d.Locations, d.Verifier, d.WS)
	r.GET("/ws", wsHandler.Serve)

	streamHandler := handlers.NewStreamHandler(d.Hub)
	r.GET("/api/stream", middleware.OptionalAuth(d.Verifier), streamHandler.Stream)

	api := r.Group("/api", middleware.Auth(d.Verifier))

	pollHandler := handlers.NewPollHandler(d.Orders, d.Sessions)
	api.GET("/orders/poll", pollHandler.Poll)
	api.DELETE("/orders/poll", pollHandler.Forget)

	orderHandler := handlers.NewOrderHandler(d.Orders)
	api.GET("/orders/:id", orderHandler.Get)
	api.POST("/orders/:id/status", orderHandler.UpdateStatus)
	api.POST("/orders/:id/announce", orderHandler.Announce)

	locationHandler := handlers.NewLocationHandler(d.Locations, d.Orders)
	api.GET("/orders/:id/position", locationHandler.Latest)
	api.POST("/orders/:id/position", locationHandler.Submit)

	return r
}
