// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridecore/internal/http/handlers"
	"ridecore/internal/http/middleware"
	"ridecore/internal/infra"
	"ridecore/internal/modules/driver"
	"ridecore/internal/modules/ride"
	"ridecore/internal/modules/tracking"
)

type RouterDeps struct {
	Rides           *ride.Service
	Directory       *driver.Directory
	Tracking        *tracking.Manager
	Places          handlers.PlaceFinder
	Verifier        infra.TokenVerifier
	DefaultRadiusKm float64
}

// NewRouter builds the gin engine. Everything under /api requires a verified
// token; Places routes are registered only when a places backend is configured.
func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.Logging())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	rideHandler := handlers.NewRideHandler(deps.Rides)
	api.POST("/rides", rideHandler.Request)
	api.POST("/rides/estimate", rideHandler.Quote)
	api.GET("/rides/history", rideHandler.History)
	api.GET("/rides/:id", rideHandler.Get)
	api.POST("/rides/:id/accept", rideHandler.Accept)
	api.POST("/rides/:id/start", rideHandler.Start)
	api.POST("/rides/:id/complete", rideHandler.Complete)
	api.POST("/rides/:id/cancel", rideHandler.Cancel)

	driverHandler := handlers.NewDriverHandler(deps.Directory, deps.Tracking, deps.DefaultRadiusKm)
	api.GET("/drivers/me", driverHandler.Me)
	api.PUT("/drivers/me/location", driverHandler.UpdateLocation)
	api.POST("/drivers/me/online", driverHandler.GoOnline)
	api.POST("/drivers/me/offline", driverHandler.GoOffline)
	api.GET("/drivers/nearby", driverHandler.Nearby)

	streamHandler := handlers.NewStreamHandler(deps.Tracking)
	api.GET("/drivers/me/stream", streamHandler.Stream)

	if deps.Places != nil {
		placesHandler := handlers.NewPlacesHandler(deps.Places)
		api.GET("/places/autocomplete", placesHandler.Autocomplete)
		api.GET("/places/:id", placesHandler.Details)
	}

	return r
}
