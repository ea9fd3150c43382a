// README: Address search for pickup and destination entry.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridecore/internal/maps"
	"ridecore/internal/types"
)

// PlaceFinder is satisfied by maps.PlacesService.
type PlaceFinder interface {
	Autocomplete(ctx context.Context, query string, near *types.Point) ([]maps.Suggestion, error)
	Details(ctx context.Context, placeID string) (maps.Place, error)
}

type PlacesHandler struct {
	places PlaceFinder
}

func NewPlacesHandler(places PlaceFinder) *PlacesHandler {
	return &PlacesHandler{places: places}
}

func (h *PlacesHandler) Autocomplete(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		writeError(c, http.StatusBadRequest, "missing q")
		return
	}
	near, ok, err := pointQuery(c, "lat", "lng")
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	var bias *types.Point
	if ok {
		bias = &near
	}
	out, err := h.places.Autocomplete(c.Request.Context(), q, bias)
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"suggestions": out})
}

func (h *PlacesHandler) Details(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid place id")
		return
	}
	place, err := h.places.Details(c.Request.Context(), id)
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, place)
}
