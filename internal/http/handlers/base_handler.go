// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ridecore/internal/modules/ride"
	"ridecore/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

// maxIDLength bounds path ids before they reach a store.
const maxIDLength = 256

func isValidID(v string) bool {
	if v == "" || len(v) > maxIDLength {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeRideError maps domain error kinds onto HTTP statuses.
func writeRideError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, types.ErrInvalidInput):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, types.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, types.ErrUnauthorized):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, types.ErrInvalidTransition), errors.Is(err, ride.ErrVersionConflict):
		writeError(c, http.StatusConflict, err.Error())
	default:
		log.Printf("[http] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// pointQuery parses lat/lng query parameters. ok is false when both are absent.
func pointQuery(c *gin.Context, latKey, lngKey string) (p types.Point, ok bool, err error) {
	latS, lngS := c.Query(latKey), c.Query(lngKey)
	if latS == "" && lngS == "" {
		return types.Point{}, false, nil
	}
	lat, err := strconv.ParseFloat(latS, 64)
	if err != nil {
		return types.Point{}, false, errors.New("invalid " + latKey)
	}
	lng, err := strconv.ParseFloat(lngS, 64)
	if err != nil {
		return types.Point{}, false, errors.New("invalid " + lngKey)
	}
	return types.Point{Lat: lat, Lng: lng}, true, nil
}
