// README: Driver handlers for availability, position reports and proximity search.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ridecore/internal/http/middleware"
	"ridecore/internal/modules/driver"
	"ridecore/internal/modules/tracking"
	"ridecore/internal/types"
)

type DriverHandler struct {
	directory       *driver.Directory
	tracking        *tracking.Manager
	defaultRadiusKm float64
}

func NewDriverHandler(dir *driver.Directory, mgr *tracking.Manager, defaultRadiusKm float64) *DriverHandler {
	return &DriverHandler{directory: dir, tracking: mgr, defaultRadiusKm: defaultRadiusKm}
}

type locationReq struct {
	Lat *float64   `json:"lat"`
	Lng *float64   `json:"lng"`
	At  *time.Time `json:"at"`
}

// fix turns a request body into a position fix; a missing timestamp means now.
func (r locationReq) fix() (tracking.Fix, bool) {
	if r.Lat == nil || r.Lng == nil {
		return tracking.Fix{}, false
	}
	at := time.Now().UTC()
	if r.At != nil {
		at = r.At.UTC()
	}
	return tracking.Fix{Position: types.Point{Lat: *r.Lat, Lng: *r.Lng}, At: at}, true
}

// UpdateLocation writes the caller's position straight into the directory.
func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	id, ok := callerDriver(c)
	if !ok {
		return
	}
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	fix, ok := req.fix()
	if !ok {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	accepted, err := h.directory.UpsertPosition(c.Request.Context(), id, fix.Position, fix.At)
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"accepted": accepted})
}

func (h *DriverHandler) GoOnline(c *gin.Context) {
	id, ok := callerDriver(c)
	if !ok {
		return
	}
	if err := h.tracking.GoOnline(c.Request.Context(), id); err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"online": true})
}

func (h *DriverHandler) GoOffline(c *gin.Context) {
	id, ok := callerDriver(c)
	if !ok {
		return
	}
	if err := h.tracking.GoOffline(c.Request.Context(), id); err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"online": false})
}

func (h *DriverHandler) Me(c *gin.Context) {
	id, ok := callerDriver(c)
	if !ok {
		return
	}
	rec, err := h.directory.Get(id)
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

// Nearby lists online drivers around lat/lng within radius_km.
func (h *DriverHandler) Nearby(c *gin.Context) {
	origin, ok, err := pointQuery(c, "lat", "lng")
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	radius := h.defaultRadiusKm
	if v := c.Query("radius_km"); v != "" {
		radius, err = strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid radius_km")
			return
		}
	}
	hits, err := h.directory.Nearby(origin, radius)
	if err != nil {
		writeRideError(c, err)
		return
	}
	if hits == nil {
		hits = []driver.Nearby{}
	}
	writeJSON(c, http.StatusOK, gin.H{"drivers": hits})
}

func callerDriver(c *gin.Context) (types.ID, bool) {
	caller := middleware.Caller(c)
	if caller.Role != types.RoleDriver {
		writeError(c, http.StatusForbidden, "forbidden: driver role required")
		return "", false
	}
	return caller.ID, true
}
