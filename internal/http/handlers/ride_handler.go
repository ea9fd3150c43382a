// README: Ride handlers for request, lifecycle transitions, lookup and history.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridecore/internal/http/middleware"
	"ridecore/internal/modules/pricing"
	"ridecore/internal/modules/ride"
	"ridecore/internal/types"
)

type RideHandler struct {
	rides *ride.Service
}

func NewRideHandler(svc *ride.Service) *RideHandler {
	return &RideHandler{rides: svc}
}

type routeReq struct {
	Pickup          *types.Point `json:"pickup"`
	Destination     *types.Point `json:"destination"`
	DistanceMeters  *float64     `json:"distance_meters"`
	DurationSeconds *float64     `json:"duration_seconds"`
}

func (r routeReq) estimate() *ride.Estimate {
	if r.DistanceMeters == nil || r.DurationSeconds == nil {
		return nil
	}
	return &ride.Estimate{DistanceMeters: *r.DistanceMeters, DurationSeconds: *r.DurationSeconds}
}

// quoteReq accepts a what-if surge; ride requests are priced at the
// configured tariff only.
type quoteReq struct {
	routeReq
	Surge *float64 `json:"surge"`
}

type requestRideReq struct {
	routeReq
	ScheduledFor      *time.Time `json:"scheduled_for"`
	PreferredDriverID string     `json:"preferred_driver_id"`
}

type cancelRideReq struct {
	Reason string `json:"reason"`
}

type quoteResp struct {
	Estimate ride.Estimate     `json:"estimate"`
	Fare     pricing.Breakdown `json:"fare"`
}

func (h *RideHandler) Request(c *gin.Context) {
	var req requestRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Pickup == nil || req.Destination == nil {
		writeError(c, http.StatusBadRequest, "pickup and destination are required")
		return
	}
	cmd := ride.RequestCommand{
		Actor:        middleware.Caller(c),
		Pickup:       *req.Pickup,
		Destination:  *req.Destination,
		ScheduledFor: req.ScheduledFor,
		Estimate:     req.estimate(),
	}
	if req.PreferredDriverID != "" {
		id := types.ID(req.PreferredDriverID)
		cmd.PreferredDriverID = &id
	}
	r, err := h.rides.Request(c.Request.Context(), cmd)
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, r)
}

// Quote prices a trip without creating it.
func (h *RideHandler) Quote(c *gin.Context) {
	var req quoteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Pickup == nil || req.Destination == nil {
		writeError(c, http.StatusBadRequest, "pickup and destination are required")
		return
	}
	est, fare, err := h.rides.Quote(c.Request.Context(), ride.QuoteCommand{
		Pickup:      *req.Pickup,
		Destination: *req.Destination,
		Estimate:    req.estimate(),
		Surge:       req.Surge,
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, quoteResp{Estimate: est, Fare: fare})
}

// Get returns a ride to its rider, its bound driver, or any driver while it
// is still pending.
func (h *RideHandler) Get(c *gin.Context) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	r, err := h.rides.Get(c.Request.Context(), id)
	if err != nil {
		writeRideError(c, err)
		return
	}
	caller := middleware.Caller(c)
	visible := r.RiderID == caller.ID ||
		r.IsBoundDriver(caller.ID) ||
		(caller.Role == types.RoleDriver && r.Status == ride.StatusPending)
	if !visible {
		writeError(c, http.StatusForbidden, "forbidden: not a participant of this ride")
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) Accept(c *gin.Context) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	r, err := h.rides.Accept(c.Request.Context(), ride.AcceptCommand{RideID: id, Actor: middleware.Caller(c)})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) Start(c *gin.Context) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	r, err := h.rides.Start(c.Request.Context(), ride.StartCommand{RideID: id, Actor: middleware.Caller(c)})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) Complete(c *gin.Context) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	r, err := h.rides.Complete(c.Request.Context(), ride.CompleteCommand{RideID: id, Actor: middleware.Caller(c)})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) Cancel(c *gin.Context) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	var req cancelRideReq
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	r, err := h.rides.Cancel(c.Request.Context(), ride.CancelCommand{
		RideID: id,
		Actor:  middleware.Caller(c),
		Reason: req.Reason,
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) History(c *gin.Context) {
	caller := middleware.Caller(c)
	rides, err := h.rides.History(c.Request.Context(), caller.ID, caller.Role)
	if err != nil {
		writeRideError(c, err)
		return
	}
	if rides == nil {
		rides = []ride.Ride{}
	}
	writeJSON(c, http.StatusOK, gin.H{"rides": rides})
}

func rideID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return "", false
	}
	return types.ID(id), true
}
