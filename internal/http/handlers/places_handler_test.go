package handlers_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"ridecore/internal/http/handlers"
	"ridecore/internal/maps"
	"ridecore/internal/types"
)

type stubPlaces struct {
	query string
	near  *types.Point
}

func (s *stubPlaces) Autocomplete(_ context.Context, q string, near *types.Point) ([]maps.Suggestion, error) {
	s.query, s.near = q, near
	return []maps.Suggestion{{PlaceID: "p1", Description: "1 Market St"}}, nil
}

func (s *stubPlaces) Details(_ context.Context, id string) (maps.Place, error) {
	if id != "p1" {
		return maps.Place{}, fmt.Errorf("place %s: %w", id, types.ErrNotFound)
	}
	return maps.Place{PlaceID: "p1", Name: "Ferry Building", Location: types.Point{Lat: 37.7955, Lng: -122.3937}}, nil
}

func newPlacesRouter(s *stubPlaces) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := handlers.NewPlacesHandler(s)
	r.GET("/places/autocomplete", h.Autocomplete)
	r.GET("/places/:id", h.Details)
	return r
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestPlaces_Autocomplete(t *testing.T) {
	s := &stubPlaces{}
	r := newPlacesRouter(s)

	w := get(r, "/places/autocomplete?q=market&lat=37.78&lng=-122.41")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if s.query != "market" || s.near == nil || s.near.Lat != 37.78 {
		t.Errorf("unexpected call: q=%q near=%v", s.query, s.near)
	}
	if !strings.Contains(w.Body.String(), `"place_id":"p1"`) {
		t.Errorf("unexpected body: %s", w.Body.String())
	}

	s.near = nil
	if w := get(r, "/places/autocomplete?q=market"); w.Code != http.StatusOK || s.near != nil {
		t.Errorf("expected unbiased search, got %d near=%v", w.Code, s.near)
	}
}

func TestPlaces_BadInput(t *testing.T) {
	r := newPlacesRouter(&stubPlaces{})
	tests := []struct {
		path string
		want int
	}{
		{"/places/autocomplete", http.StatusBadRequest},
		{"/places/autocomplete?q=x&lat=abc&lng=1", http.StatusBadRequest},
		{"/places/bad.id", http.StatusBadRequest},
		{"/places/unknown", http.StatusNotFound},
		{"/places/p1", http.StatusOK},
	}
	for _, tt := range tests {
		if w := get(r, tt.path); w.Code != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.want, w.Code)
		}
	}
}
