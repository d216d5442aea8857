package httpapi

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeofenceCheck(t *testing.T) {
	r := setupRouter(&fakeUsageControl{}, &fakeChecker{})

	tests := []struct {
		name   string
		body   map[string]any
		within bool
	}{
		{
			name: "same point",
			body: map[string]any{
				"deviceLocation": map[string]any{"latitude": 52.52, "longitude": 13.405},
				"authLocation":   map[string]any{"latitude": 52.52, "longitude": 13.405},
			},
			within: true,
		},
		{
			name: "about 1km apart with default radius",
			body: map[string]any{
				"deviceLocation": map[string]any{"latitude": 52.52, "longitude": 13.405},
				"authLocation":   map[string]any{"latitude": 52.529, "longitude": 13.405},
			},
			within: false,
		},
		{
			name: "about 1km apart with 2km radius",
			body: map[string]any{
				"deviceLocation": map[string]any{"latitude": 52.52, "longitude": 13.405},
				"authLocation":   map[string]any{"latitude": 52.529, "longitude": 13.405},
				"radius":         2000,
			},
			within: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodPost, "/devices/distance/radius/geofence-check", tt.body)
			require.Equal(t, http.StatusOK, w.Code)

			var out map[string]bool
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
			assert.Equal(t, tt.within, out["withinRadius"])
		})
	}
}

func TestGeofenceCheck_MissingPoint(t *testing.T) {
	r := setupRouter(&fakeUsageControl{}, &fakeChecker{})

	w := do(t, r, http.MethodPost, "/devices/distance/radius/geofence-check", map[string]any{
		"deviceLocation": map[string]any{"latitude": 1, "longitude": 1},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGeofenceCheck_MethodNotAllowed(t *testing.T) {
	r := setupRouter(&fakeUsageControl{}, &fakeChecker{})

	w := do(t, r, http.MethodGet, "/devices/distance/radius/geofence-check", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
