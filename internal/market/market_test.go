package market

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ct(t *testing.T, date string, hour, minute int) time.Time {
	t.Helper()
	day, err := time.ParseInLocation(dateLayout, date, central)
	require.NoError(t, err)
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func TestStatusAt(t *testing.T) {
	tests := []struct {
		name   string
		date   string
		hour   int
		minute int
		open   bool
		reason string
	}{
		{"tuesday morning", "2026-03-10", 10, 0, true, ReasonOpen},
		{"tuesday maintenance start", "2026-03-10", 16, 0, false, ReasonMaintenance},
		{"tuesday maintenance end", "2026-03-10", 16, 59, false, ReasonMaintenance},
		{"tuesday evening session", "2026-03-10", 17, 0, true, ReasonOpen},
		{"tuesday after midnight", "2026-03-10", 0, 30, true, ReasonOpen},
		{"friday before close", "2026-03-13", 15, 59, true, ReasonOpen},
		{"friday close", "2026-03-13", 16, 0, false, ReasonWeekend},
		{"friday night", "2026-03-13", 20, 0, false, ReasonWeekend},
		{"saturday", "2026-03-14", 12, 0, false, ReasonWeekend},
		{"sunday afternoon", "2026-03-15", 16, 59, false, ReasonWeekend},
		{"sunday open", "2026-03-15", 17, 0, true, ReasonOpen},
		{"independence day observed", "2026-07-03", 10, 0, false, ReasonHoliday},
		{"christmas", "2026-12-25", 18, 0, false, ReasonHoliday},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := StatusAt(ct(t, tt.date, tt.hour, tt.minute))
			assert.Equal(t, tt.open, status.Open)
			assert.Equal(t, tt.reason, status.Reason)
			assert.Equal(t, tt.date, status.CTDate)
		})
	}
}

func TestStatusAtConvertsToCentral(t *testing.T) {
	// 21:30 UTC is 16:30 CDT on a Tuesday after the March DST change
	status := StatusAt(time.Date(2026, 3, 10, 21, 30, 0, 0, time.UTC))
	assert.False(t, status.Open)
	assert.Equal(t, ReasonMaintenance, status.Reason)
	assert.Equal(t, "16:30:00", status.CTTime)
	assert.Equal(t, "Tuesday", status.CTWeekday)
}

func TestHolidayListSorted(t *testing.T) {
	status := StatusAt(time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC))
	require.Len(t, status.Holidays, len(Holidays))
	assert.Equal(t, "2025-01-01", status.Holidays[0])
	assert.Equal(t, "2030-12-25", status.Holidays[len(status.Holidays)-1])
	assert.IsIncreasing(t, status.Holidays)
}

func TestStatusHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	fixed := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	router := gin.New()
	router.GET("/market-status", NewGinHandlers(func() time.Time { return fixed }).StatusHandler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/market-status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success bool   `json:"success"`
		Data    Status `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.False(t, body.Data.Open)
	assert.Equal(t, ReasonWeekend, body.Data.Reason)
	assert.Equal(t, "Saturday", body.Data.CTWeekday)
}
