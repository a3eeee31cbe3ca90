package market

import (
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/energydesk-api/pkg/response"
	"github.com/rs/zerolog/log"

	_ "time/tzdata"
)

const (
	ReasonOpen        = "Open"
	ReasonHoliday     = "Holiday"
	ReasonWeekend     = "Weekend"
	ReasonMaintenance = "Maintenance"

	dateLayout = "2006-01-02"
)

// Sessions reopen at 17:00 CT and the daily maintenance break starts at 16:00 CT
const (
	sessionOpenHour  = 17
	sessionCloseHour = 16
)

// Holidays are the NYMEX full-day closures, as CT calendar dates
var Holidays = map[string]bool{
	"2025-01-01": true, "2025-01-20": true, "2025-02-17": true, "2025-04-18": true, "2025-05-26": true,
	"2025-07-04": true, "2025-09-01": true, "2025-11-27": true, "2025-12-25": true,

	"2026-01-01": true, "2026-01-19": true, "2026-02-16": true, "2026-04-03": true, "2026-05-25": true,
	"2026-07-03": true, "2026-09-07": true, "2026-11-26": true, "2026-12-25": true,

	"2027-01-01": true, "2027-01-18": true, "2027-02-15": true, "2027-03-26": true, "2027-05-31": true,
	"2027-07-05": true, "2027-09-06": true, "2027-11-25": true, "2027-12-24": true,

	"2028-01-01": true, "2028-01-17": true, "2028-02-21": true, "2028-04-14": true, "2028-05-29": true,
	"2028-07-04": true, "2028-09-04": true, "2028-11-23": true, "2028-12-25": true,

	"2029-01-01": true, "2029-01-15": true, "2029-02-19": true, "2029-03-30": true, "2029-05-28": true,
	"2029-07-04": true, "2029-09-03": true, "2029-11-22": true, "2029-12-25": true,

	"2030-01-01": true, "2030-01-21": true, "2030-02-18": true, "2030-04-19": true, "2030-05-27": true,
	"2030-07-04": true, "2030-09-02": true, "2030-11-28": true, "2030-12-25": true,
}

var central = loadCentral()

func loadCentral() *time.Location {
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		log.Warn().Err(err).Msg("America/Chicago unavailable, using fixed UTC-6")
		return time.FixedZone("CST", -6*60*60)
	}
	return loc
}

// Status is the NYMEX energy session state at a point in time
type Status struct {
	Open      bool     `json:"open"`
	Reason    string   `json:"reason"`
	CTTime    string   `json:"ct_time"`
	CTDate    string   `json:"ct_date"`
	CTWeekday string   `json:"ct_dow"`
	Holidays  []string `json:"holidays"`
}

// StatusAt reports whether the energy session is open at t
func StatusAt(t time.Time) Status {
	ct := t.In(central)
	open, reason := session(ct)
	return Status{
		Open:      open,
		Reason:    reason,
		CTTime:    ct.Format("15:04:05"),
		CTDate:    ct.Format(dateLayout),
		CTWeekday: ct.Weekday().String(),
		Holidays:  holidayList(),
	}
}

func session(ct time.Time) (bool, string) {
	if Holidays[ct.Format(dateLayout)] {
		return false, ReasonHoliday
	}

	hour := ct.Hour()
	switch ct.Weekday() {
	case time.Saturday:
		return false, ReasonWeekend
	case time.Sunday:
		if hour >= sessionOpenHour {
			return true, ReasonOpen
		}
		return false, ReasonWeekend
	case time.Friday:
		if hour < sessionCloseHour {
			return true, ReasonOpen
		}
		return false, ReasonWeekend
	}

	if hour >= sessionCloseHour && hour < sessionOpenHour {
		return false, ReasonMaintenance
	}
	return true, ReasonOpen
}

func holidayList() []string {
	dates := make([]string, 0, len(Holidays))
	for date := range Holidays {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates
}

type GinHandlers struct {
	now func() time.Time
}

func NewGinHandlers(now func() time.Time) *GinHandlers {
	if now == nil {
		now = time.Now
	}
	return &GinHandlers{now: now}
}

// StatusHandler handles GET /market-status
func (h *GinHandlers) StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, StatusAt(h.now()))
	}
}
