package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"todaywhat/internal/feature"
	"todaywhat/internal/ics"
	appLog "todaywhat/internal/log"
	"todaywhat/internal/model"
	"todaywhat/internal/schedule"
	"todaywhat/internal/store"
)

const (
	calendarTTL  = 10 * time.Minute
	weekTTL      = 5 * time.Minute
	maxWeekDays  = 14
	fetchWorkers = 4
)

// weekResponse is a run of days of the timetable, from the manual
// timetable or from NEIS.
type weekResponse struct {
	Source string    `json:"source"`
	Days   []ics.Day `json:"days"`
	// Errors lists dates whose NEIS fetch failed; those days are empty.
	Errors []string `json:"errors,omitempty"`
}

// handleWeek returns ?days= days (default 7) starting at ?start=YYYY-MM-DD
// (default today).
func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start := schedule.StartOfDay(s.today())
	if v := q.Get("start"); v != "" {
		t, err := time.ParseInLocation(time.DateOnly, v, s.Location)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start: "+err.Error())
			return
		}
		start = t
	}
	days := parseIntDefault(q.Get("days"), 7)
	if days < 1 || days > maxWeekDays {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("days must be between 1 and %d", maxWeekDays))
		return
	}

	manual := s.Config.Preferences().ModifiedTimeTable
	key := fmt.Sprintf("%s|%d|%t", start.Format(time.DateOnly), days, manual)

	s.weekMu.RLock()
	c, ok := s.weekCache[key]
	s.weekMu.RUnlock()
	if ok && time.Since(c.updatedAt) < weekTTL {
		writeJSON(w, http.StatusOK, c.resp)
		return
	}

	end := start.AddDate(0, 0, days-1)
	var resp weekResponse
	if manual {
		list, err := s.Records.ReadOverrides(r.Context())
		if err != nil {
			appLog.Error("failed to read overrides", err)
			writeError(w, http.StatusInternalServerError, "failed to read overrides")
			return
		}
		expanded, err := ics.ExpandOverrides(list, ics.ExpandConfig{
			Location:   s.Location,
			RangeStart: start,
			RangeEnd:   end,
			MaxDays:    maxWeekDays,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		resp = weekResponse{Source: "manual", Days: expanded}
	} else {
		resp = s.fetchWeek(r, start, days)
	}

	s.weekMu.Lock()
	s.weekCache[key] = &weekEntry{resp: resp, updatedAt: time.Now()}
	s.weekMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// fetchWeek asks NEIS for every day in parallel. A failed day stays empty
// and is listed in Errors.
func (s *Server) fetchWeek(r *http.Request, start time.Time, n int) weekResponse {
	out := make([]ics.Day, n)
	failed := make([]bool, n)

	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(fetchWorkers)
	for i := 0; i < n; i++ {
		date := start.AddDate(0, 0, i)
		out[i] = ics.Day{Date: date, Weekday: schedule.Weekday(date), TimeTable: []model.TimeTable{}}
		g.Go(func() error {
			list, err := s.TimeTables.FetchTimeTable(ctx, date)
			if err != nil {
				appLog.Error("week timetable fetch failed", err, "date", date.Format(time.DateOnly))
				failed[i] = true
				return nil
			}
			out[i].TimeTable = feature.Truncate(list)
			return nil
		})
	}
	_ = g.Wait()

	resp := weekResponse{Source: "neis", Days: out}
	for i, f := range failed {
		if f {
			resp.Errors = append(resp.Errors, out[i].Date.Format(time.DateOnly))
		}
	}
	return resp
}

// handleCalendar serves the meals of the next HorizonDays days and the
// manual timetable as an iCalendar feed.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	s.calendarMu.RLock()
	c := s.calendarCache
	s.calendarMu.RUnlock()
	if c != nil && time.Since(c.updatedAt) < calendarTTL {
		writeCalendar(w, c.body)
		return
	}

	cfg := s.Config.Snapshot()
	now := s.today()
	start := schedule.StartOfDay(now)

	days := make([]ics.MealDay, cfg.HorizonDays)
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(fetchWorkers)
	for i := range days {
		date := start.AddDate(0, 0, i)
		days[i] = ics.MealDay{Date: date, Meal: model.EmptyMeal()}
		g.Go(func() error {
			meal, err := s.Meals.FetchMeal(ctx, date)
			if err != nil {
				appLog.Error("calendar meal fetch failed", err, "date", date.Format(time.DateOnly))
				return nil
			}
			days[i].Meal = meal
			return nil
		})
	}
	_ = g.Wait()

	overrides, err := s.Records.ReadOverrides(r.Context())
	if err != nil {
		appLog.Error("calendar override read failed", err)
		overrides = nil
	}

	name := "오늘뭐임"
	if cfg.School.School.Name != "" {
		name = cfg.School.School.Name + " " + name
	}
	body, err := ics.Render(days, overrides, ics.FeedOptions{
		Name:     name,
		Location: s.Location,
		Anchor:   start,
		Stamp:    now,
	})
	if err != nil {
		appLog.Error("calendar render failed", err)
		writeError(w, http.StatusInternalServerError, "failed to render calendar")
		return
	}

	s.calendarMu.Lock()
	s.calendarCache = &calendarEntry{body: body, updatedAt: time.Now()}
	s.calendarMu.Unlock()

	appLog.Info("calendar rendered", "days", len(days), "overrides", len(overrides))
	writeCalendar(w, body)
}

func writeCalendar(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="todaywhat.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

// invalidateCaches drops cached feeds after a data or preference change.
func (s *Server) invalidateCaches() {
	s.calendarMu.Lock()
	s.calendarCache = nil
	s.calendarMu.Unlock()

	s.weekMu.Lock()
	s.weekCache = make(map[string]*weekEntry)
	s.weekMu.Unlock()
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	return body, nil
}

func isInvalidOverride(err error) bool {
	return errors.Is(err, store.ErrInvalidOverride)
}
