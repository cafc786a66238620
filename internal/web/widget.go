package web

import (
	"html/template"
	"net/http"
	"time"

	"todaywhat/internal/capture"
	appLog "todaywhat/internal/log"
	"todaywhat/internal/model"
	"todaywhat/internal/widget"
)

func (s *Server) handleWidgetMeal(w http.ResponseWriter, r *http.Request) {
	// Without ?display= the stored widget preference applies.
	var display model.DisplayMeal
	if raw := r.URL.Query().Get("display"); raw != "" {
		d, err := model.ParseDisplayMeal(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		display = d
	}
	writeJSON(w, http.StatusOK, s.Widgets.MealTimeline(r.Context(), display))
}

func (s *Server) handleWidgetTimeTable(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Widgets.TimeTableTimeline(r.Context()))
}

var partLabels = map[model.MealPartTime]string{
	model.Breakfast: "아침",
	model.Lunch:     "점심",
	model.Dinner:    "저녁",
}

type dishView struct {
	Name     string
	Allergic bool
}

type mealPage struct {
	Family    capture.Family
	Date      string
	PartLabel string
	Cal       float64
	Dishes    []dishView
}

type timeTablePage struct {
	Family capture.Family
	Date   string
	Rows   []model.TimeTable
}

const widgetStyle = `
body { margin: 0; font-family: "Apple SD Gothic Neo", "Noto Sans KR", sans-serif; background: #fff; color: #222; }
.widget { box-sizing: border-box; padding: 12px; overflow: hidden; }
.small { width: 170px; height: 170px; font-size: 11px; }
.medium { width: 364px; height: 170px; font-size: 12px; }
.large { width: 364px; height: 382px; font-size: 14px; }
.head { display: flex; justify-content: space-between; font-weight: 700; margin-bottom: 6px; }
ul { list-style: none; margin: 0; padding: 0; }
li { line-height: 1.5; white-space: nowrap; text-overflow: ellipsis; overflow: hidden; }
.allergic { color: #d33; }
.empty { color: #999; }
`

var mealTemplate = template.Must(template.New("meal").Parse(`<!doctype html>
<html lang="ko"><head><meta charset="utf-8"><style>` + widgetStyle + `</style></head>
<body><div class="widget {{.Family}}" data-ready="true">
<div class="head"><span>{{.PartLabel}}</span><span>{{.Date}}</span></div>
{{if .Dishes}}<ul>{{range .Dishes}}<li{{if .Allergic}} class="allergic"{{end}}>{{.Name}}</li>{{end}}</ul>
<div class="cal">{{printf "%.1f" .Cal}} kcal</div>
{{else}}<div class="empty">급식이 없어요.</div>{{end}}
</div></body></html>
`))

var timeTableTemplate = template.Must(template.New("timetable").Parse(`<!doctype html>
<html lang="ko"><head><meta charset="utf-8"><style>` + widgetStyle + `</style></head>
<body><div class="widget {{.Family}}" data-ready="true">
<div class="head"><span>시간표</span><span>{{.Date}}</span></div>
{{if .Rows}}<ul>{{range .Rows}}<li>{{.Period}}교시 {{.Content}}</li>{{end}}</ul>
{{else}}<div class="empty">시간표가 없어요.</div>{{end}}
</div></body></html>
`))

func widgetFamily(r *http.Request) (capture.Family, error) {
	f := capture.Family(r.URL.Query().Get("family"))
	if f == "" {
		f = capture.FamilyMedium
	}
	if _, _, err := f.Size(); err != nil {
		return "", err
	}
	return f, nil
}

// handleWidgetMealPage renders the meal widget as HTML for the snapshotter.
func (s *Server) handleWidgetMealPage(w http.ResponseWriter, r *http.Request) {
	family, err := widgetFamily(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tl := s.Widgets.MealTimeline(r.Context(), "")
	entry := widget.EmptyMealEntry(s.today())
	if len(tl.Entries) > 0 {
		entry = tl.Entries[0]
	}

	part := entry.Meal.Part(entry.MealPartTime)
	page := mealPage{
		Family:    family,
		Date:      entry.Date.In(s.Location).Format("1월 2일"),
		PartLabel: partLabels[entry.MealPartTime],
		Cal:       part.Cal,
	}
	for _, dish := range part.Meals {
		name, _ := model.SplitDish(dish)
		page.Dishes = append(page.Dishes, dishView{Name: name, Allergic: model.DishContainsAny(dish, entry.AllergyList)})
	}
	renderPage(w, mealTemplate, page)
}

func (s *Server) handleWidgetTimeTablePage(w http.ResponseWriter, r *http.Request) {
	family, err := widgetFamily(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tl := s.Widgets.TimeTableTimeline(r.Context())
	entry := widget.EmptyTimeTableEntry(s.today())
	if len(tl.Entries) > 0 {
		entry = tl.Entries[0]
	}
	renderPage(w, timeTableTemplate, timeTablePage{
		Family: family,
		Date:   entry.Date.In(s.Location).Format("1월 2일"),
		Rows:   entry.TimeTable,
	})
}

func renderPage(w http.ResponseWriter, t *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := t.Execute(w, data); err != nil {
		appLog.Error("failed to render widget page", err, "template", t.Name())
	}
}

// handlePreview serves a PNG snapshot of a widget page. ServeFile reports
// a missing file as 404.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.Snapshots == nil {
		writeError(w, http.StatusNotFound, "preview is disabled")
		return
	}
	page := r.URL.Query().Get("page")
	if page == "" {
		page = "meal"
	}
	if page != "meal" && page != "timetable" {
		writeError(w, http.StatusBadRequest, "page must be meal or timetable")
		return
	}
	family, err := widgetFamily(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	path, err := s.Snapshots.Snapshot(r.Context(), page, family)
	if err != nil {
		appLog.Error("widget snapshot failed", err, "page", page, "family", family)
		writeError(w, http.StatusBadGateway, "snapshot failed")
		return
	}
	appLog.Debug("serving widget preview", "path", path, "elapsed", time.Since(start).String())
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, path)
}
