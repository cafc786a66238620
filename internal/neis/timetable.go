package neis

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"todaywhat/internal/model"
)

type timeTableRow struct {
	Period  string `json:"PERIO"`
	Content string `json:"ITRT_CNTNT"`
}

// timeTableService picks the dataset for the school type.
func timeTableService(t model.SchoolType) string {
	switch t {
	case model.SchoolElementary:
		return "elsTimetable"
	case model.SchoolMiddle:
		return "misTimetable"
	default:
		return "hisTimetable"
	}
}

// FetchTimeTable returns the periods for the configured grade/class on
// date, ordered by period. Callers decide how many periods to show.
func (c *Client) FetchTimeTable(ctx context.Context, date time.Time) ([]model.TimeTable, error) {
	id, err := c.identityOrErr()
	if err != nil {
		return nil, err
	}

	service := timeTableService(id.School.SchoolType)
	params := url.Values{}
	params.Set("ATPT_OFCDC_SC_CODE", id.School.OrgCode)
	params.Set("SD_SCHUL_CODE", id.School.SchoolCode)
	params.Set("ALL_TI_YMD", ymd(date))
	params.Set("GRADE", strconv.Itoa(id.Grade))
	params.Set("CLASS_NM", strconv.Itoa(id.Class))
	if id.School.SchoolType == model.SchoolHigh && id.Major != "" {
		params.Set("DDDEP_NM", id.Major)
	}

	body, err := c.get(ctx, service, params)
	if errors.Is(err, ErrNoData) {
		return []model.TimeTable{}, nil
	}
	if err != nil {
		return nil, err
	}
	return parseTimeTable(body, service)
}

func parseTimeTable(body []byte, service string) ([]model.TimeTable, error) {
	rows, err := decodeRows[timeTableRow](body, service)
	if errors.Is(err, ErrNoData) {
		return []model.TimeTable{}, nil
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[int]bool, len(rows))
	out := make([]model.TimeTable, 0, len(rows))
	for _, r := range rows {
		p, err := strconv.Atoi(strings.TrimSpace(r.Period))
		if err != nil || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, model.TimeTable{Period: p, Content: strings.TrimSpace(r.Content)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}
