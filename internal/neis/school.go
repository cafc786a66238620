package neis

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"todaywhat/internal/model"
)

const (
	schoolService = "schoolInfo"
	majorService  = "schoolMajorinfo"
)

type schoolRow struct {
	OrgCode    string `json:"ATPT_OFCDC_SC_CODE"`
	SchoolCode string `json:"SD_SCHUL_CODE"`
	Name       string `json:"SCHUL_NM"`
	Kind       string `json:"SCHUL_KND_SC_NM"`
	Address    string `json:"ORG_RDNMA"`
}

type majorRow struct {
	Major string `json:"DDDEP_NM"`
}

// schoolTypeOf maps SCHUL_KND_SC_NM; unsupported kinds report false.
func schoolTypeOf(kind string) (model.SchoolType, bool) {
	switch strings.TrimSpace(kind) {
	case "초등학교":
		return model.SchoolElementary, true
	case "중학교":
		return model.SchoolMiddle, true
	case "고등학교":
		return model.SchoolHigh, true
	default:
		return "", false
	}
}

// SearchSchools looks schools up by (partial) name. Kinds without a
// timetable dataset (special schools etc.) are left out.
func (c *Client) SearchSchools(ctx context.Context, name string) ([]model.School, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return []model.School{}, nil
	}

	params := url.Values{}
	params.Set("SCHUL_NM", name)

	body, err := c.get(ctx, schoolService, params)
	if errors.Is(err, ErrNoData) {
		return []model.School{}, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows[schoolRow](body, schoolService)
	if err != nil {
		return nil, err
	}
	out := make([]model.School, 0, len(rows))
	for _, r := range rows {
		st, ok := schoolTypeOf(r.Kind)
		if !ok {
			continue
		}
		out = append(out, model.School{
			Name:       r.Name,
			OrgCode:    r.OrgCode,
			SchoolCode: r.SchoolCode,
			SchoolType: st,
			Address:    r.Address,
		})
	}
	return out, nil
}

// FetchMajors lists the distinct majors (학과) of a school in response order.
func (c *Client) FetchMajors(ctx context.Context, orgCode, schoolCode string) ([]string, error) {
	params := url.Values{}
	params.Set("ATPT_OFCDC_SC_CODE", orgCode)
	params.Set("SD_SCHUL_CODE", schoolCode)

	body, err := c.get(ctx, majorService, params)
	if errors.Is(err, ErrNoData) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows[majorRow](body, majorService)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(rows))
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		m := strings.TrimSpace(r.Major)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out, nil
}
