package feature

import (
	"context"
	"strconv"
	"strings"
	"time"

	appLog "todaywhat/internal/log"
	"todaywhat/internal/model"
)

// SearchDebounce is how long school search waits for typing to settle.
const SearchDebounce = 150 * time.Millisecond

// SchoolSettingState is the school picker form. Grade and Class are the raw
// text of their fields.
type SchoolSettingState struct {
	School          string         `json:"school"`
	Grade           string         `json:"grade"`
	Class           string         `json:"class"`
	Major           string         `json:"major"`
	SelectedSchool  *model.School  `json:"selected_school,omitempty"`
	SchoolList      []model.School `json:"school_list"`
	SchoolMajorList []string       `json:"school_major_list"`
	IsLoading       bool           `json:"is_loading"`
	IsError         bool           `json:"is_error"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Finished        bool           `json:"finished"`
}

// TitleMessage prompts for the next missing field.
func (s SchoolSettingState) TitleMessage() string {
	switch {
	case s.School == "":
		return "학교 이름을 입력해주세요!"
	case s.Grade == "":
		return "몇학년 이신가요?"
	case s.Class == "":
		return "몇반 이신가요?"
	case s.Major == "" && len(s.SchoolMajorList) > 0:
		return "특정 학과에 다니시나요?"
	default:
		return "입력하신 정보가 정확한가요?"
	}
}

// NextButtonTitle labels the confirm button.
func (s SchoolSettingState) NextButtonTitle() string {
	if s.Major == "" || len(s.SchoolMajorList) == 0 {
		return "이대로하기"
	}
	return "확인"
}

type SchoolSettingAction interface {
	isSchoolSettingAction()
}

type (
	SchoolChanged    struct{ Query string }
	GradeChanged     struct{ Grade string }
	ClassChanged     struct{ Class string }
	MajorChanged     struct{ Major string }
	SchoolSelected   struct{ School model.School }
	SchoolNextTapped struct{}

	schoolListResult struct {
		list []model.School
		err  error
	}
	majorListResult struct {
		majors []string
		err    error
	}
	schoolSaved struct {
		err error
	}
)

func (SchoolChanged) isSchoolSettingAction()    {}
func (GradeChanged) isSchoolSettingAction()     {}
func (ClassChanged) isSchoolSettingAction()     {}
func (MajorChanged) isSchoolSettingAction()     {}
func (SchoolSelected) isSchoolSettingAction()   {}
func (SchoolNextTapped) isSchoolSettingAction() {}
func (schoolListResult) isSchoolSettingAction() {}
func (majorListResult) isSchoolSettingAction()  {}
func (schoolSaved) isSchoolSettingAction()      {}

const (
	schoolSearchID = "school.search"
	schoolMajorsID = "school.majors"
	schoolSaveID   = "school.save"
)

// SchoolSettingDeps are the collaborators of the school picker. Majors is
// optional.
type SchoolSettingDeps struct {
	Schools  SchoolFetcher
	Identity IdentityStore
	Majors   MajorWriter
	Debounce time.Duration
}

type SchoolSettingFeature struct {
	*Store[SchoolSettingState, SchoolSettingAction]
}

func NewSchoolSetting(deps SchoolSettingDeps) *SchoolSettingFeature {
	if deps.Debounce == 0 {
		deps.Debounce = SearchDebounce
	}
	initial := SchoolSettingState{
		SchoolList:      []model.School{},
		SchoolMajorList: []string{},
	}
	return &SchoolSettingFeature{Store: NewStore(initial, deps.reduce)}
}

func (d SchoolSettingDeps) reduce(state *SchoolSettingState, action SchoolSettingAction) []Effect[SchoolSettingAction] {
	switch a := action.(type) {
	case SchoolChanged:
		state.School = a.Query
		state.IsLoading = true
		query := strings.TrimSpace(a.Query)
		return []Effect[SchoolSettingAction]{Debounce(schoolSearchID, d.Debounce,
			func(ctx context.Context) (SchoolSettingAction, bool) {
				list, err := d.Schools.SearchSchools(ctx, query)
				if ctx.Err() != nil {
					return nil, false
				}
				return schoolListResult{list: list, err: err}, true
			})}

	case GradeChanged:
		state.Grade = a.Grade

	case ClassChanged:
		state.Class = a.Class

	case MajorChanged:
		state.Major = a.Major

	case schoolListResult:
		state.IsLoading = false
		if a.err != nil {
			state.IsError = true
			state.ErrorMessage = a.err.Error()
			return nil
		}
		state.IsError = false
		state.ErrorMessage = ""
		state.SchoolList = a.list

	case SchoolSelected:
		school := a.School
		state.SelectedSchool = &school
		state.School = school.Name
		state.Major = ""
		state.SchoolMajorList = []string{}
		return []Effect[SchoolSettingAction]{
			Cancel[SchoolSettingAction](schoolSearchID),
			{ID: schoolMajorsID, Run: d.fetchMajors(school)},
		}

	case majorListResult:
		if a.err != nil {
			state.IsError = true
			state.ErrorMessage = a.err.Error()
			return nil
		}
		state.SchoolMajorList = a.majors

	case SchoolNextTapped:
		if state.SelectedSchool == nil {
			return nil
		}
		id := model.SchoolIdentity{
			School: *state.SelectedSchool,
			Grade:  atoiOr(state.Grade, 1),
			Class:  atoiOr(state.Class, 1),
			Major:  strings.TrimSpace(state.Major),
		}
		return []Effect[SchoolSettingAction]{{
			ID: schoolSaveID,
			Run: func(context.Context) (SchoolSettingAction, bool) {
				_, err := d.Identity.UpdateSchool(id)
				return schoolSaved{err: err}, true
			},
		}}

	case schoolSaved:
		if a.err != nil {
			appLog.Error("school save failed", a.err)
			state.IsError = true
			state.ErrorMessage = a.err.Error()
			return nil
		}
		state.Finished = true
	}
	return nil
}

func (d SchoolSettingDeps) fetchMajors(school model.School) func(context.Context) (SchoolSettingAction, bool) {
	return func(ctx context.Context) (SchoolSettingAction, bool) {
		majors, err := d.Schools.FetchMajors(ctx, school.OrgCode, school.SchoolCode)
		if ctx.Err() != nil {
			return nil, false
		}
		if err != nil {
			return majorListResult{err: err}, true
		}
		if d.Majors != nil {
			// The cached list keeps a leading "" for "no major".
			cached := append([]string{""}, majors...)
			if err := d.Majors.ReplaceMajors(ctx, cached); err != nil {
				appLog.Error("major cache write failed", err, "school", school.Name)
			}
		}
		return majorListResult{majors: majors}, true
	}
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return def
	}
	return n
}
