package feature

import (
	"context"
	"time"

	"todaywhat/internal/config"
	"todaywhat/internal/model"
)

// MaxPeriods is how many fetched periods a day shows.
const MaxPeriods = 7

// Phase is the lifecycle of a data-backed screen.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseLoaded  Phase = "loaded"
	PhaseFailed  Phase = "failed"
)

// PreferenceSource hands out read-only preference snapshots.
type PreferenceSource interface {
	Preferences() config.Preferences
}

// PreferenceStore also persists preference changes.
type PreferenceStore interface {
	PreferenceSource
	UpdatePreferences(fn func(*config.Preferences)) (config.Preferences, error)
}

// IdentitySource yields the selected school identity.
type IdentitySource interface {
	School() model.SchoolIdentity
}

// IdentityStore also persists a new school identity.
type IdentityStore interface {
	IdentitySource
	UpdateSchool(id model.SchoolIdentity) (model.SchoolIdentity, error)
}

// MealFetcher returns the meal of a date.
type MealFetcher interface {
	FetchMeal(ctx context.Context, date time.Time) (model.Meal, error)
}

// TimeTableFetcher returns the periods of a date.
type TimeTableFetcher interface {
	FetchTimeTable(ctx context.Context, date time.Time) ([]model.TimeTable, error)
}

// SchoolFetcher searches schools and their majors.
type SchoolFetcher interface {
	SearchSchools(ctx context.Context, name string) ([]model.School, error)
	FetchMajors(ctx context.Context, orgCode, schoolCode string) ([]string, error)
}

// OverrideReader reads the user's manual timetable.
type OverrideReader interface {
	ReadOverrides(ctx context.Context) ([]model.ManualOverride, error)
}

// AllergyReader reads the selected allergens.
type AllergyReader interface {
	ReadAllergies(ctx context.Context) ([]model.Allergy, error)
}

// MajorWriter caches the selected school's majors.
type MajorWriter interface {
	ReplaceMajors(ctx context.Context, majors []string) error
}

// VersionChecker reports the latest published app version for a platform.
type VersionChecker interface {
	LatestVersion(ctx context.Context, platform string) (string, error)
}

// NoticeFetcher returns the current emergency notice, nil when none.
type NoticeFetcher interface {
	FetchNotice(ctx context.Context) (*model.Notice, error)
}
