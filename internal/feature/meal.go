package feature

import (
	"context"
	"time"

	appLog "todaywhat/internal/log"
	"todaywhat/internal/model"
	"todaywhat/internal/schedule"
)

// MealState is the meal screen snapshot.
type MealState struct {
	Phase     Phase       `json:"phase"`
	Meal      *model.Meal `json:"meal"`
	IsLoading bool        `json:"is_loading"`
	// ErrorMessage is set when the last fetch failed; Meal then holds the
	// empty fallback.
	ErrorMessage  string             `json:"error_message,omitempty"`
	AllergyList   []model.Allergy    `json:"allergy_list"`
	CurrentPart   model.MealPartTime `json:"current_part"`
	EffectiveDate time.Time          `json:"effective_date"`
}

// MealAction is one of MealOnAppear, MealRefresh, MealSettingsTapped or
// an internal response.
type MealAction interface {
	isMealAction()
}

type (
	MealOnAppear       struct{}
	MealRefresh        struct{}
	MealSettingsTapped struct{}

	mealResponse struct {
		meal model.Meal
		err  error
	}
	mealAllergiesLoaded struct {
		allergies []model.Allergy
	}
)

func (MealOnAppear) isMealAction()        {}
func (MealRefresh) isMealAction()         {}
func (MealSettingsTapped) isMealAction()  {}
func (mealResponse) isMealAction()        {}
func (mealAllergiesLoaded) isMealAction() {}

const (
	mealFetchID   = "meal.fetch"
	mealAllergyID = "meal.allergies"
)

// MealDeps are the collaborators of the meal reducer.
type MealDeps struct {
	Clock       schedule.Clock
	Preferences PreferenceSource
	Fetcher     MealFetcher
	Allergies   AllergyReader
}

// MealFeature is the running meal state machine.
type MealFeature struct {
	*Store[MealState, MealAction]
}

func NewMeal(deps MealDeps) *MealFeature {
	initial := MealState{
		Phase:       PhaseIdle,
		AllergyList: []model.Allergy{},
		CurrentPart: model.Breakfast,
	}
	return &MealFeature{Store: NewStore(initial, deps.reduce)}
}

// Refresh re-resolves the date and refetches.
func (f *MealFeature) Refresh(context.Context) {
	f.Send(MealRefresh{})
}

func (d MealDeps) reduce(state *MealState, action MealAction) []Effect[MealAction] {
	switch a := action.(type) {
	case MealOnAppear, MealRefresh:
		// Allergies are re-read too since they can change between loads.
		effects := d.startFetch(state)
		if d.Allergies != nil {
			effects = append(effects, Effect[MealAction]{ID: mealAllergyID, Run: d.loadAllergies})
		}
		return effects

	case mealResponse:
		state.IsLoading = false
		if a.err != nil {
			empty := model.EmptyMeal()
			state.Meal = &empty
			state.Phase = PhaseFailed
			state.ErrorMessage = a.err.Error()
			return nil
		}
		meal := a.meal
		state.Meal = &meal
		state.Phase = PhaseLoaded
		state.ErrorMessage = ""
		// The highlighted part follows the real clock, not the fetched date.
		state.CurrentPart = model.MealPartTimeAt(d.Clock.Now())

	case mealAllergiesLoaded:
		state.AllergyList = a.allergies

	case MealSettingsTapped:
		// Navigation is owned by the home feature.
	}
	return nil
}

func (d MealDeps) startFetch(state *MealState) []Effect[MealAction] {
	date := schedule.ResolveMeal(d.Clock.Now(), d.Preferences.Preferences())
	state.IsLoading = true
	state.Phase = PhaseLoading
	state.EffectiveDate = date

	return []Effect[MealAction]{{
		ID: mealFetchID,
		Run: func(ctx context.Context) (MealAction, bool) {
			meal, err := d.Fetcher.FetchMeal(ctx, date)
			if err != nil {
				if ctx.Err() != nil {
					return nil, false
				}
				appLog.Error("meal fetch failed", err, "date", date.Format("2006-01-02"))
			}
			return mealResponse{meal: meal, err: err}, true
		},
	}}
}

func (d MealDeps) loadAllergies(ctx context.Context) (MealAction, bool) {
	allergies, err := d.Allergies.ReadAllergies(ctx)
	if err != nil {
		// A broken allergy table only loses highlighting.
		appLog.Error("allergy read failed", err)
		return nil, false
	}
	return mealAllergiesLoaded{allergies: allergies}, true
}
