package neis

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"todaywhat/internal/model"
)

const mealService = "mealServiceDietInfo"

type mealRow struct {
	MealCode string `json:"MMEAL_SC_CODE"`
	Dishes   string `json:"DDISH_NM"`
	CalInfo  string `json:"CAL_INFO"`
}

// FetchMeal returns the three meal parts served on date. A day without
// any meal (holidays, vacation) yields EmptyMeal and no error.
func (c *Client) FetchMeal(ctx context.Context, date time.Time) (model.Meal, error) {
	id, err := c.identityOrErr()
	if err != nil {
		return model.Meal{}, err
	}

	params := url.Values{}
	params.Set("ATPT_OFCDC_SC_CODE", id.School.OrgCode)
	params.Set("SD_SCHUL_CODE", id.School.SchoolCode)
	params.Set("MLSV_YMD", ymd(date))

	body, err := c.get(ctx, mealService, params)
	if errors.Is(err, ErrNoData) {
		return model.EmptyMeal(), nil
	}
	if err != nil {
		return model.Meal{}, err
	}
	return parseMeal(body)
}

func parseMeal(body []byte) (model.Meal, error) {
	rows, err := decodeRows[mealRow](body, mealService)
	if errors.Is(err, ErrNoData) {
		return model.EmptyMeal(), nil
	}
	if err != nil {
		return model.Meal{}, err
	}

	meal := model.EmptyMeal()
	for _, r := range rows {
		part := model.MealPart{
			Meals: splitDishes(r.Dishes),
			Cal:   parseCalories(r.CalInfo),
		}
		switch strings.TrimSpace(r.MealCode) {
		case "1":
			meal.Breakfast = part
		case "2":
			meal.Lunch = part
		case "3":
			meal.Dinner = part
		}
	}
	return meal, nil
}

// splitDishes splits DDISH_NM on its <br/> separators.
func splitDishes(s string) []string {
	s = strings.NewReplacer("<br/>", "\n", "<br />", "\n", "<br>", "\n").Replace(s)
	out := make([]string, 0)
	for _, d := range strings.Split(s, "\n") {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// parseCalories reads "812.3 Kcal" as 812.3; anything unparsable is 0.
func parseCalories(s string) float64 {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return v
}
