package neis

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todaywhat/internal/model"
)

type staticIdentity struct{ id model.SchoolIdentity }

func (s staticIdentity) School() model.SchoolIdentity { return s.id }

var testIdentity = staticIdentity{id: model.SchoolIdentity{
	School: model.School{
		Name:       "테스트고등학교",
		OrgCode:    "G10",
		SchoolCode: "7430310",
		SchoolType: model.SchoolHigh,
	},
	Grade: 2,
	Class: 4,
	Major: "소프트웨어개발과",
}}

const mealBody = `{"mealServiceDietInfo":[
 {"head":[{"list_total_count":2},{"RESULT":{"CODE":"INFO-000","MESSAGE":"정상 처리되었습니다."}}]},
 {"row":[
  {"MMEAL_SC_CODE":"1","DDISH_NM":"찰현미밥 <br/>쇠고기미역국 (5.6.16.)<br/>배추김치 (9.13.)","CAL_INFO":"650.2 Kcal"},
  {"MMEAL_SC_CODE":"2","DDISH_NM":"카레라이스 (1.2.5.6.)<br/>우유 (2.)","CAL_INFO":"812.3 Kcal"}
 ]}]}`

const noDataBody = `{"RESULT":{"CODE":"INFO-200","MESSAGE":"해당하는 데이터가 없습니다."}}`

const timeTableBody = `{"hisTimetable":[
 {"head":[{"list_total_count":4},{"RESULT":{"CODE":"INFO-000","MESSAGE":"정상 처리되었습니다."}}]},
 {"row":[
  {"PERIO":"2","ITRT_CNTNT":"수학"},
  {"PERIO":"1","ITRT_CNTNT":"국어"},
  {"PERIO":"3","ITRT_CNTNT":" 영어 "},
  {"PERIO":"3","ITRT_CNTNT":"영어"}
 ]}]}`

const schoolBody = `{"schoolInfo":[
 {"head":[{"list_total_count":3},{"RESULT":{"CODE":"INFO-000","MESSAGE":"정상 처리되었습니다."}}]},
 {"row":[
  {"ATPT_OFCDC_SC_CODE":"G10","SD_SCHUL_CODE":"7430310","SCHUL_NM":"대덕소프트웨어마이스터고등학교","SCHUL_KND_SC_NM":"고등학교","ORG_RDNMA":"대전광역시 유성구 가정북로 76"},
  {"ATPT_OFCDC_SC_CODE":"G10","SD_SCHUL_CODE":"7431001","SCHUL_NM":"대덕중학교","SCHUL_KND_SC_NM":"중학교"},
  {"ATPT_OFCDC_SC_CODE":"G10","SD_SCHUL_CODE":"7439999","SCHUL_NM":"대덕특수학교","SCHUL_KND_SC_NM":"특수학교"}
 ]}]}`

const majorBody = `{"schoolMajorinfo":[
 {"head":[{"list_total_count":3},{"RESULT":{"CODE":"INFO-000","MESSAGE":"정상 처리되었습니다."}}]},
 {"row":[{"DDDEP_NM":"소프트웨어개발과"},{"DDDEP_NM":"임베디드소프트웨어과"},{"DDDEP_NM":"소프트웨어개발과"}]}]}`

func newTestClient(t *testing.T, h http.HandlerFunc, cacheDir string) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Options{BaseURL: srv.URL, APIKey: "secret", CacheDir: cacheDir}, testIdentity)
}

func TestFetchMealParsesParts(t *testing.T) {
	var gotQuery map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mealServiceDietInfo", r.URL.Path)
		q := r.URL.Query()
		gotQuery = map[string]string{
			"KEY":  q.Get("KEY"),
			"org":  q.Get("ATPT_OFCDC_SC_CODE"),
			"code": q.Get("SD_SCHUL_CODE"),
			"ymd":  q.Get("MLSV_YMD"),
			"type": q.Get("Type"),
		}
		_, _ = w.Write([]byte(mealBody))
	}, "")

	meal, err := c.FetchMeal(context.Background(), time.Date(2024, 3, 6, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"KEY": "secret", "org": "G10", "code": "7430310", "ymd": "20240306", "type": "json",
	}, gotQuery)
	assert.Equal(t, []string{"찰현미밥", "쇠고기미역국 (5.6.16.)", "배추김치 (9.13.)"}, meal.Breakfast.Meals)
	assert.InDelta(t, 650.2, meal.Breakfast.Cal, 0.001)
	assert.Equal(t, []string{"카레라이스 (1.2.5.6.)", "우유 (2.)"}, meal.Lunch.Meals)
	assert.InDelta(t, 812.3, meal.Lunch.Cal, 0.001)
	assert.Empty(t, meal.Dinner.Meals)
	assert.Zero(t, meal.Dinner.Cal)
}

func TestFetchMealNoDataIsEmptyMeal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(noDataBody))
	}, "")

	meal, err := c.FetchMeal(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.EmptyMeal(), meal)
}

func TestFetchMealRequiresSchool(t *testing.T) {
	c := NewClient(Options{BaseURL: "http://127.0.0.1:1"}, staticIdentity{})
	_, err := c.FetchMeal(context.Background(), time.Now())
	assert.ErrorIs(t, err, ErrSchoolNotSet)
}

func TestFetchTimeTableSortsAndDedupes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/hisTimetable", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "2", q.Get("GRADE"))
		assert.Equal(t, "4", q.Get("CLASS_NM"))
		assert.Equal(t, "소프트웨어개발과", q.Get("DDDEP_NM"))
		assert.Equal(t, "20240306", q.Get("ALL_TI_YMD"))
		_, _ = w.Write([]byte(timeTableBody))
	}, "")

	tt, err := c.FetchTimeTable(context.Background(), time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []model.TimeTable{
		{Period: 1, Content: "국어"},
		{Period: 2, Content: "수학"},
		{Period: 3, Content: "영어"},
	}, tt)
}

func TestTimeTableServiceBySchoolType(t *testing.T) {
	assert.Equal(t, "elsTimetable", timeTableService(model.SchoolElementary))
	assert.Equal(t, "misTimetable", timeTableService(model.SchoolMiddle))
	assert.Equal(t, "hisTimetable", timeTableService(model.SchoolHigh))
}

func TestSearchSchoolsFiltersUnsupportedKinds(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "대덕", r.URL.Query().Get("SCHUL_NM"))
		_, _ = w.Write([]byte(schoolBody))
	}, "")

	schools, err := c.SearchSchools(context.Background(), " 대덕 ")
	require.NoError(t, err)
	require.Len(t, schools, 2)
	assert.Equal(t, model.SchoolHigh, schools[0].SchoolType)
	assert.Equal(t, "대전광역시 유성구 가정북로 76", schools[0].Address)
	assert.Equal(t, model.SchoolMiddle, schools[1].SchoolType)
}

func TestSearchSchoolsEmptyQuerySkipsRequest(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}, "")
	schools, err := c.SearchSchools(context.Background(), "  ")
	require.NoError(t, err)
	assert.Empty(t, schools)
	assert.Zero(t, hits.Load())
}

func TestFetchMajorsDedupes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(majorBody))
	}, "")
	majors, err := c.FetchMajors(context.Background(), "G10", "7430310")
	require.NoError(t, err)
	assert.Equal(t, []string{"소프트웨어개발과", "임베디드소프트웨어과"}, majors)
}

func TestAPIErrorWithoutCacheIsReturned(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"RESULT":{"CODE":"ERROR-337","MESSAGE":"일별 트래픽 제한을 넘은 호출입니다."}}`))
	}, "")

	_, err := c.FetchMeal(context.Background(), time.Now())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "ERROR-337", apiErr.Code)
}

func TestFallsBackToCachedBody(t *testing.T) {
	var fail atomic.Bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(mealBody))
	}, t.TempDir())

	date := time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)
	first, err := c.FetchMeal(context.Background(), date)
	require.NoError(t, err)

	fail.Store(true)
	second, err := c.FetchMeal(context.Background(), date)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// A different date has no cache entry to fall back to.
	_, err = c.FetchMeal(context.Background(), date.AddDate(0, 0, 1))
	assert.Error(t, err)
}

func TestConcurrentIdenticalRequestsShareRoundTrip(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(mealBody))
	}, "")

	date := time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.FetchMeal(context.Background(), date)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
}

func TestCancelledCallerDoesNotFailSharedRequest(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write([]byte(mealBody))
	}, "")

	date := time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)
	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.FetchMeal(firstCtx, date)
		firstErr <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	meal, err := c.FetchMeal(context.Background(), date)
	require.NoError(t, err)
	assert.Equal(t, []string{"카레라이스 (1.2.5.6.)", "우유 (2.)"}, meal.Lunch.Meals)
	assert.Equal(t, int32(1), hits.Load())
}

func TestRedactURLHidesKey(t *testing.T) {
	got := redactURL("https://open.neis.go.kr/hub/schoolInfo?KEY=abc&SCHUL_NM=x")
	assert.NotContains(t, got, "abc")
	assert.Equal(t, "https://open.neis.go.kr/hub/schoolInfo?...(redacted)", got)
}

func TestParseCalories(t *testing.T) {
	assert.InDelta(t, 812.3, parseCalories("812.3 Kcal"), 0.0001)
	assert.Zero(t, parseCalories(""))
	assert.Zero(t, parseCalories("N/A"))
}
