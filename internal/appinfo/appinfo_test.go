package appinfo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1629567018", r.URL.Query().Get("id"))
		assert.Equal(t, "kr", r.URL.Query().Get("country"))
		_, _ = w.Write([]byte(`{"resultCount":1,"results":[{"version":"3.2.1","trackName":"오늘뭐임"}]}`))
	}))
	defer srv.Close()

	c := NewVersionClient(srv.Client(), srv.URL, "kr", map[string]string{"iOS": "1629567018"})
	v, err := c.LatestVersion(context.Background(), "ios")
	require.NoError(t, err)
	assert.Equal(t, "3.2.1", v)

	_, err = c.LatestVersion(context.Background(), "android")
	assert.ErrorIs(t, err, ErrUnknownPlatform)
}

func TestLatestVersionNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"resultCount":0,"results":[]}`))
	}))
	defer srv.Close()

	c := NewVersionClient(srv.Client(), srv.URL, "", map[string]string{"ios": "1"})
	v, err := c.LatestVersion(context.Background(), "ios")
	require.NoError(t, err)
	assert.Equal(t, "", v)
}

func TestFetchNotice(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/notice", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"n1","title":"서버 점검","content":"오늘 밤 점검합니다","created_at":"2024-03-06T10:00:00+09:00"}`))
	})
	mux.HandleFunc("/null", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`null`))
	})
	mux.HandleFunc("/none", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "oops", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	n, err := NewNoticeClient(srv.Client(), srv.URL+"/notice").FetchNotice(context.Background())
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, "서버 점검", n.Title)

	for _, path := range []string{"/null", "/none"} {
		n, err := NewNoticeClient(srv.Client(), srv.URL+path).FetchNotice(context.Background())
		require.NoError(t, err, path)
		assert.Nil(t, n, path)
	}

	_, err = NewNoticeClient(srv.Client(), srv.URL+"/broken").FetchNotice(context.Background())
	assert.Error(t, err)
}
