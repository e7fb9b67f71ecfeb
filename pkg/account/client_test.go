package account

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/login", r.URL.Path)
		assert.Equal(t, "POST", r.Method)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user@example.com", body["email"])

		_, _ = w.Write([]byte(`{"token":"tok-123","user":{"id":1,"username":"alice","email":"user@example.com","points":200}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	session, err := client.Login(context.Background(), "user@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", session.Token)
	assert.Equal(t, "alice", session.User.Username)
	assert.Equal(t, 200, session.User.Points)
}

func TestLoginInvalidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Invalid credentials"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Login(context.Background(), "user@example.com", "wrong")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Invalid credentials", apiErr.Error())
}

func TestMeSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"user":{"id":1,"username":"alice"},"completions":[{"course_id":"intro-llm"}],"ratings":[]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	profile, err := client.Me(context.Background(), "tok-123")
	require.NoError(t, err)
	assert.Equal(t, "alice", profile.User.Username)
	require.Len(t, profile.Completions, 1)
	assert.Equal(t, "intro-llm", profile.Completions[0].CourseID)
}

func TestCompleteCourse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/complete_course", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "intro-llm", body["course_id"])
		_, _ = w.Write([]byte(`{"message":"Course completed","points_awarded":100,"user":{"id":1,"points":100}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	result, err := client.CompleteCourse(context.Background(), "tok", "intro-llm")
	require.NoError(t, err)
	assert.Equal(t, 100, result.PointsAwarded)
	assert.Equal(t, 100, result.User.Points)
}

func TestRateCourse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(5), body["rating"])
		_, _ = w.Write([]byte(`{"message":"Rating saved","avg_rating":4.5,"rating_count":2}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	result, err := client.RateCourse(context.Background(), "tok", "intro-llm", 5)
	require.NoError(t, err)
	require.NotNil(t, result.AvgRating)
	assert.Equal(t, 4.5, *result.AvgRating)
	assert.Equal(t, 2, result.RatingCount)
}

func TestCoursesWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[{"id":"intro-llm","title":"LLM 入门","avg_rating":null,"rating_count":0}]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	courses, err := client.Courses(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, "intro-llm", courses[0].ID)
	assert.Nil(t, courses[0].AvgRating)
	assert.False(t, courses[0].Completed)
}

func TestErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Courses(context.Background(), "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Error(), "500")
}
