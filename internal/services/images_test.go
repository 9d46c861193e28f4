package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnold/goalcoach-api/internal/models"
)

func TestOpenAIImageGeneratorStoresURL(t *testing.T) {
	db := testDB(t)
	goal := newGoal(t, db)

	var got imageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"url":"https://cdn.example.com/goal-images/abc.png"}]}`))
	}))
	defer srv.Close()

	gen := &OpenAIImageGenerator{Endpoint: srv.URL, APIKey: "key-1", DB: db, Client: srv.Client()}
	url, err := gen.GenerateGoalImage(context.Background(), goal.ID, goal.Title)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/goal-images/abc.png", url)
	assert.Equal(t, "url", got.ResponseFormat)
	assert.Equal(t, 1, got.N)
	assert.Contains(t, got.Prompt, goal.Title)

	var stored models.Goal
	require.NoError(t, db.First(&stored, "id = ?", goal.ID).Error)
	assert.Equal(t, url, *stored.ImageURL)
	assert.False(t, stored.ImageLoading)
}

func TestOpenAIImageGeneratorErrors(t *testing.T) {
	db := testDB(t)
	goal := newGoal(t, db)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"content policy"}}`))
	}))
	defer srv.Close()

	gen := &OpenAIImageGenerator{Endpoint: srv.URL, DB: db, Client: srv.Client()}
	_, err := gen.GenerateGoalImage(context.Background(), goal.ID, goal.Title)
	assert.ErrorContains(t, err, "content policy")

	var stored models.Goal
	require.NoError(t, db.First(&stored, "id = ?", goal.ID).Error)
	assert.True(t, stored.ImageLoading, "a failed generation leaves the row to the poller")
}
