package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func TestGraphClient_StoryExists(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected VerificationResult
	}{
		{"story live", http.StatusOK, `{"id":"s1","media_type":"VIDEO"}`, ResultExists},
		{"story gone", http.StatusBadRequest, `{"error":{"message":"Unsupported get request","code":100,"error_subcode":33}}`, ResultDeleted},
		{"not found", http.StatusNotFound, `{}`, ResultDeleted},
		{"expired token", http.StatusBadRequest, `{"error":{"message":"Session has expired","code":190}}`, ResultTokenInvalid},
		{"private account", http.StatusBadRequest, `{"error":{"message":"Permissions error","code":10}}`, ResultPrivateOrNoPermission},
		{"app rate limit", http.StatusBadRequest, `{"error":{"message":"Application request limit reached","code":4}}`, ResultRateLimited},
		{"too many requests", http.StatusTooManyRequests, `{}`, ResultRateLimited},
		{"server error", http.StatusBadGateway, `oops`, ResultNetworkError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/s1", r.URL.Path)
				assert.Equal(t, "tok", r.URL.Query().Get("access_token"))
				writeJSON(w, tt.status, tt.body)
			}))
			defer server.Close()

			client := NewGraphClient(server.URL, 5*time.Second)
			assert.Equal(t, tt.expected, client.StoryExists(context.Background(), "s1", "tok"))
		})
	}
}

func TestGraphClient_StoryExists_TimeoutIsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeJSON(w, http.StatusOK, `{"id":"s1"}`)
	}))
	defer server.Close()

	client := NewGraphClient(server.URL, 20*time.Millisecond)
	assert.Equal(t, ResultNetworkError, client.StoryExists(context.Background(), "s1", "tok"))
}

func TestGraphClient_StoryExists_EmptyToken(t *testing.T) {
	client := NewGraphClient("http://127.0.0.1:1", time.Second)
	assert.Equal(t, ResultTokenInvalid, client.StoryExists(context.Background(), "s1", ""))
}

func TestGraphClient_FetchStoryInsights(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("metric") == "navigation" {
			writeJSON(w, http.StatusOK, `{"data":[{"name":"navigation","total_value":{"value":9,"breakdowns":[{"results":[
				{"dimension_values":["tap_forward"],"value":6},
				{"dimension_values":["swipe_forward"],"value":3}]}]}}]}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"data":[
			{"name":"reach","values":[{"value":120}]},
			{"name":"replies","values":[{"value":4}]},
			{"name":"shares","values":[{"value":2}]},
			{"name":"profile_visits","values":[{"value":7}]},
			{"name":"total_interactions","values":[{"value":13}]},
			{"name":"views","total_value":{"value":300}}]}`)
	}))
	defer server.Close()

	client := NewGraphClient(server.URL, 5*time.Second)
	insights, err := client.FetchStoryInsights(context.Background(), "s1", "tok")
	require.NoError(t, err)
	require.NotNil(t, insights)
	assert.Equal(t, 120, insights.Reach)
	assert.Equal(t, 4, insights.Replies)
	assert.Equal(t, 2, insights.Shares)
	assert.Equal(t, 7, insights.ProfileVisits)
	assert.Equal(t, 13, insights.TotalInteractions)
	assert.Equal(t, 300, insights.Views)
	assert.Equal(t, map[string]int{"tap_forward": 6, "swipe_forward": 3}, insights.Navigation)
	assert.NotEmpty(t, insights.Raw)
}

func TestGraphClient_FetchStoryInsights_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, `{"error":{"code":100}}`)
	}))
	defer server.Close()

	client := NewGraphClient(server.URL, 5*time.Second)
	insights, err := client.FetchStoryInsights(context.Background(), "s1", "tok")
	assert.Error(t, err)
	assert.Nil(t, insights)
}

func TestGraphClient_SendMessageWithQuickReplies(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/me/messages", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		writeJSON(w, http.StatusOK, `{"recipient_id":"u1","message_id":"mid.42"}`)
	}))
	defer server.Close()

	client := NewGraphClient(server.URL, 5*time.Second)
	id, err := client.SendMessageWithQuickReplies(context.Background(), "u1", "Which party?", []QuickReply{
		{Title: "A very long party name that overflows", Payload: "party_1_e1"},
		{Title: "Neon", Payload: "party_2_e2"},
	}, "tok")
	require.NoError(t, err)
	assert.Equal(t, "mid.42", id)

	message := received["message"].(map[string]interface{})
	replies := message["quick_replies"].([]interface{})
	require.Len(t, replies, 2)
	first := replies[0].(map[string]interface{})
	assert.Equal(t, "text", first["content_type"])
	assert.Equal(t, "party_1_e1", first["payload"])
	assert.Len(t, []rune(first["title"].(string)), MaxQuickReplyTitle)
}

func TestGraphClient_SendMessageWithQuickReplies_TooMany(t *testing.T) {
	client := NewGraphClient("http://127.0.0.1:1", time.Second)
	options := make([]QuickReply, MaxQuickReplies+1)
	_, err := client.SendMessageWithQuickReplies(context.Background(), "u1", "x", options, "tok")
	assert.Error(t, err)
}

func TestGraphClient_StoryPermalink(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"permalink":"https://www.instagram.com/stories/dj/1/"}`)
	}))
	defer server.Close()

	client := NewGraphClient(server.URL, 5*time.Second)
	link, err := client.StoryPermalink(context.Background(), "1", "tok")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, "https://www.instagram.com/stories/"))
}

func TestTruncateTitle(t *testing.T) {
	assert.Equal(t, "Short", TruncateTitle("  Short "))
	assert.Equal(t, strings.Repeat("Ñ", 20), TruncateTitle(strings.Repeat("Ñ", 25)))
}

func TestVerificationResult_Classes(t *testing.T) {
	assert.True(t, ResultRateLimited.Transient())
	assert.True(t, ResultNetworkError.Transient())
	assert.False(t, ResultDeleted.Transient())
	assert.True(t, ResultExists.PublicAccount())
	assert.True(t, ResultDeleted.PublicAccount())
	assert.False(t, ResultPrivateOrNoPermission.PublicAccount())
}

func TestGraphClient_Hashtags(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ig-1", r.URL.Query().Get("user_id"))
		switch r.URL.Path {
		case "/ig_hashtag_search":
			assert.Equal(t, "neonnight", r.URL.Query().Get("q"))
			writeJSON(w, http.StatusOK, `{"data":[{"id":"17843853986012965"}]}`)
		case "/17843853986012965/recent_media":
			assert.Equal(t, "25", r.URL.Query().Get("limit"))
			writeJSON(w, http.StatusOK, `{"data":[
				{"id":"m1","caption":"see you at #neonnight","media_type":"IMAGE","permalink":"https://www.instagram.com/p/m1/","timestamp":"2026-10-02T21:15:00+0000"},
				{"id":"m2","timestamp":"yesterday"}]}`)
		default:
			writeJSON(w, http.StatusNotFound, `{}`)
		}
	}))
	defer server.Close()

	client := NewGraphClient(server.URL, 5*time.Second)
	id, err := client.SearchHashtag(context.Background(), "ig-1", "#NeonNight", "tok")
	require.NoError(t, err)
	assert.Equal(t, "17843853986012965", id)

	media, err := client.RecentHashtagMedia(context.Background(), id, "ig-1", "tok", 25)
	require.NoError(t, err)
	require.Len(t, media, 1)
	assert.Equal(t, "m1", media[0].ID)
	assert.Equal(t, time.Date(2026, 10, 2, 21, 15, 0, 0, time.UTC), media[0].Timestamp)
}

func TestGraphClient_SearchHashtag_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"data":[]}`)
	}))
	defer server.Close()

	client := NewGraphClient(server.URL, 5*time.Second)
	_, err := client.SearchHashtag(context.Background(), "ig-1", "nothing", "tok")
	assert.Error(t, err)
}

func TestGraphMetric_Value(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "integer", body: `{"name":"reach","values":[{"value":120}]}`, want: 120},
		{name: "total value wins", body: `{"name":"views","values":[{"value":1}],"total_value":{"value":300}}`, want: 300},
		{name: "float is rounded", body: `{"name":"reach","values":[{"value":12.6}]}`, want: 13},
		{name: "exponent", body: `{"name":"reach","values":[{"value":1.2e2}]}`, want: 120},
		{name: "object is ignored", body: `{"name":"reach","values":[{"value":{"a":1}}]}`, want: 0},
		{name: "missing", body: `{"name":"reach","values":[]}`, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m graphMetric
			require.NoError(t, json.Unmarshal([]byte(tt.body), &m))
			assert.Equal(t, tt.want, m.value())
		})
	}
}
