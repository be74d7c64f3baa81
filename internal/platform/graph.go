package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// GraphClient implements Client against the Instagram Graph API
type GraphClient struct {
	baseURL string
	client  *resty.Client
}

// Ensure GraphClient implements Client
var _ Client = (*GraphClient)(nil)

type graphError struct {
	Error *struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
	} `json:"error"`
}

type graphInsightsResponse struct {
	Data []graphMetric `json:"data"`
}

type graphMetric struct {
	Name   string `json:"name"`
	Values []struct {
		Value json.RawMessage `json:"value"`
	} `json:"values"`
	TotalValue *graphTotalValue `json:"total_value"`
}

type graphTotalValue struct {
	Value      json.RawMessage `json:"value"`
	Breakdowns []struct {
		Results []struct {
			DimensionValues []string `json:"dimension_values"`
			Value           int      `json:"value"`
		} `json:"results"`
	} `json:"breakdowns"`
}

type graphSendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

type graphQuickReply struct {
	ContentType string `json:"content_type"`
	Title       string `json:"title"`
	Payload     string `json:"payload"`
}

// NewGraphClient creates a Graph API client with a per-call timeout
func NewGraphClient(baseURL string, timeout time.Duration) *GraphClient {
	return &GraphClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("User-Agent", "Mention-Lifecycle/1.0"),
	}
}

func (g *GraphClient) StoryExists(ctx context.Context, storyID, token string) VerificationResult {
	if token == "" {
		return ResultTokenInvalid
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"fields":       "id,media_type,timestamp",
			"access_token": token,
		}).
		Get(fmt.Sprintf("%s/%s", g.baseURL, storyID))
	if err != nil {
		logrus.Debugf("Story %s existence check failed in transport: %v", storyID, err)
		return ResultNetworkError
	}

	if resp.StatusCode() == http.StatusOK {
		return ResultExists
	}

	return classifyGraphError(resp.StatusCode(), resp.Body())
}

// classifyGraphError maps a failed Graph response onto a verification outcome
func classifyGraphError(status int, body []byte) VerificationResult {
	var gerr graphError
	code := 0
	if err := json.Unmarshal(body, &gerr); err == nil && gerr.Error != nil {
		code = gerr.Error.Code
	}

	switch {
	case status == http.StatusTooManyRequests, code == 4, code == 17, code == 32, code == 613:
		return ResultRateLimited
	case code == 190, status == http.StatusUnauthorized:
		return ResultTokenInvalid
	case code == 10, code >= 200 && code <= 299, status == http.StatusForbidden:
		return ResultPrivateOrNoPermission
	case code == 100, status == http.StatusNotFound:
		return ResultDeleted
	default:
		return ResultNetworkError
	}
}

func (g *GraphClient) FetchStoryInsights(ctx context.Context, storyID, token string) (*StoryInsights, error) {
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"metric":       "reach,replies,shares,profile_visits,total_interactions,views",
			"access_token": token,
		}).
		Get(fmt.Sprintf("%s/%s/insights", g.baseURL, storyID))
	if err != nil {
		return nil, fmt.Errorf("insights request for %s: %w", storyID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("insights for %s returned status %d (%s)", storyID, resp.StatusCode(), classifyGraphError(resp.StatusCode(), resp.Body()))
	}

	var parsed graphInsightsResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("decode insights for %s: %w", storyID, err)
	}
	if len(parsed.Data) == 0 {
		return nil, nil
	}

	insights := &StoryInsights{Raw: json.RawMessage(resp.Body())}
	for _, metric := range parsed.Data {
		value := metric.value()
		switch metric.Name {
		case "reach":
			insights.Reach = value
		case "replies":
			insights.Replies = value
		case "shares":
			insights.Shares = value
		case "profile_visits":
			insights.ProfileVisits = value
		case "total_interactions":
			insights.TotalInteractions = value
		case "views", "impressions":
			insights.Views = value
		}
	}

	navigation, err := g.fetchNavigation(ctx, storyID, token)
	if err != nil {
		logrus.Debugf("Navigation breakdown unavailable for story %s: %v", storyID, err)
	} else {
		insights.Navigation = navigation
	}

	return insights, nil
}

func (g *GraphClient) fetchNavigation(ctx context.Context, storyID, token string) (map[string]int, error) {
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"metric":       "navigation",
			"breakdown":    "story_navigation_action_type",
			"metric_type":  "total_value",
			"access_token": token,
		}).
		Get(fmt.Sprintf("%s/%s/insights", g.baseURL, storyID))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode())
	}

	var parsed graphInsightsResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, err
	}

	navigation := make(map[string]int)
	for _, metric := range parsed.Data {
		if metric.TotalValue == nil {
			continue
		}
		for _, breakdown := range metric.TotalValue.Breakdowns {
			for _, result := range breakdown.Results {
				if len(result.DimensionValues) > 0 {
					navigation[result.DimensionValues[0]] += result.Value
				}
			}
		}
	}
	return navigation, nil
}

func (m graphMetric) value() int {
	var raw json.RawMessage
	if m.TotalValue != nil && len(m.TotalValue.Value) > 0 {
		raw = m.TotalValue.Value
	} else if len(m.Values) > 0 {
		raw = m.Values[0].Value
	}
	if len(raw) == 0 {
		return 0
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		logrus.Debugf("Ignoring non-numeric value for metric %s: %s", m.Name, raw)
		return 0
	}
	if i, err := n.Int64(); err == nil {
		return int(i)
	}
	if f, err := n.Float64(); err == nil {
		return int(math.Round(f))
	}
	logrus.Debugf("Ignoring out of range value for metric %s: %s", m.Name, raw)
	return 0
}

func (g *GraphClient) StoryPermalink(ctx context.Context, storyID, token string) (string, error) {
	var body struct {
		Permalink string `json:"permalink"`
	}
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"fields":       "permalink",
			"access_token": token,
		}).
		SetResult(&body).
		Get(fmt.Sprintf("%s/%s", g.baseURL, storyID))
	if err != nil {
		return "", fmt.Errorf("permalink request for %s: %w", storyID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("permalink for %s returned status %d", storyID, resp.StatusCode())
	}
	if body.Permalink == "" {
		return "", fmt.Errorf("permalink for %s is empty", storyID)
	}
	return body.Permalink, nil
}

func (g *GraphClient) SendMessage(ctx context.Context, recipientID, text, token string) (string, error) {
	return g.send(ctx, recipientID, map[string]interface{}{"text": text}, token)
}

func (g *GraphClient) SendMessageWithQuickReplies(ctx context.Context, recipientID, text string, options []QuickReply, token string) (string, error) {
	if len(options) == 0 {
		return g.SendMessage(ctx, recipientID, text, token)
	}
	if len(options) > MaxQuickReplies {
		return "", fmt.Errorf("at most %d quick replies are allowed, got %d", MaxQuickReplies, len(options))
	}

	replies := make([]graphQuickReply, 0, len(options))
	for _, option := range options {
		replies = append(replies, graphQuickReply{
			ContentType: "text",
			Title:       TruncateTitle(option.Title),
			Payload:     option.Payload,
		})
	}

	return g.send(ctx, recipientID, map[string]interface{}{
		"text":          text,
		"quick_replies": replies,
	}, token)
}

func (g *GraphClient) send(ctx context.Context, recipientID string, message map[string]interface{}, token string) (string, error) {
	var result graphSendResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("access_token", token).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{
			"recipient": map[string]string{"id": recipientID},
			"message":   message,
		}).
		SetResult(&result).
		Post(g.baseURL + "/me/messages")
	if err != nil {
		return "", fmt.Errorf("send message to %s: %w", recipientID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("send message to %s returned status %d: %s", recipientID, resp.StatusCode(), string(resp.Body()))
	}
	return result.MessageID, nil
}

// TruncateTitle shortens a quick-reply title to the platform limit
func TruncateTitle(title string) string {
	runes := []rune(strings.TrimSpace(title))
	if len(runes) <= MaxQuickReplyTitle {
		return string(runes)
	}
	return string(runes[:MaxQuickReplyTitle])
}
