package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/personasync/apiserver/types"
)

const (
	defaultAudioContentType = "audio/mpeg"
	maxAudioBytes           = 20 << 20
)

// ErrNarrationDisabled is returned by Speak when no TTS endpoint is set.
var ErrNarrationDisabled = errors.New("text-to-speech endpoint not configured")

// StatsSource yields dashboard aggregates. *StatsService satisfies it.
type StatsSource interface {
	Overview(ctx context.Context) (types.DashboardStats, error)
}

// NarrationService turns the dashboard aggregates into a spoken summary.
type NarrationService struct {
	stats    StatsSource
	endpoint string
	client   *http.Client
}

func NewNarrationService(stats StatsSource, endpoint string, timeout time.Duration) *NarrationService {
	return &NarrationService{
		stats:    stats,
		endpoint: strings.TrimSpace(endpoint),
		client:   &http.Client{Timeout: timeout},
	}
}

// Audio is a synthesized summary.
type Audio struct {
	ContentType string
	Data        []byte
}

type ttsRequest struct {
	Text string `json:"text"`
}

type ttsError struct {
	Error string `json:"error"`
}

// Summary renders the dashboard summary text.
func (n *NarrationService) Summary(ctx context.Context) (string, error) {
	stats, err := n.stats.Overview(ctx)
	if err != nil {
		return "", err
	}
	return SummaryText(stats), nil
}

// Speak sends the summary to the TTS endpoint and returns the audio.
func (n *NarrationService) Speak(ctx context.Context) (Audio, error) {
	if n.endpoint == "" {
		return Audio{}, ErrNarrationDisabled
	}
	text, err := n.Summary(ctx)
	if err != nil {
		return Audio{}, err
	}

	body, err := json.Marshal(ttsRequest{Text: text})
	if err != nil {
		return Audio{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return Audio{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return Audio{}, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return Audio{}, fmt.Errorf("read tts response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload ttsError
		if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
			return Audio{}, fmt.Errorf("tts: %s", payload.Error)
		}
		return Audio{}, fmt.Errorf("tts: failed to generate speech (status %d)", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultAudioContentType
	}
	return Audio{ContentType: contentType, Data: data}, nil
}

// SummaryText renders stats as the text read aloud on the dashboard.
func SummaryText(stats types.DashboardStats) string {
	var b strings.Builder
	b.WriteString("Welcome to your PersonaSync Dashboard Summary.\n\n")
	fmt.Fprintf(&b, "Our community has %d members with %d total survey responses.\n", stats.TotalUsers, stats.TotalResponses)

	if len(stats.Surveys) > 0 {
		top := make([]string, 0, 2)
		for _, s := range firstN(stats.Surveys, 2) {
			top = append(top, fmt.Sprintf("%s with %d completions", s.SurveyID, s.Completions))
		}
		fmt.Fprintf(&b, "The most popular surveys are %s.\n", strings.Join(top, " and "))
	}

	if len(stats.Regions) > 0 {
		countries := make([]string, 0, 3)
		for _, r := range firstN(stats.Regions, 3) {
			countries = append(countries, r.Country)
		}
		fmt.Fprintf(&b, "Our global community spans across %s.\n", strings.Join(countries, ", "))
	}

	fmt.Fprintf(&b, "Users have earned an average of %d XP points.\n\n", stats.AverageXP)
	b.WriteString("Thank you for being part of our growing community!")
	return b.String()
}

func firstN[T any](items []T, n int) []T {
	if len(items) < n {
		return items
	}
	return items[:n]
}
