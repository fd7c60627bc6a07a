package types

import "time"

// Channels on which profile events are published.
const (
	ChannelUserCreated     = "personasync.user.created"
	ChannelSurveyCompleted = "personasync.survey.completed"
)

// UserCreatedEvent is published after a new profile is stored.
type UserCreatedEvent struct {
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// SurveyCompletedEvent is published after a first-time survey completion
// has been persisted. Repeated completions do not produce an event.
type SurveyCompletedEvent struct {
	Username    string    `json:"username"`
	SurveyID    string    `json:"surveyId"`
	XPEarned    int       `json:"xpEarned"`
	TotalXP     int       `json:"totalXp"`
	CompletedAt time.Time `json:"completedAt"`
}
