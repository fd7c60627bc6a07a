package types

import "time"

// DashboardStats aggregates the stored profiles for the dashboard.
type DashboardStats struct {
	// TotalUsers is the number of stored profiles.
	TotalUsers int `json:"totalUsers"`

	// TotalResponses counts survey completions across all users.
	TotalResponses int `json:"totalResponses"`

	// AverageXP is the mean XP per user, rounded to the nearest integer.
	AverageXP int `json:"averageXp"`

	// TopRegion is the country with the most users, or empty.
	TopRegion string `json:"topRegion"`

	// Regions is the per-country user count, largest first.
	Regions []RegionCount `json:"regions"`

	// Surveys ranks surveys by completion count, largest first.
	Surveys []SurveyCount `json:"surveys"`
}

type RegionCount struct {
	Country string `json:"country"`
	Count   int    `json:"count"`
}

type SurveyCount struct {
	SurveyID    string `json:"surveyId"`
	Completions int    `json:"completions"`
}

// ProfileExport is the document written by a profile snapshot export.
type ProfileExport struct {
	GeneratedAt time.Time      `json:"generatedAt"`
	Stats       DashboardStats `json:"stats"`
	Profiles    []UserProfile  `json:"profiles"`
}
