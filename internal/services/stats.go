package services

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/personasync/apiserver/types"
)

// Countries shown on the regional distribution. Everything else is
// folded into "Other", which is not reported.
var mainCountries = map[string]bool{
	"USA":       true,
	"UK":        true,
	"India":     true,
	"Japan":     true,
	"France":    true,
	"Germany":   true,
	"Australia": true,
}

const otherCountry = "Other"

// ProfileLister lists stored profiles. *SessionStore satisfies it.
type ProfileLister interface {
	Profiles(ctx context.Context) ([]types.UserProfile, error)
}

// StatsService computes the dashboard aggregates.
type StatsService struct {
	profiles ProfileLister
}

func NewStatsService(profiles ProfileLister) *StatsService {
	return &StatsService{profiles: profiles}
}

// Overview aggregates every stored profile.
func (s *StatsService) Overview(ctx context.Context) (types.DashboardStats, error) {
	profiles, err := s.profiles.Profiles(ctx)
	if err != nil {
		return types.DashboardStats{}, err
	}
	return ComputeStats(profiles), nil
}

// ComputeStats aggregates profiles into dashboard statistics.
func ComputeStats(profiles []types.UserProfile) types.DashboardStats {
	stats := types.DashboardStats{
		TotalUsers: len(profiles),
		Regions:    []types.RegionCount{},
		Surveys:    []types.SurveyCount{},
	}

	var totalXP int
	regions := make(map[string]int)
	surveys := make(map[string]int)
	for _, p := range profiles {
		totalXP += p.XP
		stats.TotalResponses += len(p.CompletedSurveys)
		for _, id := range p.CompletedSurveys {
			surveys[id]++
		}
		if strings.TrimSpace(p.Location) == "" {
			continue
		}
		if country := NormalizeCountry(p.Location); country != otherCountry {
			regions[country]++
		}
	}

	if len(profiles) > 0 {
		stats.AverageXP = int(math.Round(float64(totalXP) / float64(len(profiles))))
	}

	for country, count := range regions {
		stats.Regions = append(stats.Regions, types.RegionCount{Country: country, Count: count})
	}
	sort.Slice(stats.Regions, func(i, j int) bool {
		if stats.Regions[i].Count != stats.Regions[j].Count {
			return stats.Regions[i].Count > stats.Regions[j].Count
		}
		return stats.Regions[i].Country < stats.Regions[j].Country
	})
	if len(stats.Regions) > 0 {
		stats.TopRegion = stats.Regions[0].Country
	}

	for id, count := range surveys {
		stats.Surveys = append(stats.Surveys, types.SurveyCount{SurveyID: id, Completions: count})
	}
	sort.Slice(stats.Surveys, func(i, j int) bool {
		if stats.Surveys[i].Completions != stats.Surveys[j].Completions {
			return stats.Surveys[i].Completions > stats.Surveys[j].Completions
		}
		return stats.Surveys[i].SurveyID < stats.Surveys[j].SurveyID
	})

	return stats
}

// NormalizeCountry maps a "City, Country" location onto one of the
// dashboard countries, or "Other".
func NormalizeCountry(location string) string {
	country := location
	if parts := strings.Split(location, ", "); len(parts) > 1 && parts[1] != "" {
		country = parts[1]
	}
	country = strings.TrimSpace(country)

	switch {
	case country == "United States" || strings.Contains(country, "USA"):
		return "USA"
	case country == "United Kingdom" || strings.Contains(country, "UK"):
		return "UK"
	case mainCountries[country]:
		return country
	default:
		return otherCountry
	}
}
