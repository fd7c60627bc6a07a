package types

import "time"

// Visibility controls whether a profile is listed publicly.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// UserProfile is the durable record kept for one registered username.
// It carries the user's identity, survey progress, and XP.
type UserProfile struct {
	// FirstName is the user's given name.
	FirstName string `json:"firstName"`

	// LastName is the user's family name.
	LastName string `json:"lastName"`

	// Username is the identity key of the profile. It is unique and
	// never changes after creation.
	Username string `json:"username"`

	// Email is the user's email address.
	Email string `json:"email"`

	// Age is the user's age in years.
	Age int `json:"age"`

	// Gender is the user's self-described gender.
	Gender string `json:"gender"`

	// Location is an optional "City, Country" string.
	Location string `json:"location,omitempty"`

	// Bio is an optional free-form description.
	Bio string `json:"bio,omitempty"`

	// PersonalityGoals lists the traits the user wants to work on.
	PersonalityGoals []string `json:"personalityGoals,omitempty"`

	// ProfileVisibility is either "public" or "private".
	ProfileVisibility Visibility `json:"profileVisibility"`

	// XP is the accumulated experience score. It is never negative.
	XP int `json:"xp"`

	// CreatedAt is the timestamp when the profile was created.
	CreatedAt time.Time `json:"createdAt"`

	// CompletedSurveys holds the identifiers of surveys the user has
	// finished. Each identifier appears at most once.
	CompletedSurveys []string `json:"completedSurveys"`
}

// HasCompleted reports whether surveyID is in the completed set.
func (p UserProfile) HasCompleted(surveyID string) bool {
	for _, id := range p.CompletedSurveys {
		if id == surveyID {
			return true
		}
	}
	return false
}

// NewUser holds the caller-supplied fields of a profile. XP, CreatedAt
// and CompletedSurveys are derived at creation time.
type NewUser struct {
	FirstName         string     `json:"firstName"`
	LastName          string     `json:"lastName"`
	Username          string     `json:"username"`
	Email             string     `json:"email"`
	Age               int        `json:"age"`
	Gender            string     `json:"gender"`
	Location          string     `json:"location,omitempty"`
	Bio               string     `json:"bio,omitempty"`
	PersonalityGoals  []string   `json:"personalityGoals,omitempty"`
	ProfileVisibility Visibility `json:"profileVisibility,omitempty"`
}

// CompletionResult reports the outcome of a survey completion.
type CompletionResult struct {
	Success          bool `json:"success"`
	AlreadyCompleted bool `json:"alreadyCompleted"`
	XPEarned         int  `json:"xpEarned"`
}
