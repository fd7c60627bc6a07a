package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/personasync/apiserver/internal/logger"
	"github.com/personasync/apiserver/internal/store"
	"github.com/personasync/apiserver/types"
)

const (
	currentUserKey    = "currentUser"
	profileKeyPrefix  = "personasync_user_"
	maxUpdateAttempts = 16
)

var (
	// ErrNoActiveUser indicates that the session has no current user, or
	// that the current username has no stored profile.
	ErrNoActiveUser = errors.New("no active user")
	// ErrUsernameTaken indicates that a profile already exists for the username.
	ErrUsernameTaken = errors.New("username already exists")
	// ErrInvalidProfile indicates that the supplied profile fields are unusable.
	ErrInvalidProfile = errors.New("invalid profile")
	// ErrInvalidXP indicates a negative XP amount, or one that would push
	// the total past math.MaxInt.
	ErrInvalidXP = errors.New("invalid xp amount")
	// ErrInvalidSurveyID indicates an empty survey identifier.
	ErrInvalidSurveyID = errors.New("survey id is required")
	// ErrMalformedRecord indicates a stored profile that cannot be decoded.
	ErrMalformedRecord = errors.New("malformed profile record")
	// ErrConcurrentUpdate indicates that a profile write kept losing to
	// other writers.
	ErrConcurrentUpdate = errors.New("too many concurrent profile updates")
)

// EventPublisher publishes profile events. *mq.MQ satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// SessionStore owns the username to profile mapping and hands out
// sessions, each of which carries its own current-user pointer.
type SessionStore struct {
	kv     store.KV
	events EventPublisher
	log    *logger.Logger
	now    func() time.Time
}

type SessionStoreOption func(*SessionStore)

// WithEvents publishes user-created and survey-completed events to p.
func WithEvents(p EventPublisher) SessionStoreOption {
	return func(s *SessionStore) { s.events = p }
}

func WithLogger(log *logger.Logger) SessionStoreOption {
	return func(s *SessionStore) { s.log = log }
}

func WithClock(now func() time.Time) SessionStoreOption {
	return func(s *SessionStore) { s.now = now }
}

func NewSessionStore(kv store.KV, opts ...SessionStoreOption) *SessionStore {
	s := &SessionStore{
		kv:  kv,
		log: logger.Nop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("service", "SessionStore")
	return s
}

// Session returns the session identified by id. The empty id is the
// default session, whose pointer lives under the "currentUser" key.
func (s *SessionStore) Session(id string) *Session {
	return &Session{store: s, id: id}
}

// UserByUsername loads a profile directly, bypassing any session. It
// returns store.ErrNotFound when no profile exists.
func (s *SessionStore) UserByUsername(ctx context.Context, username string) (types.UserProfile, error) {
	raw, err := s.kv.Get(ctx, profileKey(username))
	if err != nil {
		return types.UserProfile{}, err
	}
	profile, _, err := decodeProfile(raw)
	return profile, err
}

// Profiles returns every stored profile ordered by username.
func (s *SessionStore) Profiles(ctx context.Context) ([]types.UserProfile, error) {
	entries, err := s.kv.Scan(ctx, profileKeyPrefix)
	if err != nil {
		return nil, err
	}
	profiles := make([]types.UserProfile, 0, len(entries))
	for _, entry := range entries {
		profile, _, err := decodeProfile(entry.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Key, err)
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

// update runs a read-modify-write on one profile. mutate reports whether
// it changed the profile; a nil mutate only persists legacy migrations.
// Writes are compare-and-swap against the raw value that was read, and
// the whole cycle is retried when another writer got there first.
func (s *SessionStore) update(ctx context.Context, username string, mutate func(*types.UserProfile) (bool, error)) (types.UserProfile, error) {
	key := profileKey(username)
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		raw, err := s.kv.Get(ctx, key)
		if err != nil {
			return types.UserProfile{}, err
		}
		profile, legacy, err := decodeProfile(raw)
		if err != nil {
			return types.UserProfile{}, fmt.Errorf("%s: %w", key, err)
		}

		changed := false
		if mutate != nil {
			if changed, err = mutate(&profile); err != nil {
				return types.UserProfile{}, err
			}
		}
		if !changed && !legacy {
			return profile, nil
		}

		encoded, err := json.Marshal(profile)
		if err != nil {
			return types.UserProfile{}, err
		}
		err = s.kv.CompareAndSwap(ctx, key, raw, string(encoded))
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return types.UserProfile{}, err
		}
		if legacy {
			s.log.Info("migrated legacy profile", "username", username)
		}
		return profile, nil
	}
	return types.UserProfile{}, ErrConcurrentUpdate
}

func (s *SessionStore) publish(ctx context.Context, channel, username string, payload any) {
	if s.events == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("encode event failed", "channel", channel, "error", err)
		return
	}
	if _, err := s.events.Publish(ctx, channel, data, map[string]string{"username": username}); err != nil {
		s.log.Warn("publish event failed", "channel", channel, "username", username, "error", err)
	}
}

// Session is one logical login context. All current-user operations are
// scoped to it; profile records are shared by every session.
type Session struct {
	store *SessionStore
	id    string
}

// ID returns the session id, empty for the default session.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) pointerKey() string {
	if s.id == "" {
		return currentUserKey
	}
	return "session:" + s.id + ":" + currentUserKey
}

// SetCurrentUser marks username as active. The profile is not required
// to exist, but the username must not be blank.
func (s *Session) SetCurrentUser(ctx context.Context, username string) error {
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidProfile)
	}
	return s.store.kv.Set(ctx, s.pointerKey(), username)
}

// CurrentUsername returns the active username or ErrNoActiveUser.
func (s *Session) CurrentUsername(ctx context.Context) (string, error) {
	username, err := s.store.kv.Get(ctx, s.pointerKey())
	if errors.Is(err, store.ErrNotFound) || (err == nil && username == "") {
		return "", ErrNoActiveUser
	}
	return username, err
}

// CurrentUser returns the active user's profile. A stored record without
// an xp field is initialized to zero and written back before returning.
func (s *Session) CurrentUser(ctx context.Context) (types.UserProfile, error) {
	return s.updateCurrent(ctx, nil)
}

// CreateUser stores a new profile and makes it the active user. XP starts
// at zero, the completed set starts empty and visibility is always public.
func (s *Session) CreateUser(ctx context.Context, in types.NewUser) (types.UserProfile, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return types.UserProfile{}, fmt.Errorf("%w: username is required", ErrInvalidProfile)
	}
	if in.Age < 0 {
		return types.UserProfile{}, fmt.Errorf("%w: age must not be negative", ErrInvalidProfile)
	}

	profile := types.UserProfile{
		FirstName:         in.FirstName,
		LastName:          in.LastName,
		Username:          username,
		Email:             in.Email,
		Age:               in.Age,
		Gender:            in.Gender,
		Location:          in.Location,
		Bio:               in.Bio,
		PersonalityGoals:  append([]string(nil), in.PersonalityGoals...),
		ProfileVisibility: types.VisibilityPublic,
		XP:                0,
		CreatedAt:         s.store.now().UTC(),
		CompletedSurveys:  []string{},
	}

	encoded, err := json.Marshal(profile)
	if err != nil {
		return types.UserProfile{}, err
	}
	if err := s.store.kv.SetIfAbsent(ctx, profileKey(username), string(encoded)); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.UserProfile{}, ErrUsernameTaken
		}
		return types.UserProfile{}, err
	}
	if err := s.SetCurrentUser(ctx, username); err != nil {
		return types.UserProfile{}, err
	}

	s.store.log.Info("user created", "username", username, "session", s.id)
	s.store.publish(ctx, types.ChannelUserCreated, username, types.UserCreatedEvent{
		Username:  username,
		CreatedAt: profile.CreatedAt,
	})
	return profile, nil
}

// AddXP adds amount to the active user's XP.
func (s *Session) AddXP(ctx context.Context, amount int) (types.UserProfile, error) {
	if amount < 0 {
		return types.UserProfile{}, ErrInvalidXP
	}
	return s.updateCurrent(ctx, func(p *types.UserProfile) (bool, error) {
		total, err := addXP(p.XP, amount)
		if err != nil {
			return false, err
		}
		p.XP = total
		return amount != 0, nil
	})
}

// SetXP overwrites the active user's XP.
func (s *Session) SetXP(ctx context.Context, amount int) (types.UserProfile, error) {
	if amount < 0 {
		return types.UserProfile{}, ErrInvalidXP
	}
	return s.updateCurrent(ctx, func(p *types.UserProfile) (bool, error) {
		changed := p.XP != amount
		p.XP = amount
		return changed, nil
	})
}

// CompleteSurvey records surveyID for the active user and awards xp the
// first time only. Later calls for the same survey report
// AlreadyCompleted and leave the profile untouched.
func (s *Session) CompleteSurvey(ctx context.Context, surveyID string, xp int) (types.CompletionResult, error) {
	surveyID, err := normalizeSurveyID(surveyID)
	if err != nil {
		return types.CompletionResult{}, err
	}
	if xp < 0 {
		return types.CompletionResult{}, ErrInvalidXP
	}

	var already bool
	profile, err := s.updateCurrent(ctx, func(p *types.UserProfile) (bool, error) {
		already = p.HasCompleted(surveyID)
		if already {
			return false, nil
		}
		total, err := addXP(p.XP, xp)
		if err != nil {
			return false, err
		}
		p.CompletedSurveys = append(p.CompletedSurveys, surveyID)
		p.XP = total
		return true, nil
	})
	if err != nil {
		return types.CompletionResult{}, err
	}
	if already {
		return types.CompletionResult{Success: true, AlreadyCompleted: true, XPEarned: 0}, nil
	}

	s.store.log.Info("survey completed", "username", profile.Username, "survey", surveyID, "xp", xp)
	s.store.publish(ctx, types.ChannelSurveyCompleted, profile.Username, types.SurveyCompletedEvent{
		Username:    profile.Username,
		SurveyID:    surveyID,
		XPEarned:    xp,
		TotalXP:     profile.XP,
		CompletedAt: s.store.now().UTC(),
	})
	return types.CompletionResult{Success: true, AlreadyCompleted: false, XPEarned: xp}, nil
}

// HasSurveyCompleted reports whether the active user completed surveyID.
// It is false when there is no active user.
func (s *Session) HasSurveyCompleted(ctx context.Context, surveyID string) (bool, error) {
	surveyID, err := normalizeSurveyID(surveyID)
	if err != nil {
		return false, err
	}
	profile, err := s.CurrentUser(ctx)
	if errors.Is(err, ErrNoActiveUser) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return profile.HasCompleted(surveyID), nil
}

// Logout clears the current-user pointer. Profiles are untouched.
func (s *Session) Logout(ctx context.Context) error {
	return s.store.kv.Delete(ctx, s.pointerKey())
}

// IsLoggedIn reports whether a current-user pointer is set. It does not
// check that the profile exists.
func (s *Session) IsLoggedIn(ctx context.Context) (bool, error) {
	_, err := s.CurrentUsername(ctx)
	if errors.Is(err, ErrNoActiveUser) {
		return false, nil
	}
	return err == nil, err
}

// UserByUsername is SessionStore.UserByUsername.
func (s *Session) UserByUsername(ctx context.Context, username string) (types.UserProfile, error) {
	return s.store.UserByUsername(ctx, username)
}

func (s *Session) updateCurrent(ctx context.Context, mutate func(*types.UserProfile) (bool, error)) (types.UserProfile, error) {
	username, err := s.CurrentUsername(ctx)
	if err != nil {
		return types.UserProfile{}, err
	}
	profile, err := s.store.update(ctx, username, mutate)
	if errors.Is(err, store.ErrNotFound) {
		return types.UserProfile{}, fmt.Errorf("%w: no profile for %q", ErrNoActiveUser, username)
	}
	return profile, err
}

// normalizeSurveyID trims surrounding whitespace so completion and
// membership checks agree on the stored id.
func normalizeSurveyID(surveyID string) (string, error) {
	surveyID = strings.TrimSpace(surveyID)
	if surveyID == "" {
		return "", ErrInvalidSurveyID
	}
	return surveyID, nil
}

func addXP(total, amount int) (int, error) {
	if amount > math.MaxInt-total {
		return 0, fmt.Errorf("%w: total would overflow", ErrInvalidXP)
	}
	return total + amount, nil
}

func profileKey(username string) string {
	return profileKeyPrefix + username
}

// storedProfile decodes a record while detecting a missing xp field.
type storedProfile struct {
	types.UserProfile
	XP *int `json:"xp"`
}

func decodeProfile(raw string) (types.UserProfile, bool, error) {
	var rec storedProfile
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return types.UserProfile{}, false, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	profile := rec.UserProfile
	if profile.Username == "" {
		return types.UserProfile{}, false, fmt.Errorf("%w: missing username", ErrMalformedRecord)
	}

	legacy := rec.XP == nil
	if !legacy {
		profile.XP = *rec.XP
	}
	if profile.CompletedSurveys == nil {
		profile.CompletedSurveys = []string{}
	}
	return profile, legacy, nil
}
