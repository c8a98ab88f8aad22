// Package crisis holds the in-memory crisis signal: whether the user is
// currently flagged as in crisis, the latest risk score, and the emergency
// contacts to surface.
//
// Two rules set the flag and they are deliberately independent:
// SetCrisisMode sets it directly, SetRiskScore derives it from the score.
// Whichever ran last wins.
package crisis

import (
	"bytes"
	"encoding/json"
	"slices"
	"sync"
	"time"
)

// RiskThreshold is the score above which a risk assessment flags a crisis.
const RiskThreshold = 6

// DefaultContacts are seeded into every new Signal.
var DefaultContacts = []string{"988", "911"}

// State is a point-in-time copy of the crisis signal.
type State struct {
	InCrisis          bool       `json:"in_crisis"`
	RiskScore         float64    `json:"risk_score"`
	CrisisType        string     `json:"crisis_type,omitempty"`
	LastCrisisAt      *time.Time `json:"last_crisis_at,omitempty"`
	EmergencyContacts []string   `json:"emergency_contacts"`
}

// Signal is the goroutine-safe crisis state holder.
type Signal struct {
	mu       sync.Mutex
	state    State
	now      func() time.Time
	onChange func(State)
}

// Option configures a Signal.
type Option func(*Signal)

// WithClock overrides the time source used for LastCrisisAt.
func WithClock(now func() time.Time) Option {
	return func(s *Signal) {
		if now != nil {
			s.now = now
		}
	}
}

// WithContacts replaces the default contact seed.
func WithContacts(contacts ...string) Option {
	return func(s *Signal) {
		s.state.EmergencyContacts = slices.Clone(contacts)
	}
}

// OnChange registers fn to receive a copy of the state after every mutation.
// fn runs outside the lock.
func OnChange(fn func(State)) Option {
	return func(s *Signal) {
		s.onChange = fn
	}
}

// New returns a Signal that is not in crisis, seeded with DefaultContacts.
func New(opts ...Option) *Signal {
	s := &Signal{
		state: State{EmergencyContacts: slices.Clone(DefaultContacts)},
		now:   time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// SetCrisisMode sets the flag. Entering crisis stamps LastCrisisAt; leaving
// it keeps the previous stamp.
func (s *Signal) SetCrisisMode(inCrisis bool) {
	s.update(func(st *State) {
		st.InCrisis = inCrisis

		if inCrisis {
			at := s.now()
			st.LastCrisisAt = &at
		}
	})
}

// SetRiskScore records score and overwrites the flag with score > RiskThreshold.
func (s *Signal) SetRiskScore(score float64) {
	s.update(func(st *State) {
		st.RiskScore = score
		st.InCrisis = score > RiskThreshold
	})
}

// SetCrisisType labels the current crisis.
func (s *Signal) SetCrisisType(crisisType string) {
	s.update(func(st *State) {
		st.CrisisType = crisisType
	})
}

// AddEmergencyContact appends id. Duplicates are kept.
func (s *Signal) AddEmergencyContact(id string) {
	s.update(func(st *State) {
		st.EmergencyContacts = append(st.EmergencyContacts, id)
	})
}

// Clear resets score, type and flag. LastCrisisAt and contacts survive.
func (s *Signal) Clear() {
	s.update(func(st *State) {
		st.InCrisis = false
		st.RiskScore = 0
		st.CrisisType = ""
	})
}

// State returns a copy of the current state.
func (s *Signal) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.clone()
}

// InCrisis reports the current flag.
func (s *Signal) InCrisis() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.InCrisis
}

// HandleCrisisAlert folds a crisis_alert payload from the live channel.
//
// An object with crisis_type sets the type; an object with a numeric
// risk_score is applied as a risk assessment after the type. Any other
// payload, including an object carrying neither field, enters crisis mode.
func (s *Signal) HandleCrisisAlert(payload json.RawMessage) {
	var alert struct {
		RiskScore  *float64 `json:"risk_score"`
		CrisisType *string  `json:"crisis_type"`
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' || json.Unmarshal(trimmed, &alert) != nil {
		s.SetCrisisMode(true)
		return
	}

	if alert.RiskScore == nil && alert.CrisisType == nil {
		s.SetCrisisMode(true)
		return
	}

	if alert.CrisisType != nil {
		s.SetCrisisType(*alert.CrisisType)
	}

	if alert.RiskScore != nil {
		s.SetRiskScore(*alert.RiskScore)
	}
}

func (s *Signal) update(mutate func(*State)) {
	s.mu.Lock()
	mutate(&s.state)
	snapshot := s.state.clone()
	onChange := s.onChange
	s.mu.Unlock()

	if onChange != nil {
		onChange(snapshot)
	}
}

func (st State) clone() State {
	out := st
	out.EmergencyContacts = slices.Clone(st.EmergencyContacts)

	if st.LastCrisisAt != nil {
		at := *st.LastCrisisAt
		out.LastCrisisAt = &at
	}

	return out
}
