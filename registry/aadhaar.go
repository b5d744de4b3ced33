package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"
)

const (
	// MockOTP is the only one-time code the mock accepts.
	MockOTP = "123456"

	idDigits  = 12
	otpDigits = 6
)

var (
	idPattern  = regexp.MustCompile(`^\d{12}$`)
	otpPattern = regexp.MustCompile(`^\d{6}$`)

	ErrInvalidID = errors.New("identity number must be exactly 12 digits")
	ErrUnknownID = errors.New("identity number not in roster")
)

// Citizen is one roster entry.
type Citizen struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"` // false for deceased or struck-off entries
}

type AadhaarConfig struct {
	// RosterPath optionally restricts verification to the listed ids. With
	// no roster any well-formed id is accepted.
	RosterPath string `yaml:"roster-path"`
}

// MockAadhaar imitates the national identity OTP flow: a 12 digit id plus
// a 6 digit code, where the code is always MockOTP.
type MockAadhaar struct {
	mu     sync.RWMutex
	roster map[string]*Citizen
	issued map[string]int
}

var _ Oracle = (*MockAadhaar)(nil)

func NewMockAadhaar(cfg AadhaarConfig) (*MockAadhaar, error) {
	m := &MockAadhaar{issued: make(map[string]int)}
	if cfg.RosterPath == "" {
		return m, nil
	}

	if err := m.loadRoster(cfg.RosterPath); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MockAadhaar) loadRoster(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read roster: %w", err)
	}

	var roster struct {
		Citizens []*Citizen `json:"citizens"`
	}
	if err := json.Unmarshal(data, &roster); err != nil {
		return fmt.Errorf("unmarshal roster: %w", err)
	}

	m.roster = make(map[string]*Citizen, len(roster.Citizens))
	for _, c := range roster.Citizens {
		if !idPattern.MatchString(c.ID) {
			return fmt.Errorf("roster entry %q: %w", c.ID, ErrInvalidID)
		}
		m.roster[c.ID] = c
	}
	return nil
}

// AddCitizen inserts or replaces a roster entry, enabling the roster if
// none was loaded.
func (m *MockAadhaar) AddCitizen(c *Citizen) error {
	if !idPattern.MatchString(c.ID) {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.roster == nil {
		m.roster = make(map[string]*Citizen)
	}
	m.roster[c.ID] = c
	return nil
}

// GenerateOTP pretends to send a code to the citizen's phone and returns
// it.
func (m *MockAadhaar) GenerateOTP(id string) (string, error) {
	if !idPattern.MatchString(id) {
		return "", ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.knownLocked(id) {
		return "", ErrUnknownID
	}
	m.issued[id]++
	return MockOTP, nil
}

// VerifyCredential reports whether code proves ownership of id.
func (m *MockAadhaar) VerifyCredential(id, code string) bool {
	if len(id) != idDigits || len(code) != otpDigits {
		return false
	}
	if !idPattern.MatchString(id) || !otpPattern.MatchString(code) {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.knownLocked(id) && code == MockOTP
}

// OTPsIssued returns how many codes were generated for id.
func (m *MockAadhaar) OTPsIssued(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.issued[id]
}

func (m *MockAadhaar) knownLocked(id string) bool {
	if m.roster == nil {
		return true
	}
	c, ok := m.roster[id]
	return ok && c.IsActive
}
