package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"voting-ledger/logger"
)

type RegistryConfig struct {
	VotersFilePath string `json:"voters_file_path"`
	AutoSave       bool   `json:"auto_save"`
}

// FileRegistry keeps registrations in memory, backed by a JSON file.
type FileRegistry struct {
	voters map[string]*Voter
	mu     sync.RWMutex
	config RegistryConfig
	now    func() time.Time
}

type votersFile struct {
	Voters []*Voter `json:"voters"`
}

func NewFileRegistry(config RegistryConfig) (*FileRegistry, error) {
	registry := &FileRegistry{
		voters: make(map[string]*Voter),
		config: config,
		now:    time.Now,
	}

	dir := filepath.Dir(config.VotersFilePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	if err := registry.LoadVotersFromFile(); err != nil {
		return nil, err
	}

	return registry, nil
}

func voterKey(email, electionID string) string {
	return electionID + "\x00" + email
}

// LoadVotersFromFile replaces the in-memory registrations with the file
// contents. A missing file leaves the registry empty.
func (r *FileRegistry) LoadVotersFromFile() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.config.VotersFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read voters file: %w", err)
	}

	var file votersFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to unmarshal voter data: %w", err)
	}

	r.voters = make(map[string]*Voter, len(file.Voters))
	for _, voter := range file.Voters {
		email, err := ValidateEmail(voter.Email)
		if err != nil {
			return fmt.Errorf("invalid voter data: %w", err)
		}
		if voter.ElectionID == "" {
			return fmt.Errorf("invalid voter data for %s: election id is required", email)
		}
		voter.Email = email
		r.voters[voterKey(email, voter.ElectionID)] = voter
	}

	return nil
}

// Save writes every registration to the voters file.
func (r *FileRegistry) Save() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.save()
}

func (r *FileRegistry) save() error {
	file := votersFile{Voters: r.sorted("")}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal voter data: %w", err)
	}

	tempPath := r.config.VotersFilePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write voters file: %w", err)
	}
	if err := os.Rename(tempPath, r.config.VotersFilePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save voters file: %w", err)
	}

	return nil
}

func (r *FileRegistry) autoSave() error {
	if !r.config.AutoSave {
		return nil
	}
	return r.save()
}

func (r *FileRegistry) Register(email, electionID, schoolID string) error {
	normalized, err := ValidateEmail(email)
	if err != nil {
		return err
	}
	if electionID == "" {
		return fmt.Errorf("election id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := voterKey(normalized, electionID)
	if _, exists := r.voters[key]; exists {
		logger.Debug("voter already registered", "email", normalized, "election", electionID)
		return nil
	}

	r.voters[key] = &Voter{
		Email:        normalized,
		ElectionID:   electionID,
		SchoolID:     schoolID,
		RegisteredAt: r.now(),
	}
	logger.Info("voter registered", "email", normalized, "election", electionID)

	return r.autoSave()
}

func (r *FileRegistry) Verify(email, electionID string) error {
	normalized := NormalizeEmail(email)

	r.mu.Lock()
	defer r.mu.Unlock()

	voter, exists := r.voters[voterKey(normalized, electionID)]
	if !exists {
		return fmt.Errorf("%w: %s in election %s", ErrVoterNotFound, normalized, electionID)
	}
	if voter.IsVerified {
		return nil
	}

	verifiedAt := r.now()
	voter.IsVerified = true
	voter.VerifiedAt = &verifiedAt
	logger.Info("voter verified", "email", normalized, "election", electionID)

	return r.autoSave()
}

func (r *FileRegistry) IsRegistered(email, electionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.voters[voterKey(NormalizeEmail(email), electionID)]
	return exists
}

func (r *FileRegistry) IsVerified(email, electionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	voter, exists := r.voters[voterKey(NormalizeEmail(email), electionID)]
	return exists && voter.IsVerified
}

// Voters lists registrations for electionID, ordered by registration time.
func (r *FileRegistry) Voters(electionID string) ([]Voter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var voters []Voter
	for _, v := range r.sorted(electionID) {
		voters = append(voters, *v)
	}
	return voters, nil
}

// sorted returns registrations of electionID (all when empty) in a stable order.
func (r *FileRegistry) sorted(electionID string) []*Voter {
	voters := make([]*Voter, 0, len(r.voters))
	for _, v := range r.voters {
		if electionID == "" || v.ElectionID == electionID {
			voters = append(voters, v)
		}
	}
	sort.Slice(voters, func(i, j int) bool {
		if !voters[i].RegisteredAt.Equal(voters[j].RegisteredAt) {
			return voters[i].RegisteredAt.Before(voters[j].RegisteredAt)
		}
		return voterKey(voters[i].Email, voters[i].ElectionID) < voterKey(voters[j].Email, voters[j].ElectionID)
	})
	return voters
}
