package usecase

import (
	"encoding/json"
	"fmt"
	"os"
)

// PersonaProfile is a named system persona selectable per request. Profiles
// are data-driven configuration, not compiled-in constants: deployments load
// their own set from a JSON file and pick one by id at request time.
type PersonaProfile struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	System      string   `json:"system"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// ProfileRegistry resolves persona profiles by id.
type ProfileRegistry struct {
	profiles  map[string]PersonaProfile
	defaultID string
}

// NewProfileRegistry builds a registry from the given profiles. The default
// id is used when a request names no profile or an unknown one.
func NewProfileRegistry(profiles []PersonaProfile, defaultID string) (*ProfileRegistry, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("at least one persona profile is required")
	}
	byID := make(map[string]PersonaProfile, len(profiles))
	for _, p := range profiles {
		if p.ID == "" {
			return nil, fmt.Errorf("persona profile missing id")
		}
		if p.System == "" {
			return nil, fmt.Errorf("persona profile %s missing system text", p.ID)
		}
		byID[p.ID] = p
	}
	if _, ok := byID[defaultID]; !ok {
		return nil, fmt.Errorf("default persona profile %s not found", defaultID)
	}
	return &ProfileRegistry{profiles: byID, defaultID: defaultID}, nil
}

// Get returns the profile for id, falling back to the default profile.
func (r *ProfileRegistry) Get(id string) PersonaProfile {
	if p, ok := r.profiles[id]; ok {
		return p
	}
	return r.profiles[r.defaultID]
}

// LoadProfiles reads persona profiles from a JSON file. An empty path yields
// the built-in development set.
func LoadProfiles(path string) ([]PersonaProfile, error) {
	if path == "" {
		return defaultProfiles(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona profiles: %w", err)
	}
	var profiles []PersonaProfile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse persona profiles: %w", err)
	}
	return profiles, nil
}

// defaultProfiles keeps local development working without a profiles file.
func defaultProfiles() []PersonaProfile {
	return []PersonaProfile{
		{
			ID:   "master",
			Name: "玄明先生",
			System: "你是玄明先生，一位研习紫微斗数三十余年的命理老师。" +
				"你依据提供的参考资料回答紫微斗数相关的问题，语气温和、克制，" +
				"不做吉凶断语，不渲染焦虑。先思考，把推理过程放在 <thinking></thinking> 中，" +
				"再把给用户的回答放在 <answer></answer> 中。",
		},
	}
}
