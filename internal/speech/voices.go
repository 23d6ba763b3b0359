package speech

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"

	"gopkg.in/yaml.v3"
)

type Voices []Voice

// LoadVoices reads a YAML or JSON list of voices.
func LoadVoices(path string) (Voices, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read voices file: %w", err)
	}
	var voices Voices
	if err := yaml.Unmarshal(data, &voices); err != nil {
		return nil, fmt.Errorf("parse voices file: %w", err)
	}
	for i, v := range voices {
		if v.ID == "" || v.Name == "" {
			return nil, fmt.Errorf("voice %d: id and name are required", i)
		}
	}
	return voices, nil
}

func (vs Voices) Enabled() Voices {
	var out Voices
	for _, v := range vs {
		if v.Use {
			out = append(out, v)
		}
	}
	return out
}

// Find looks a voice up by display name, enabled or not.
func (vs Voices) Find(name string) (Voice, bool) {
	for _, v := range vs {
		if v.Name == name {
			return v, true
		}
	}
	return Voice{}, false
}

// ErrNoVoices is returned when no voice is enabled.
var ErrNoVoices = errors.New("no enabled voices")

// Choose returns the forced voice when it exists, otherwise a uniformly
// random enabled voice. forced reports whether the forced voice was used.
func (vs Voices) Choose(rng *rand.Rand, forcedName string) (voice Voice, forced bool, err error) {
	if forcedName != "" {
		if v, ok := vs.Find(forcedName); ok {
			return v, true, nil
		}
	}
	enabled := vs.Enabled()
	if len(enabled) == 0 {
		return Voice{}, false, ErrNoVoices
	}
	return enabled[rng.IntN(len(enabled))], false, nil
}
