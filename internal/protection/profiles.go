package protection

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile is a preset breakeven ladder for an instrument, applied when an
// AUTO_BREAKEVEN command arrives with empty offsets.
type Profile struct {
	Instrument    string    `yaml:"instrument"`
	Offsets       []float64 `yaml:"offsets"` // price points from entry, ascending
	TriggerExtra  float64   `yaml:"trigger_extra"`
	TrailDistance float64   `yaml:"trail_distance"`
}

type profileFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// LoadProfiles reads breakeven presets from a YAML file.
func LoadProfiles(path string) (map[string]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	out := make(map[string]Profile, len(file.Profiles))
	for _, p := range file.Profiles {
		out[profileKey(p.Instrument)] = p
	}
	return out, nil
}

func profileKey(instrument string) string {
	return strings.ToUpper(strings.ReplaceAll(instrument, " ", ""))
}

// LookupProfile finds a preset for an instrument using the same loose matching
// the terminal uses for instrument names.
func LookupProfile(profiles map[string]Profile, instrument string) (Profile, bool) {
	p, ok := profiles[profileKey(instrument)]
	return p, ok
}

// BuildLevels converts a breakeven offset ladder into staged levels: each
// level triggers at offset+extra and parks the stop at entry+offset. Zero or
// negative offsets are skipped, so a two-level ladder is just [5, 8, 0].
func BuildLevels(offsets []float64, triggerExtra float64) []Level {
	levels := make([]Level, 0, len(offsets))
	for _, off := range offsets {
		if off <= 0 {
			continue
		}
		levels = append(levels, Level{
			TriggerOffset: off + triggerExtra,
			StopOffset:    off,
		})
	}
	return levels
}
