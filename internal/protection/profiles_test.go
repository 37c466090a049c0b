package protection

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	content := `profiles:
  - instrument: "ES 12-25"
    offsets: [3, 6, 10]
    trigger_extra: 1
    trail_distance: 4
  - instrument: NQ
    offsets: [10, 0, 0]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	profiles, err := LoadProfiles(path)
	if err != nil {
		t.Fatalf("LoadProfiles: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("loaded %d profiles, expected 2", len(profiles))
	}

	// Lookup ignores spacing and case, like the terminal does.
	p, ok := LookupProfile(profiles, "es 12-25")
	if !ok {
		t.Fatalf("profile for ES 12-25 not found")
	}
	if p.TriggerExtra != 1 || p.TrailDistance != 4 {
		t.Fatalf("profile fields wrong: %+v", p)
	}

	if _, ok := LookupProfile(profiles, "CL"); ok {
		t.Fatalf("lookup invented a profile for CL")
	}
}

func TestLoadProfilesMissingFile(t *testing.T) {
	if _, err := LoadProfiles(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestBuildLevelsSkipsZeroOffsets(t *testing.T) {
	levels := BuildLevels([]float64{5, 8, 0}, 1)
	if len(levels) != 2 {
		t.Fatalf("built %d levels, expected 2", len(levels))
	}
	if levels[0].TriggerOffset != 6 || levels[0].StopOffset != 5 {
		t.Fatalf("level 1 = %+v, expected trigger 6 stop 5", levels[0])
	}
	if levels[1].TriggerOffset != 9 || levels[1].StopOffset != 8 {
		t.Fatalf("level 2 = %+v, expected trigger 9 stop 8", levels[1])
	}
}
