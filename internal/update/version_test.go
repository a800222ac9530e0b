package update

import (
	"testing"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Version
	}{
		{
			name:  "simple version",
			input: "1.4.0",
			want:  Version{Major: 1, Minor: 4, Patch: 0},
		},
		{
			name:  "version with v prefix",
			input: "v0.8.2",
			want:  Version{Major: 0, Minor: 8, Patch: 2},
		},
		{
			name:  "version with prerelease",
			input: "1.0.0-rc.1",
			want:  Version{Major: 1, Minor: 0, Patch: 0},
		},
		{
			name:  "version with build metadata",
			input: "2.1.3+build.7",
			want:  Version{Major: 2, Minor: 1, Patch: 3},
		},
		{
			name:  "missing patch",
			input: "2.0",
			want:  Version{Major: 2, Minor: 0, Patch: 0},
		},
		{
			name:  "extra components ignored",
			input: "1.2.3.4",
			want:  Version{Major: 1, Minor: 2, Patch: 3},
		},
		{
			name:  "non-numeric component",
			input: "1.x.5",
			want:  Version{Major: 1, Minor: 0, Patch: 5},
		},
		{
			name:  "trailing garbage in component",
			input: "1.2.3beta",
			want:  Version{Major: 1, Minor: 2, Patch: 3},
		},
		{
			name:  "empty string",
			input: "",
			want:  Version{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseVersion(tt.input)
			if got != tt.want {
				t.Errorf("ParseVersion(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		name string
		v1   string
		v2   string
		want int
	}{
		{"patch ordering is numeric", "1.2.3", "1.2.10", -1},
		{"missing component is zero", "2.0", "2.0.0", 0},
		{"minor ordering is numeric", "1.10.0", "1.9.9", 1},
		{"equal", "1.4.0", "1.4.0", 0},
		{"v prefix ignored", "v1.5.0", "1.4.0", 1},
		{"major wins", "2.0.0", "1.99.99", 1},
		{"prerelease equals release", "1.5.0-rc.1", "1.5.0", 0},
		{"lower", "0.9.0", "1.0.0", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CompareVersions(tt.v1, tt.v2); got != tt.want {
				t.Errorf("CompareVersions(%q, %q) = %d, want %d", tt.v1, tt.v2, got, tt.want)
			}
		})
	}
}

func TestHasUpdate(t *testing.T) {
	tests := []struct {
		latest  string
		current string
		want    bool
	}{
		{"1.5.0", "1.4.0", true},
		{"1.4.0", "1.4.0", false},
		{"1.3.9", "1.4.0", false},
		{"v1.4.1", "1.4", true},
	}

	for _, tt := range tests {
		if got := HasUpdate(tt.latest, tt.current); got != tt.want {
			t.Errorf("HasUpdate(%q, %q) = %v, want %v", tt.latest, tt.current, got, tt.want)
		}
	}
}

func TestVersionString(t *testing.T) {
	if got := ParseVersion("v3.1").String(); got != "3.1.0" {
		t.Errorf("String() = %s, want 3.1.0", got)
	}
}

func TestNormalizeVersion(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"v1.4.0", "1.4.0"},
		{"1.4.0", "1.4.0"},
		{" V2.0 ", "2.0"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeVersion(tt.input); got != tt.want {
			t.Errorf("NormalizeVersion(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
