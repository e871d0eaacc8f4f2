package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"eui-70b3d57ed0051234", "eui-70b3d57ed0051234"},
		{"../../etc/passwd", "etc_passwd"},
		{"pump house/bearing #2", "pump_house_bearing_2"},
		{"a__b", "a__b"},
		{"", "unknown"},
		{"///", "unknown"},
		{"._hidden_.", "hidden"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SanitizeFilename(tt.in); got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	if got := SanitizeFilename(strings.Repeat("x", 300)); len(got) != maxFilenameLen {
		t.Errorf("long name not truncated: %d", len(got))
	}
}

func TestValidatePathWithinDirectory(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"new file", filepath.Join(dir, "waveform_dev_tx1.csv"), false},
		{"nested new file", filepath.Join(dir, "a", "b.csv"), false},
		{"dot dot", filepath.Join(dir, "..", "escape.csv"), true},
		{"other dir", filepath.Join(outside, "x.csv"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, dir)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	link := filepath.Join(dir, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := ValidatePathWithinDirectory(filepath.Join(link, "x.csv"), dir); err == nil {
		t.Error("expected symlink escape to be rejected")
	}
}
