package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/appetiteclub/apt"
)

const sampleRoutes = `
expo: expo
default: grill
stations:
  - {id: grill, name: Grill, type: grill}
  - {id: expo, name: Expo, type: expo}
routes:
  burger: [grill]
  soda: [expo]
`

func writeRoutes(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "routing.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestValidateRoutes(t *testing.T) {
	path := writeRoutes(t, sampleRoutes)

	var out bytes.Buffer
	if err := ValidateRoutes(&out, []string{path}, apt.NewConfig(), apt.NewNoopLogger()); err != nil {
		t.Fatalf("ValidateRoutes() error = %v", err)
	}

	got := out.String()
	for _, want := range []string{"grill", "Expo", "default", "burger", "soda"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestValidateRoutesErrors(t *testing.T) {
	tests := []struct {
		name string
		args func(t *testing.T) []string
	}{
		{name: "noFile", args: func(t *testing.T) []string { return nil }},
		{name: "missingFile", args: func(t *testing.T) []string {
			return []string{filepath.Join(t.TempDir(), "nope.yaml")}
		}},
		{name: "unknownStation", args: func(t *testing.T) []string {
			return []string{writeRoutes(t, "stations:\n  - {id: grill}\nroutes:\n  burger: [fry]\n")}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := ValidateRoutes(&out, tt.args(t), apt.NewConfig(), apt.NewNoopLogger()); err == nil {
				t.Errorf("ValidateRoutes() error = nil, want error")
			}
		})
	}
}
