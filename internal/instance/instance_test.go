package instance

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Iron-Ham/cubic/internal/errors"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "Demo", false},
		{"digits first", "1.20 survival", false},
		{"allowed punctuation", "My_World-2 (backup).old", false},
		{"unicode letters", "Überwelt", false},
		{"max length", strings.Repeat("a", MaxNameLength), false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxNameLength+1), true},
		{"dot", ".", true},
		{"dot dot", "..", true},
		{"leading dot", ".hidden", true},
		{"leading space", " Demo", true},
		{"trailing space", "Demo ", true},
		{"trailing dot", "Demo.", true},
		{"slash", "a/b", true},
		{"backslash", `a\b`, true},
		{"colon", "a:b", true},
		{"null byte", "a\x00b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.IsValidation(err) {
				t.Errorf("ValidateName(%q) error is not a validation error: %v", tt.input, err)
			}
		})
	}
}

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"1.20.1", false},
		{"23w13a", false},
		{"1.20.1-forge", false},
		{"", true},
		{"1.20 1", true},
		{"../1.20", true},
		{`1.20\x`, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := ValidateVersion(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateVersion(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestDescriptor_RoundTrip(t *testing.T) {
	played := time.UnixMilli(1_700_000_000_123)
	tests := []struct {
		name string
		inst Instance
	}{
		{"never played", Instance{Name: "Demo", Version: "1.20.1"}},
		{"played", Instance{Name: "Demo", Version: "1.20.1", LastPlayed: played}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeDescriptor(tt.inst)
			if err != nil {
				t.Fatalf("EncodeDescriptor() error = %v", err)
			}
			got, err := DecodeDescriptor(data)
			if err != nil {
				t.Fatalf("DecodeDescriptor() error = %v", err)
			}
			if diff := cmp.Diff(tt.inst, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeDescriptor_Format(t *testing.T) {
	tests := []struct {
		name string
		inst Instance
		want []string
	}{
		{
			name: "played",
			inst: Instance{Name: "Demo", Version: "1.20.1", LastPlayed: time.UnixMilli(42)},
			want: []string{`"name": "Demo"`, `"version": "1.20.1"`, `"lastPlayed": 42`},
		},
		{
			name: "never played",
			inst: Instance{Name: "Fresh", Version: "1.19.4"},
			want: []string{`"name": "Fresh"`, `"version": "1.19.4"`, `"lastPlayed": 0`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeDescriptor(tt.inst)
			if err != nil {
				t.Fatalf("EncodeDescriptor() error = %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(string(data), want) {
					t.Errorf("descriptor %s missing %s", data, want)
				}
			}
		})
	}
}

func TestDecodeDescriptor(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Instance
		wantErr bool
	}{
		{
			name:  "complete",
			input: `{"name":"Demo","version":"1.20.1","lastPlayed":1000}`,
			want:  Instance{Name: "Demo", Version: "1.20.1", LastPlayed: time.UnixMilli(1000)},
		},
		{
			name:  "missing lastPlayed",
			input: `{"name":"Demo","version":"1.20.1"}`,
			want:  Instance{Name: "Demo", Version: "1.20.1"},
		},
		{
			name:  "zero lastPlayed",
			input: `{"name":"Demo","version":"1.20.1","lastPlayed":0}`,
			want:  Instance{Name: "Demo", Version: "1.20.1"},
		},
		{name: "missing name", input: `{"version":"1.20.1"}`, wantErr: true},
		{name: "missing version", input: `{"name":"Demo"}`, wantErr: true},
		{name: "wrong type", input: `{"name":"Demo","version":1.2}`, wantErr: true},
		{name: "unknown field", input: `{"name":"Demo","version":"1.20.1","mods":[]}`, wantErr: true},
		{name: "trailing data", input: `{"name":"Demo","version":"1.20.1"} {}`, wantErr: true},
		{name: "not json", input: `name=Demo`, wantErr: true},
		{name: "empty", input: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeDescriptor([]byte(tt.input))
			if tt.wantErr {
				if !errors.Is(err, errors.ErrDescriptorCorrupted) {
					t.Fatalf("DecodeDescriptor() error = %v, want ErrDescriptorCorrupted", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeDescriptor() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("DecodeDescriptor() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
