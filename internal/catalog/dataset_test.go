package catalog

import (
	"errors"
	"testing"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "census-2020", false},
		{"underscores", "air_quality_pm25", false},
		{"digits only", "2020", false},
		{"single char", "x", false},
		{"empty", "", true},
		{"uppercase", "Census", true},
		{"leading dash", "-census", true},
		{"leading underscore", "_census", true},
		{"spaces", "census 2020", true},
		{"dots", "census.2020", true},
		{"unicode", "données", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if err != nil {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Errorf("ValidateID(%q) returned %T, want *ValidationError", tt.id, err)
				}
			}
		})
	}
}

func TestNormalizeFillsSentinel(t *testing.T) {
	ds := &Dataset{
		ID:        "taxi-trips",
		Name:      "  NYC Taxi Trips  ",
		Format:    "",
		Size:      " 12GB ",
		DataTypes: []string{" tabular ", "", "geospatial"},
	}
	ds.Normalize()

	if ds.Name != "NYC Taxi Trips" {
		t.Errorf("Name = %q, want trimmed", ds.Name)
	}
	for field, got := range map[string]string{
		"description": ds.Description,
		"source":      ds.Source,
		"location":    ds.Location,
		"format":      ds.Format,
	} {
		if got != Unspecified {
			t.Errorf("%s = %q, want %q", field, got, Unspecified)
		}
	}
	if ds.Size != "12GB" {
		t.Errorf("Size = %q, want trimmed, not defaulted", ds.Size)
	}
	if len(ds.DataTypes) != 2 || ds.DataTypes[0] != "tabular" || ds.DataTypes[1] != "geospatial" {
		t.Errorf("DataTypes = %v, want empty entries dropped", ds.DataTypes)
	}
}

func TestValidateRejectsBadID(t *testing.T) {
	ds := &Dataset{ID: "Bad ID", Name: "n"}
	err := ds.Validate()
	if err == nil {
		t.Fatal("expected error for malformed id")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "id" {
		t.Errorf("got %v, want ValidationError on field id", err)
	}
}

func TestSizeBytes(t *testing.T) {
	tests := []struct {
		size string
		want int64
	}{
		{"2000000", 2000000},
		{"2000000 bytes (approx)", 2000000},
		{"  512  ", 512},
		{"about 3GB", 0},
		{"", 0},
		{"12GB", 12},
	}

	for _, tt := range tests {
		t.Run(tt.size, func(t *testing.T) {
			ds := &Dataset{Size: tt.size}
			if got := ds.SizeBytes(); got != tt.want {
				t.Errorf("SizeBytes(%q) = %d, want %d", tt.size, got, tt.want)
			}
		})
	}
}

func TestRemotePathRoundTrip(t *testing.T) {
	name := RemotePath("census-2020")
	if name != "census-2020.yaml" {
		t.Fatalf("RemotePath = %q", name)
	}
	id, ok := IDFromRemotePath(name)
	if !ok || id != "census-2020" {
		t.Errorf("IDFromRemotePath(%q) = %q, %v", name, id, ok)
	}

	if _, ok := IDFromRemotePath("notes.txt"); ok {
		t.Error("non-yaml object should not map to a dataset id")
	}
	if _, ok := IDFromRemotePath(".yaml"); ok {
		t.Error("empty id should not be accepted")
	}
}
