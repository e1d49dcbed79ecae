package catalog

import (
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Date layouts accepted in dataset records. People hand-edit these files,
// so the parser is deliberately forgiving.
var dateFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"02-01-2006",
	"02/01/2006",
}

// flexibleTime accepts any of the supported date layouts. Unparseable
// dates are left empty rather than failing the whole record.
type flexibleTime struct {
	time.Time
}

func (ft *flexibleTime) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err != nil {
		return err
	}

	str = strings.TrimSpace(str)
	if str == "" {
		return nil
	}

	for _, format := range dateFormats {
		if t, err := time.Parse(format, str); err == nil {
			ft.Time = t
			return nil
		}
	}
	return nil
}

// rawDataset is the tolerant decode target: list fields may be written as
// a single string or a sequence, dates in any supported layout.
type rawDataset struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Source      string       `yaml:"source"`
	Location    string       `yaml:"location"`
	Format      string       `yaml:"format"`
	Size        string       `yaml:"size"`
	DataTypes   interface{}  `yaml:"data_types"`
	Projects    interface{}  `yaml:"projects"`
	Created     flexibleTime `yaml:"created"`
}

// Decode parses the YAML wire form of a dataset record and validates it.
func Decode(data []byte) (*Dataset, error) {
	var raw rawDataset
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ValidationError{ID: raw.ID, Reason: "malformed YAML: " + err.Error()}
	}

	ds := &Dataset{
		ID:          raw.ID,
		Name:        raw.Name,
		Description: raw.Description,
		Source:      raw.Source,
		Location:    raw.Location,
		Format:      raw.Format,
		Size:        raw.Size,
		DataTypes:   normalizeStringArray(raw.DataTypes),
		Projects:    normalizeStringArray(raw.Projects),
	}
	if !raw.Created.IsZero() {
		t := raw.Created.Time
		ds.Created = &t
	}

	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// Encode serializes a dataset record to its YAML wire form.
func Encode(ds *Dataset) ([]byte, error) {
	return yaml.Marshal(ds)
}

// normalizeStringArray converts string or []string or []interface{} to []string
func normalizeStringArray(v interface{}) []string {
	if v == nil {
		return nil
	}

	switch val := v.(type) {
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []string:
		return val
	case []interface{}:
		result := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	default:
		return nil
	}
}
