package catalog

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Unspecified is the sentinel stored for required fields the user left empty.
// Required fields are never omitted, only defaulted.
const Unspecified = "unspecified"

// idRegex constrains dataset ids to lowercase slugs.
var idRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Dataset is the unit of catalog data. The YAML form is the wire format
// stored in the remote library as <id>.yaml; the JSON form is the payload
// mirror kept in the local index.
type Dataset struct {
	ID          string     `yaml:"id" json:"id" validate:"required"`
	Name        string     `yaml:"name" json:"name" validate:"required"`
	Description string     `yaml:"description" json:"description" validate:"required"`
	Source      string     `yaml:"source" json:"source" validate:"required"`
	Location    string     `yaml:"location" json:"location" validate:"required"`
	Format      string     `yaml:"format" json:"format" validate:"required"`
	Size        string     `yaml:"size,omitempty" json:"size,omitempty"`
	DataTypes   []string   `yaml:"data_types,omitempty" json:"data_types,omitempty"`
	Projects    []string   `yaml:"projects,omitempty" json:"projects,omitempty"`
	Created     *time.Time `yaml:"created,omitempty" json:"created,omitempty"`
}

// ValidationError reports a malformed dataset record. Records failing
// validation are rejected before any index write.
type ValidationError struct {
	ID     string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid dataset %q: field %s: %s", e.ID, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid dataset %q: %s", e.ID, e.Reason)
}

// ValidateID checks that an id is a well-formed slug.
func ValidateID(id string) error {
	if id == "" {
		return &ValidationError{ID: id, Field: "id", Reason: "must not be empty"}
	}
	if !idRegex.MatchString(id) {
		return &ValidationError{ID: id, Field: "id", Reason: "must match ^[a-z0-9][a-z0-9_-]*$"}
	}
	return nil
}

// Normalize fills empty required fields with the Unspecified sentinel and
// trims surrounding whitespace. The id is never defaulted.
func (d *Dataset) Normalize() {
	d.ID = strings.TrimSpace(d.ID)
	for _, f := range []*string{&d.Name, &d.Description, &d.Source, &d.Location, &d.Format} {
		*f = strings.TrimSpace(*f)
		if *f == "" {
			*f = Unspecified
		}
	}
	d.Size = strings.TrimSpace(d.Size)
	d.DataTypes = trimStrings(d.DataTypes)
	d.Projects = trimStrings(d.Projects)
}

// Validate normalizes the record and checks all invariants.
func (d *Dataset) Validate() error {
	d.Normalize()
	if err := ValidateID(d.ID); err != nil {
		return err
	}
	if err := validate.Struct(d); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return &ValidationError{
				ID:     d.ID,
				Field:  strings.ToLower(errs[0].Field()),
				Reason: "failed " + errs[0].Tag() + " check",
			}
		}
		return &ValidationError{ID: d.ID, Reason: err.Error()}
	}
	return nil
}

var validate = validator.New()

// SizeBytes extracts the leading numeric portion of the free-text size
// field, so records like "2000000" or "2000000 bytes (approx)" can be
// matched by numeric size filters. Returns 0 when no number is present.
func (d *Dataset) SizeBytes() int64 {
	s := strings.TrimSpace(d.Size)
	var n int64
	seen := false
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int64(r-'0')
		seen = true
	}
	if !seen {
		return 0
	}
	return n
}

// RemotePath returns the object name of a dataset in the remote library.
func RemotePath(id string) string {
	return id + ".yaml"
}

// IDFromRemotePath inverts RemotePath. The second return is false for
// objects that are not dataset records (no .yaml suffix).
func IDFromRemotePath(name string) (string, bool) {
	id, ok := strings.CutSuffix(name, ".yaml")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

func trimStrings(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
