package job

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// descriptorSchema describes the record the remote queue hands out.
const descriptorSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "container", "driver", "site", "status"],
  "properties": {
    "id":        {"type": ["string", "integer"], "minLength": 1, "minimum": 0},
    "container": {"type": "string"},
    "driver":    {"type": "string", "minLength": 1},
    "site":      {"type": "string", "minLength": 1},
    "status":    {"type": "string", "minLength": 1},
    "tag":       {"type": "string"},
    "log":       {"type": "string"}
  }
}`

var compiledSchema = jsonschema.MustCompileString("descriptor.json", descriptorSchema)

// Descriptor is an intake record for a new job.
type Descriptor struct {
	ID        string
	Container string
	Driver    Driver
	Site      string
	Status    Status
	Tag       string
	Log       string
}

// ParseDescriptor decodes and validates a JSON descriptor. The id may be a
// JSON string or a non-negative integer.
func ParseDescriptor(data []byte) (Descriptor, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return Descriptor{}, &ValidationError{Reason: "malformed JSON", Err: err}
	}

	if err := compiledSchema.Validate(doc); err != nil {
		return Descriptor{}, schemaError(err)
	}

	m := doc.(map[string]any)
	d := Descriptor{
		ID:        idString(m["id"]),
		Container: str(m["container"]),
		Driver:    Driver(str(m["driver"])),
		Site:      str(m["site"]),
		Status:    Status(str(m["status"])),
		Tag:       str(m["tag"]),
		Log:       str(m["log"]),
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// Validate checks the semantic rules the schema cannot express.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(d.Site) == "" {
		return &ValidationError{Field: "site", Reason: "must not be empty"}
	}
	if d.Status == "" {
		return &ValidationError{Field: "status", Reason: "must not be empty"}
	}
	return ValidateDriver(d.Driver)
}

// NewJob builds a pending job from a validated descriptor. Incoming status,
// container, tag and log are not trusted: a new job has no sandbox yet.
func (d Descriptor) NewJob() *Job {
	return &Job{
		ID:     d.ID,
		Driver: d.Driver,
		Site:   d.Site,
		Status: StatusPending,
		Tag:    Tag(d.Driver, d.Site, ""),
	}
}

func schemaError(err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ValidationError{Reason: err.Error(), Err: err}
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	field := strings.TrimPrefix(ve.InstanceLocation, "/")
	return &ValidationError{Field: field, Reason: ve.Message, Err: err}
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	default:
		return fmt.Sprint(id)
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
