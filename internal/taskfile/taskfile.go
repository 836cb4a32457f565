// Package taskfile loads and validates JSON task-stream files.
//
// A task file names a registered task, optional keyword arguments, the
// primary stream of argument tuples, and optional auxiliary inputs that
// are cycled or broadcast alongside it:
//
//	{
//	  "task": "shell",
//	  "kwargs": {"cmd": "gzip -k"},
//	  "items": [["a.txt"], ["b.txt"]],
//	  "extras": ["archive"]
//	}
package taskfile

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nibzard/fanout/internal/parallel"
)

const schemaName = "taskfile.schema.json"

// schema is the embedded JSON Schema every task file must satisfy.
const schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["task", "items"],
  "additionalProperties": false,
  "properties": {
    "task": {"type": "string", "minLength": 1},
    "kwargs": {"type": "object"},
    "items": {
      "type": "array",
      "items": {"type": "array"}
    },
    "extras": {"type": "array"}
  }
}`

// File is a parsed, validated task file.
type File struct {
	Task   string         `json:"task"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
	Items  [][]any        `json:"items"`
	Extras []any          `json:"extras,omitempty"`
}

// Load reads, validates, and parses a task file. Validation failures are
// configuration errors; they happen before any task runs.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	return Parse(data)
}

// Parse validates raw task-file bytes against the embedded schema and
// decodes them.
func Parse(data []byte) (*File, error) {
	var obj any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("task file is not valid JSON: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaName, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("load task file schema: %w", err)
	}
	sch, err := compiler.Compile(schemaName)
	if err != nil {
		return nil, fmt.Errorf("compile task file schema: %w", err)
	}
	if err := sch.Validate(obj); err != nil {
		return nil, fmt.Errorf("invalid task file: %w", firstValidationError(err))
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode task file: %w", err)
	}
	return &f, nil
}

// Stream returns the file's items as an argument-tuple stream, with any
// extras cycled or broadcast alongside the primary items.
func (f *File) Stream() parallel.Stream {
	i := 0
	base := parallel.StreamFunc(func() (parallel.Args, bool) {
		if i >= len(f.Items) {
			return nil, false
		}
		item := f.Items[i]
		i++
		return parallel.Args(item), true
	})
	if len(f.Extras) == 0 {
		return base
	}
	return parallel.Zip(base, f.Extras...)
}

// firstValidationError digs the most specific cause out of a jsonschema
// validation error so the message names the offending location.
func firstValidationError(err error) error {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return fmt.Errorf("%s: %s", loc, ve.Message)
}
