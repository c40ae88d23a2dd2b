package tools

import (
	"context"
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/leavesfly/jimi/pkg/message"
)

// ReadFileArguments is reflected by internal/toolschema into read_file's
// parameter schema.
type ReadFileArguments struct {
	Path string `json:"path" jsonschema:"required,description=Path to the file to read, relative to the session work directory"`
}

const maxReadFileBytes = 512 * 1024

// ReadFile reads a file, resolving relative paths against a working
// directory. Absolute paths and relative paths that climb out of the
// working directory are read as given; reads are not confined to it. It is
// read-only and never requests approval.
type ReadFile struct {
	workDir string
	schema  schemaProvider
}

// NewReadFile constructs the read_file reference tool.
func NewReadFile(workDir string, schema schemaProvider) *ReadFile {
	return &ReadFile{workDir: workDir, schema: schema}
}

func (t *ReadFile) Name() string         { return "read_file" }
func (t *ReadFile) Description() string  { return "Read the contents of a file." }
func (t *ReadFile) ParameterSchema() any { return t.schema }

func (t *ReadFile) Execute(_ context.Context, raw json.RawMessage) (message.ContentPart, error) {
	var args ReadFileArguments
	if err := json.Unmarshal(raw, &args); err != nil {
		return message.ContentPart{}, errors.Wrap(err, "decode read_file arguments")
	}
	if args.Path == "" {
		return message.ContentPart{}, errors.New("path parameter is required")
	}

	resolved, err := resolvePath(t.workDir, args.Path)
	if err != nil {
		return message.ContentPart{}, errors.Wrap(err, "resolve path")
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return message.ToolResultPart("", message.StatusError, err.Error(), ""), nil
	}
	if len(data) > maxReadFileBytes {
		data = data[:maxReadFileBytes]
	}
	return message.ToolResultPart("", message.StatusOK, "", string(data)), nil
}
