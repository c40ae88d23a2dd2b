// Package tools holds the two reference registry.Tool bodies — bash and
// read_file — that exist to give the Tool Registry and Approval Gate
// something real to dispatch; a full tool suite is out of this core's
// scope. Grounded on the teacher's internal/tool.BashToolManager and
// FilesystemToolManager, trimmed to their approval-relevant core.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/leavesfly/jimi/pkg/approval"
	"github.com/leavesfly/jimi/pkg/message"
)

const defaultBashTimeout = 2 * time.Minute
const maxBashTimeout = 10 * time.Minute

// BashArguments is reflected by internal/toolschema into bash's parameter
// schema.
type BashArguments struct {
	Command   string `json:"command" jsonschema:"required,description=Shell command to execute"`
	TimeoutMs int    `json:"timeout_ms,omitempty" jsonschema:"description=Optional timeout in milliseconds (max 600000)"`
}

// Bash runs a shell command in a working directory, requesting approval
// for any command not on the configured allow-list before every
// invocation.
type Bash struct {
	workDir   string
	allowlist []string
	gate      *approval.Gate
	schema    schemaProvider
}

type schemaProvider interface {
	RequiredFields() []string
}

// NewBash constructs the bash reference tool. allowlist entries are
// matched as whole-word command prefixes, per the teacher's
// IsCommandWhitelisted check.
func NewBash(workDir string, allowlist []string, gate *approval.Gate, schema schemaProvider) *Bash {
	return &Bash{workDir: workDir, allowlist: allowlist, gate: gate, schema: schema}
}

func (b *Bash) Name() string        { return "bash" }
func (b *Bash) Description() string { return "Execute a shell command with a timeout." }
func (b *Bash) ParameterSchema() any { return b.schema }

func (b *Bash) Execute(ctx context.Context, raw json.RawMessage) (message.ContentPart, error) {
	var args BashArguments
	if err := json.Unmarshal(raw, &args); err != nil {
		return message.ContentPart{}, errors.Wrap(err, "decode bash arguments")
	}
	if strings.TrimSpace(args.Command) == "" {
		return message.ContentPart{}, errors.New("command parameter is required")
	}

	if !b.isWhitelisted(args.Command) {
		resp := b.gate.Request(ctx, b.Name(), args.Command, "run: "+args.Command)
		if resp == approval.Reject {
			return message.ToolResultPart("", message.StatusRejected, "command rejected by user", ""), nil
		}
	}

	timeout := defaultBashTimeout
	if args.TimeoutMs > 0 {
		timeout = time.Duration(args.TimeoutMs) * time.Millisecond
		if timeout > maxBashTimeout {
			timeout = maxBashTimeout
		}
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", args.Command)
	if b.workDir != "" {
		cmd.Dir = b.workDir
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return message.ToolResultPart("", message.StatusError, err.Error(), out.String()), nil
	}
	return message.ToolResultPart("", message.StatusOK, "", out.String()), nil
}

func (b *Bash) isWhitelisted(command string) bool {
	command = strings.TrimSpace(command)
	for _, w := range b.allowlist {
		if !strings.HasPrefix(command, w) {
			continue
		}
		if len(command) == len(w) {
			return true
		}
		if next := command[len(w)]; next == ' ' || next == '\t' {
			return true
		}
	}
	return false
}

// resolvePath resolves path against workDir unless it is already absolute.
func resolvePath(workDir, path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	if workDir == "" {
		return filepath.Abs(path)
	}
	return filepath.Abs(filepath.Join(workDir, path))
}
