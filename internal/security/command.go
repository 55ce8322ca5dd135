package security

import (
	"fmt"
	"strings"
)

// CommandPolicy gates any shell-like surface behind the security envelope.
// Commands must be on the allowlist and every argument must be free of
// shell metacharacters, command substitution, and variable expansion.
type CommandPolicy struct {
	allowed       map[string]bool
	maxCommandLen int
	maxArgLen     int
}

// NewCommandPolicy creates a policy permitting only the named commands.
func NewCommandPolicy(allowed []string, maxCommandLen, maxArgLen int) *CommandPolicy {
	if maxCommandLen <= 0 {
		maxCommandLen = 1024
	}
	if maxArgLen <= 0 {
		maxArgLen = 256
	}
	set := make(map[string]bool, len(allowed))
	for _, c := range allowed {
		set[c] = true
	}
	return &CommandPolicy{allowed: set, maxCommandLen: maxCommandLen, maxArgLen: maxArgLen}
}

// forbiddenArgChars are rejected anywhere in an argument: shell separators,
// redirection, globbing, expansion, and control bytes.
const forbiddenArgChars = ";|&><{[*?~\n\r\x00"

// Validate checks a full command line. The first field is the command name,
// the rest are arguments.
func (p *CommandPolicy) Validate(commandLine string) error {
	if len(commandLine) > p.maxCommandLen {
		return fmt.Errorf("security: command exceeds %d characters", p.maxCommandLen)
	}

	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return fmt.Errorf("security: empty command")
	}

	if !p.allowed[fields[0]] {
		return fmt.Errorf("security: command %q is not allowed", fields[0])
	}

	for _, arg := range fields[1:] {
		if len(arg) > p.maxArgLen {
			return fmt.Errorf("security: argument exceeds %d characters", p.maxArgLen)
		}
		if strings.ContainsAny(arg, forbiddenArgChars) {
			return fmt.Errorf("security: argument %q contains forbidden characters", arg)
		}
		if strings.Contains(arg, "$(") || strings.Contains(arg, "`") {
			return fmt.Errorf("security: argument %q contains command substitution", arg)
		}
		if strings.Contains(arg, "$") {
			return fmt.Errorf("security: argument %q contains variable expansion", arg)
		}
	}
	return nil
}
