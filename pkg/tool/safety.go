package tool

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Refusal reason tags. Policy refusals keep their specific reason; they are
// never downgraded to a generic failure.
const (
	ReasonValidation = "validation"
	ReasonProtected  = "protected"
	ReasonPath       = "path"
	ReasonBudget     = "action budget"
)

// Policy is the static safety policy evaluated on every invocation of a
// lifecycle-affecting or filesystem-writing tool.
type Policy struct {
	ProtectedNodes      []string
	AllowedPathPrefixes []string // cleaned absolute prefixes ending in "/"
}

// NodeProtected reports whether a node may not be modified.
func (p Policy) NodeProtected(name string) bool {
	for _, n := range p.ProtectedNodes {
		if n == name {
			return true
		}
	}
	return false
}

// CheckPath rejects write paths containing parent traversal or falling
// outside every allowed prefix. Evaluated before any file is opened.
func (p Policy) CheckPath(path string) error {
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return fmt.Errorf("path %q contains a parent-directory segment", path)
		}
	}
	clean := filepath.Clean(path)
	for _, prefix := range p.AllowedPathPrefixes {
		if strings.HasPrefix(clean+"/", prefix) || strings.HasPrefix(clean, prefix) {
			return nil
		}
	}
	return fmt.Errorf("path %q is not under an allowed prefix %v", path, p.AllowedPathPrefixes)
}

// Budget gates effect-causing tool calls for one caller, typically a
// watcher's rolling max-actions-per-hour counter. Allow must be safe for
// concurrent use.
type Budget interface {
	// Allow consumes one action slot, reporting false when exhausted.
	Allow() bool
}
