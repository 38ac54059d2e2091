// Package preprocess rewrites import-style statements in submitted
// scripts into capability-loader bindings, annotating anything the
// allowlist refuses as a visible no-op instead of failing the script.
package preprocess

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/harun/crucible/pkg/capability"
)

const blockedMarker = "# [sandbox] blocked import:"

// Note records one import statement the preprocessor acted on.
type Note struct {
	// Line is the 1-based source line of the statement
	Line int

	// Target is the module name the script asked for
	Target string

	// Action is ActionRewritten or ActionBlocked
	Action string
}

// Actions recorded in audit notes.
const (
	ActionRewritten = "rewritten"
	ActionBlocked   = "blocked"
)

// Result is the outcome of preprocessing one script.
type Result struct {
	// Rewritten is the transformed script, line count preserved
	Rewritten string

	// Notes is the audit log, in source order
	Notes []Note

	// Blocked lists the distinct module names that were refused
	Blocked []string
}

var (
	importRe = regexp.MustCompile(`^(\s*)import\s+([A-Za-z_][\w.]*(?:\s+as\s+[A-Za-z_]\w*)?(?:\s*,\s*[A-Za-z_][\w.]*(?:\s+as\s+[A-Za-z_]\w*)?)*)\s*$`)
	fromRe   = regexp.MustCompile(`^(\s*)from\s+([A-Za-z_][\w.]*)\s+import\s+(\*|[A-Za-z_]\w*(?:\s+as\s+[A-Za-z_]\w*)?(?:\s*,\s*[A-Za-z_]\w*(?:\s+as\s+[A-Za-z_]\w*)?)*)\s*$`)
)

// Preprocess scans src line by line for import statements and rewrites
// them against the registry's allowlist. Every import is either turned
// into a _require_ binding or replaced with an annotated comment, so
// the output contains no import statements at all. Running Preprocess
// on its own output is a no-op.
func Preprocess(src string, reg *capability.Registry) Result {
	var result Result
	blocked := map[string]bool{}

	lines := strings.Split(src, "\n")
	for i, line := range lines {
		lineNo := i + 1
		code := stripTrailingComment(line)

		if m := importRe.FindStringSubmatch(code); m != nil {
			lines[i] = rewriteImport(m[1], m[2], lineNo, reg, &result, blocked)
			continue
		}
		if m := fromRe.FindStringSubmatch(code); m != nil {
			lines[i] = rewriteFromImport(m[1], m[2], m[3], lineNo, reg, &result, blocked)
			continue
		}
	}

	result.Rewritten = strings.Join(lines, "\n")
	return result
}

// rewriteImport handles "import a, b.c as d". Each resolvable target
// becomes an assignment from the loader; refused targets collect into a
// trailing annotation. One input line stays one output line so error
// positions in the rewritten script still point at the right source.
func rewriteImport(indent, clause string, lineNo int, reg *capability.Registry, result *Result, blocked map[string]bool) string {
	var bindings []string
	var refused []string

	for _, item := range strings.Split(clause, ",") {
		name, alias := splitAlias(item)
		root := moduleRoot(name)
		bound := alias
		if bound == "" {
			bound = root
		}

		if canonical, ok := reg.Canonical(root); ok {
			bindings = append(bindings, fmt.Sprintf("%s = _require_(%q)", bound, canonical))
			result.Notes = append(result.Notes, Note{Line: lineNo, Target: name, Action: ActionRewritten})
		} else {
			refused = append(refused, name)
			result.Notes = append(result.Notes, Note{Line: lineNo, Target: name, Action: ActionBlocked})
			if !blocked[root] {
				blocked[root] = true
				result.Blocked = append(result.Blocked, root)
			}
		}
	}

	return assemble(indent, bindings, refused)
}

// rewriteFromImport handles "from x import a as b, c" and
// "from x import *". When a bound name would shadow the module it came
// from, the whole container is bound instead of the member; rebinding a
// container name to one of its own members breaks every later qualified
// reference in the session.
func rewriteFromImport(indent, module, clause string, lineNo int, reg *capability.Registry, result *Result, blocked map[string]bool) string {
	root := moduleRoot(module)
	canonical, ok := reg.Canonical(root)
	if !ok {
		result.Notes = append(result.Notes, Note{Line: lineNo, Target: module, Action: ActionBlocked})
		if !blocked[root] {
			blocked[root] = true
			result.Blocked = append(result.Blocked, root)
		}
		return assemble(indent, nil, []string{module})
	}

	var bindings []string
	if clause == "*" {
		bindings = append(bindings, fmt.Sprintf("%s = _require_(%q)", root, canonical))
	} else {
		for _, item := range strings.Split(clause, ",") {
			member, alias := splitAlias(item)
			bound := alias
			if bound == "" {
				bound = member
			}
			if bound == root || bound == canonical {
				bindings = append(bindings, fmt.Sprintf("%s = _require_(%q)", bound, canonical))
			} else {
				bindings = append(bindings, fmt.Sprintf("%s = _require_(%q).%s", bound, canonical, member))
			}
		}
	}

	result.Notes = append(result.Notes, Note{Line: lineNo, Target: module, Action: ActionRewritten})
	return assemble(indent, bindings, nil)
}

func assemble(indent string, bindings, refused []string) string {
	switch {
	case len(bindings) == 0:
		return indent + blockedMarker + " " + strings.Join(refused, ", ")
	case len(refused) == 0:
		return indent + strings.Join(bindings, "; ")
	default:
		return indent + strings.Join(bindings, "; ") + "  " + blockedMarker + " " + strings.Join(refused, ", ")
	}
}

// stripTrailingComment drops a trailing #-comment from an import-style
// line so a commented import still matches the statement patterns.
// Import statements cannot carry string literals, so on these lines the
// first '#' always starts a comment. Every other line passes through
// untouched.
func stripTrailingComment(line string) string {
	trimmed := strings.TrimLeft(line, " \t")
	if !strings.HasPrefix(trimmed, "import ") && !strings.HasPrefix(trimmed, "from ") {
		return line
	}
	if i := strings.IndexByte(line, '#'); i >= 0 {
		return strings.TrimRight(line[:i], " \t")
	}
	return line
}

func splitAlias(item string) (name, alias string) {
	fields := strings.Fields(item)
	if len(fields) == 3 && fields[1] == "as" {
		return fields[0], fields[2]
	}
	if len(fields) > 0 {
		return fields[0], ""
	}
	return "", ""
}

func moduleRoot(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}
