package capability

import (
	"fmt"
	"path"
	"strings"
)

// baseValidate applies the checks every capability shares: parameters must
// satisfy the compiled schema (when one was registered) and every
// file-addressing parameter must be workspace-relative and non-traversing.
// Validation is pure; it never touches the host.
func (i *Instance) baseValidate(params map[string]any) []string {
	var errs []string
	if i.schema != nil {
		if err := i.schema.Validate(normalizeSchemaDoc(params)); err != nil {
			errs = append(errs, fmt.Sprintf("parameters do not match schema: %v", err))
		}
	}
	for name, value := range params {
		if !isPathParameter(name) {
			continue
		}
		s, ok := value.(string)
		if !ok {
			continue
		}
		if reason, bad := pathViolation(s); bad {
			errs = append(errs, fmt.Sprintf("parameter %q: %s", name, reason))
		}
	}
	return errs
}

// isPathParameter reports whether a parameter name addresses a file. The
// convention matches the capability catalog: "path", names ending in "path"
// ("file_path", "targetPath") and "file"/"directory" parameters all address
// workspace entries.
func isPathParameter(name string) bool {
	n := strings.ToLower(name)
	switch n {
	case "path", "file", "filename", "directory", "dir":
		return true
	}
	return strings.HasSuffix(n, "path")
}

// pathViolation checks the workspace-relative, non-traversing policy for one
// path value.
func pathViolation(p string) (string, bool) {
	if p == "" {
		return "path is empty", true
	}
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, "\\") {
		return "absolute paths are not allowed", true
	}
	if len(p) > 1 && p[1] == ':' {
		// Windows drive-letter prefix.
		return "absolute paths are not allowed", true
	}
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return "parent-directory traversal is not allowed", true
		}
	}
	// Cleaning must not escape the workspace root either.
	if cleaned := path.Clean(strings.ReplaceAll(p, "\\", "/")); cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "parent-directory traversal is not allowed", true
	}
	return "", false
}
