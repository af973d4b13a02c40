// Package paths resolves stage path templates against a concrete
// (project, genus, tag, entity, stage) tuple. Resolution is pure: no
// filesystem access happens until Exists is called.
package paths

import (
	"os"
	"regexp"
	"strings"

	"samkit/internal/domain"
)

// Placeholder syntax is a stable persisted contract; changing it is a
// breaking schema change.
var placeholderRe = regexp.MustCompile(`\{([a-z]+)\}`)

var knownPlaceholders = map[string]bool{
	"project": true,
	"genus":   true,
	"tag":     true,
	"entity":  true,
	"stage":   true,
}

// Context supplies concrete values for the template placeholders.
// Project should be the project root (trailing separators are trimmed
// during substitution so "P:/" joins cleanly with "/asset/...").
type Context struct {
	Project string
	Genus   string
	Tag     string
	Entity  string
	Stage   string
}

// For builds a Context from catalog records for the task owning them.
func For(project domain.Project, tag domain.Tag, entity domain.Entity, stage domain.Stage) Context {
	return Context{
		Project: project.Root,
		Genus:   stage.Genus,
		Tag:     tag.Name,
		Entity:  entity.Name,
		Stage:   stage.Name,
	}
}

func (c Context) value(name string) (string, bool) {
	switch name {
	case "project":
		return strings.TrimRight(c.Project, `/\`), c.Project != ""
	case "genus":
		return c.Genus, c.Genus != ""
	case "tag":
		return c.Tag, c.Tag != ""
	case "entity":
		return c.Entity, c.Entity != ""
	case "stage":
		return c.Stage, c.Stage != ""
	}
	return "", false
}

// Resolve substitutes every placeholder in template with the matching
// context value. Deterministic and idempotent for identical inputs.
// A placeholder without a context value is a configuration error.
func Resolve(template string, ctx Context) (string, error) {
	var missing string
	out := placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		v, ok := ctx.value(name)
		if !ok {
			if missing == "" {
				missing = name
			}
			return match
		}
		return v
	})
	if missing != "" {
		return "", domain.UnresolvedPlaceholder(missing)
	}
	return out, nil
}

// Validate checks a template at catalog-write time: every placeholder
// must belong to the known set, so bad templates fail fast instead of
// at resolve time.
func Validate(template string) error {
	if strings.TrimSpace(template) == "" {
		return domain.ConfigError("template is empty")
	}
	for _, m := range placeholderRe.FindAllStringSubmatch(template, -1) {
		if !knownPlaceholders[m[1]] {
			return domain.ConfigError("template references unknown placeholder {%s}", m[1])
		}
	}
	if i := strings.IndexAny(strings.ReplaceAll(placeholderRe.ReplaceAllString(template, ""), "\\", "/"), "{}"); i >= 0 {
		return domain.ConfigError("template contains unbalanced braces")
	}
	return nil
}

// IsDir reports whether the template (or a resolved path) denotes a
// directory by the trailing-separator convention. The caller decides
// what filename to place within a directory target.
func IsDir(path string) bool {
	return strings.HasSuffix(path, "/") || strings.HasSuffix(path, `\`)
}

// Exists probes the filesystem for a resolved path. Kept separate from
// Resolve so resolution stays testable without I/O.
func Exists(path string) bool {
	_, err := os.Stat(strings.TrimRight(path, `/\`))
	return err == nil
}
