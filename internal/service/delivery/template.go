package delivery

import (
	"regexp"
	"strings"

	"github.com/jwalitptl/dispatch-api/internal/model"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// RenderTemplate substitutes {{variable}} placeholders from contact metadata.
// Unresolved placeholders are left in the text verbatim and reported so the
// caller can log them; a missing variable is never a delivery error.
func RenderTemplate(template string, metadata model.JSONMap) (string, []string) {
	var unresolved []string
	rendered := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.TrimSpace(strings.Trim(match, "{}"))
		if metadata != nil {
			if _, ok := metadata[name]; ok {
				return metadata.StringValue(name)
			}
		}
		unresolved = append(unresolved, name)
		return match
	})
	return rendered, unresolved
}
