package masking

import (
	"log/slog"
	"regexp"
	"slices"

	"github.com/aard-ai/aard/pkg/config"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// resolvedPatterns holds the resolved set of maskers and patterns for a masking operation.
type resolvedPatterns struct {
	codeMaskerNames []string           // Names of code-based maskers to apply
	regexPatterns   []*CompiledPattern // Compiled regex patterns to apply
}

// compileBuiltinPatterns compiles all built-in regex patterns from config.
// Invalid patterns are logged and skipped.
func (s *Service) compileBuiltinPatterns() {
	for name, pattern := range config.GetBuiltinConfig().MaskingPatterns {
		compiled, err := regexp.Compile(pattern.Pattern)
		if err != nil {
			slog.Error("failed to compile built-in masking pattern, skipping",
				"pattern", name, "error", err)
			continue
		}
		s.patterns[name] = &CompiledPattern{
			Name:        name,
			Regex:       compiled,
			Replacement: pattern.Replacement,
			Description: pattern.Description,
		}
	}
}

// resolvePatternsFromGroup resolves a single pattern group name into a
// resolvedPatterns, splitting each member into either a registered code
// masker or a compiled regex pattern.
func (s *Service) resolvePatternsFromGroup(groupName string) *resolvedPatterns {
	resolved := &resolvedPatterns{}
	builtin := config.GetBuiltinConfig()

	groupPatterns, ok := s.patternGroups[groupName]
	if !ok {
		return resolved
	}

	seen := make(map[string]bool)
	for _, name := range groupPatterns {
		if seen[name] {
			continue
		}
		seen[name] = true

		if slices.Contains(builtin.CodeMaskers, name) {
			resolved.codeMaskerNames = append(resolved.codeMaskerNames, name)
			continue
		}
		if cp, ok := s.patterns[name]; ok {
			resolved.regexPatterns = append(resolved.regexPatterns, cp)
		}
	}

	return resolved
}
