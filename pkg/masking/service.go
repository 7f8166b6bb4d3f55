// Package masking redacts secret/PII patterns from request and step
// payloads before they are written to the execution event journal
// (spec: defaults.request_payload_masking).
package masking

import (
	"log/slog"

	"github.com/aard-ai/aard/pkg/config"
)

// Service applies data masking to request and step payloads before they
// reach the journal. Created once at application startup (singleton).
// Thread-safe and stateless aside from its compiled patterns.
type Service struct {
	cfg           *config.MaskingDefaults
	patterns      map[string]*CompiledPattern // built-in compiled patterns
	patternGroups map[string][]string         // group name -> pattern names
	codeMaskers   map[string]Masker           // registered code-based maskers
}

// NewService creates a masking service with compiled patterns and
// registered maskers. All patterns are compiled eagerly at creation
// time; invalid patterns are logged and skipped.
func NewService(cfg *config.MaskingDefaults) *Service {
	if cfg == nil {
		cfg = &config.MaskingDefaults{}
	}
	s := &Service{
		cfg:           cfg,
		patterns:      make(map[string]*CompiledPattern),
		patternGroups: config.GetBuiltinConfig().PatternGroups,
		codeMaskers:   make(map[string]Masker),
	}

	s.compileBuiltinPatterns()
	s.registerMasker(&KubernetesSecretMasker{})

	slog.Info("masking service initialized",
		"builtin_patterns", len(config.GetBuiltinConfig().MaskingPatterns),
		"compiled_patterns", len(s.patterns),
		"code_maskers", len(s.codeMaskers),
		"enabled", cfg.Enabled, "pattern_group", cfg.PatternGroup)

	return s
}

// Mask applies the configured pattern group to payload. Fail-open:
// masking failures pass the original payload through rather than
// blocking persistence of the event it belongs to, since a missed
// redaction is recoverable (rotate the secret) but a dropped journal
// entry is not.
func (s *Service) Mask(payload string) string {
	if !s.cfg.Enabled || payload == "" {
		return payload
	}

	resolved := s.resolvePatternsFromGroup(s.cfg.PatternGroup)
	if len(resolved.codeMaskerNames) == 0 && len(resolved.regexPatterns) == 0 {
		return payload
	}

	return s.applyMasking(payload, resolved)
}

// applyMasking applies code-based maskers then regex patterns to content.
func (s *Service) applyMasking(content string, resolved *resolvedPatterns) string {
	masked := content

	for _, maskerName := range resolved.codeMaskerNames {
		masker, ok := s.codeMaskers[maskerName]
		if !ok {
			continue
		}
		if masker.AppliesTo(masked) {
			masked = masker.Mask(masked)
		}
	}

	for _, pattern := range resolved.regexPatterns {
		masked = pattern.Regex.ReplaceAllString(masked, pattern.Replacement)
	}

	return masked
}

// registerMasker registers a code-based masker by its name.
func (s *Service) registerMasker(m Masker) {
	s.codeMaskers[m.Name()] = m
}
