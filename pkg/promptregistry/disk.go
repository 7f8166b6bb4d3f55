package promptregistry

import (
	"embed"
	"fmt"

	"github.com/aard-ai/aard/pkg/models"
)

//go:embed disk
var diskPrompts embed.FS

// diskFallback returns the built-in system prompt body shipped with the
// binary for stage, the last stop in the resolution order when no
// PromptAssignment resolves. It never errors on the canonical stages:
// a missing file here is a packaging bug, not a runtime condition.
func diskFallback(stage models.Stage) (string, bool) {
	data, err := diskPrompts.ReadFile(fmt.Sprintf("disk/%s.txt", stage))
	if err != nil {
		return "", false
	}
	return string(data), true
}
