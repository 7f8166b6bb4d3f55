package capability

import (
	"fmt"
	"regexp"
)

// toolNameRegex validates the "provider.tool" format a tool capability's
// Name is expected to carry, e.g. "kubernetes-server.get_pods".
var toolNameRegex = regexp.MustCompile(`^([\w][\w-]*)\.([\w][\w-]*)$`)

// SplitToolName splits "provider.tool" into its two parts. Dispatch uses
// the provider half to route to the backing integration and the tool
// half as the literal call the integration performs.
func SplitToolName(name string) (provider, tool string, err error) {
	matches := toolNameRegex.FindStringSubmatch(name)
	if matches == nil {
		return "", "", fmt.Errorf("invalid tool name %q: must be in 'provider.tool' format", name)
	}
	return matches[1], matches[2], nil
}
