// interpolate.go substitutes ${name} variables in assembled bundles.
package prompt

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/construct-dev/construct/internal/ports"
)

var variablePattern = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)\}`)

// Interpolate replaces every ${name} token with the matching variable's
// value. Tokens with no matching variable are left verbatim.
func Interpolate(content string, variables map[string]string) string {
	return variablePattern.ReplaceAllStringFunc(content, func(token string) string {
		name := token[2 : len(token)-1]
		if value, ok := variables[name]; ok {
			return value
		}
		return token
	})
}

// ServiceInfo describes one supervised service for the bundle's
// service table.
type ServiceInfo struct {
	Name        string
	ID          string
	Allocations []ports.Allocation
}

// AppendServiceTable appends a deterministic Markdown table describing
// the construct's services, their ports, and the environment variables
// the ports are exposed through. Services are listed by name order.
func AppendServiceTable(bundle *Bundle, services []ServiceInfo) {
	if len(services) == 0 {
		return
	}

	sorted := make([]ServiceInfo, len(services))
	copy(sorted, services)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var b strings.Builder
	b.WriteString("\n\n## Services\n\n")
	b.WriteString("| Service | ID | Ports | Environment |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for _, svc := range sorted {
		portCol := make([]string, 0, len(svc.Allocations))
		envCol := make([]string, 0, len(svc.Allocations))
		for _, a := range svc.Allocations {
			portCol = append(portCol, fmt.Sprintf("%s=%d", a.Name, a.Port))
			if a.EnvVar != "" {
				envCol = append(envCol, a.EnvVar)
			}
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
			svc.Name, svc.ID, strings.Join(portCol, ", "), strings.Join(envCol, ", "))
	}

	bundle.Content += b.String()
	bundle.TokenEstimate = EstimateTokens(bundle.Content)
}
