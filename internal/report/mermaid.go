package report

import (
	"fmt"
	"strings"

	"github.com/user/attackdiff/internal/diff"
)

// maxDiagramNodes bounds each subgraph so large diffs stay renderable.
const maxDiagramNodes = 25

// GenerateDiffDiagram creates a Mermaid flowchart grouping the hosts of a
// diff into new, missing and changed.
func GenerateDiffDiagram(res diff.Result) string {
	var sb strings.Builder

	sb.WriteString("```mermaid\n")
	sb.WriteString("flowchart LR\n")

	var newHosts, missingHosts, changedHosts []string
	for _, id := range res.NewIDs() {
		newHosts = append(newHosts, id.String())
	}
	for _, id := range res.MissingIDs() {
		missingHosts = append(missingHosts, id.String())
	}
	changedLabels := make(map[string]string, len(res.Changed))
	for _, c := range res.Changed {
		changedHosts = append(changedHosts, c.Host)
		changedLabels[c.Host] = changeLabel(c)
	}

	writeSubgraph(&sb, "New", "new", newHosts, nil)
	writeSubgraph(&sb, "Missing", "missing", missingHosts, nil)
	writeSubgraph(&sb, "Changed", "changed", changedHosts, changedLabels)

	sb.WriteString("\n")
	sb.WriteString("    classDef new fill:#90EE90,stroke:#228B22\n")
	sb.WriteString("    classDef missing fill:#FFB6C1,stroke:#FF0000\n")
	sb.WriteString("    classDef changed fill:#FFE4B5,stroke:#FF8C00\n")
	sb.WriteString("```\n")

	return sb.String()
}

func writeSubgraph(sb *strings.Builder, title, class string, hosts []string, labels map[string]string) {
	if len(hosts) == 0 {
		return
	}
	sb.WriteString(fmt.Sprintf("    subgraph %s\n", title))
	for i, host := range hosts {
		if i == maxDiagramNodes {
			sb.WriteString(fmt.Sprintf("    %s_more[\"... %d more\"]\n", class, len(hosts)-maxDiagramNodes))
			break
		}
		label := shortenHostname(host)
		if extra := labels[host]; extra != "" {
			label += "<br/>" + extra
		}
		nodeID := fmt.Sprintf("%s%d", class, i+1)
		sb.WriteString(fmt.Sprintf("    %s[\"%s\"]:::%s\n", nodeID, escapeLabel(label), class))
	}
	sb.WriteString("    end\n")
}

func changeLabel(c diff.Change) string {
	var parts []string
	if len(c.PortsAdded) > 0 {
		parts = append(parts, "+"+joinInts(c.PortsAdded))
	}
	if len(c.PortsRemoved) > 0 {
		parts = append(parts, "-"+joinInts(c.PortsRemoved))
	}
	return strings.Join(parts, " ")
}

func shortenHostname(hostname string) string {
	if len(hostname) > 40 {
		return hostname[:37] + "..."
	}
	return hostname
}

func escapeLabel(s string) string {
	return strings.ReplaceAll(s, `"`, "#quot;")
}
