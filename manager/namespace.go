package manager

import "strings"

// DefaultPrefix is prepended to every namespaced tool name unless the
// manager is configured otherwise.
const DefaultPrefix = "mcp"

// Namespaced builds the aggregate-catalog name for a server's tool:
// <prefix>_<server>_<tool>. Server names never contain underscores, so
// the result parses back unambiguously even when the tool name itself
// has underscores.
func Namespaced(prefix, server, tool string) string {
	return prefix + "_" + server + "_" + tool
}

// ParseNamespaced splits a namespaced name back into its server and
// tool segments. The tool segment keeps any underscores it had.
func ParseNamespaced(prefix, name string) (server, tool string, err error) {
	head := prefix + "_"
	if !strings.HasPrefix(name, head) {
		return "", "", &InvalidNameError{Name: name, Reason: "missing prefix " + strings.TrimSuffix(head, "_")}
	}
	rest := strings.TrimPrefix(name, head)
	server, tool, found := strings.Cut(rest, "_")
	if !found {
		return "", "", &InvalidNameError{Name: name, Reason: "want <prefix>_<server>_<tool>"}
	}
	if server == "" {
		return "", "", &InvalidNameError{Name: name, Reason: "empty server segment"}
	}
	if tool == "" {
		return "", "", &InvalidNameError{Name: name, Reason: "empty tool segment"}
	}
	return server, tool, nil
}
