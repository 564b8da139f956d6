package overpass

import (
	"fmt"
	"strings"
)

// BuildQuery assembles the Overpass QL query requesting the admin_level=2
// boundary relation for each ISO 3166-1 code.
func BuildQuery(countryCodes []string) string {
	var sb strings.Builder
	sb.WriteString("[out:json][timeout:300];\n(\n")
	for _, code := range countryCodes {
		fmt.Fprintf(&sb, "relation[\"admin_level\"=\"2\"][\"ISO3166-1\"=%q];\n", code)
	}
	sb.WriteString(");\nout body;\n>;\nout skel qt;")
	return sb.String()
}
