package profile

import _ "embed"

//go:embed rules.yaml
var rulesYAML []byte

//go:embed profiles/global.yaml
var globalYAML []byte

//go:embed profiles/eu.yaml
var euYAML []byte

// builtinProfiles maps profile names to their embedded YAML content.
var builtinProfiles = map[string][]byte{
	"global": globalYAML,
	"eu":     euYAML,
}
