// Package openapi embeds the HTTP contract of the agent gateway.
package openapi

import (
	_ "embed"
	"sync"

	"sigs.k8s.io/yaml"
)

//go:embed spec.yaml
var specYAML []byte

var specJSON = sync.OnceValues(func() ([]byte, error) {
	return yaml.YAMLToJSON(specYAML)
})

// JSON returns the OpenAPI document serialized as JSON. The conversion runs once.
func JSON() ([]byte, error) {
	return specJSON()
}

// YAML returns the raw OpenAPI YAML document.
func YAML() []byte {
	return specYAML
}
