// Package openapi embeds the OpenAPI description of the read-only catalog API
// for runtime distribution.
package openapi

import _ "embed"

// CatalogSpec contains the OpenAPI document served by instrumentdb-server.
//
//go:embed catalog-api.yaml
var CatalogSpec []byte

// Spec returns a copy of the embedded catalog OpenAPI YAML.
func Spec() []byte {
	return append([]byte(nil), CatalogSpec...)
}
