// Package openapi carries the API contract for embedding into release builds.
package openapi

import _ "embed"

//go:embed openapi.yaml
var Spec []byte
