//go:build embed_openapi

package api

import "fleetroute/openapi"

func openAPILoad() ([]byte, error) { return openapi.Spec, nil }
