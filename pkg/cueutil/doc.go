// SPDX-License-Identifier: MPL-2.0

// Package cueutil wraps the schema-first CUE decode used for upkeep's config files:
// compile the embedded schema, unify the user file with a root definition,
// validate, then decode.
//
//	//go:embed config_schema.cue
//	var schema string
//
//	res, err := cueutil.ParseAndDecodeString[Config](schema, data, "#Config",
//	    cueutil.WithFilename("config.cue"))
//
// Errors carry the file name and a JSON-style field path such as
// "http.api_timeout: conflicting values".
package cueutil
