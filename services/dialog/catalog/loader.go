// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"bytes"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
)

// catalogFile is the on-disk YAML shape.
type catalogFile struct {
	Intents []datatypes.Intent `yaml:"intents"`
}

// Parse decodes a catalog document. Unknown fields are rejected so a
// typoed key fails loudly instead of silently dropping configuration.
func Parse(data []byte) ([]datatypes.Intent, error) {
	var file catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, faults.Wrap(err, faults.CodeCatalogInvalid, "catalog yaml parse failed")
	}
	if len(file.Intents) == 0 {
		return nil, faults.New(faults.CodeCatalogInvalid, "catalog file declares no intents")
	}
	return file.Intents, nil
}

// LoadFile reads and parses a catalog file.
func LoadFile(path string) ([]datatypes.Intent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, faults.Wrapf(err, faults.CodeCatalogInvalid, "read catalog %s", path)
	}
	return Parse(data)
}
