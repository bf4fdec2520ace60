// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sustainable-computing-io/smaragdine/internal/accounting"
)

// DecodeFlow reads a flow trace. The trace is either a single root node or an
// array of root nodes.
func DecodeFlow(r io.Reader) ([]accounting.Node, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty flow trace")
	}

	if data[0] == '[' {
		var roots []accounting.Node
		if err := json.Unmarshal(data, &roots); err != nil {
			return nil, fmt.Errorf("failed to decode flow trace: %w", err)
		}
		return roots, nil
	}

	var root accounting.Node
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to decode flow trace: %w", err)
	}
	return []accounting.Node{root}, nil
}

// ReadFlowFile reads a flow trace from path
func ReadFlowFile(path string) ([]accounting.Node, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	roots, err := DecodeFlow(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return roots, nil
}
