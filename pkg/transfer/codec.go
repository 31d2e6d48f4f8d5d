// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transfer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
)

// zstdMagic starts every zstd frame.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// FileName returns the conventional download name of a snapshot taken at t.
func FileName(t time.Time, compressed bool) string {
	name := "edge-node-data-" + t.UTC().Format("2006-01-02") + ".json"
	if compressed {
		name += ".zst"
	}

	return name
}

// Encode writes snap as JSON, zstd compressed when compress is set.
func Encode(w io.Writer, snap Snapshot, compress bool) error {
	if !compress {
		return json.NewEncoder(w).Encode(snap)
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	if err := json.NewEncoder(enc).Encode(snap); err != nil {
		_ = enc.Close()

		return err
	}

	return enc.Close()
}

// Decode reads a snapshot written by Encode. Compression is detected from
// the zstd frame magic. Missing collections decode as empty.
func Decode(r io.Reader) (Snapshot, error) {
	br := bufio.NewReader(r)

	var src io.Reader = br

	head, err := br.Peek(len(zstdMagic))
	if err == nil && bytes.Equal(head, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return Snapshot{}, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer dec.Close()

		src = dec
	}

	var snap Snapshot
	if err := json.NewDecoder(src).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("%w: malformed snapshot: %w", persistence.ErrValidation, err)
	}

	if snap.Settings == nil {
		snap.Settings = map[string]interface{}{}
	}

	return snap, nil
}
