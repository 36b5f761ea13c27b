/*
Copyright 2025 Pextra Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package localstore

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// Path of a blob inside an image layout
func blobPath(base string, d digest.Digest) string {
	return filepath.Join(base, v1.ImageBlobsDir, d.Algorithm().String(), d.Encoded())
}

// Returns the layers whose media type is one of mediaTypes, in manifest order
func layersByMediaType(layers []v1.Descriptor, mediaTypes ...string) []v1.Descriptor {
	var filtered []v1.Descriptor
	for _, layer := range layers {
		if slices.Contains(mediaTypes, layer.MediaType) {
			filtered = append(filtered, layer)
		}
	}
	return filtered
}

func readJSONFile(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Reads a blob and checks it against its digest
func readBlob(base string, d digest.Digest) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid digest %q: %w", d, err)
	}
	b, err := os.ReadFile(blobPath(base, d))
	if err != nil {
		return nil, err
	}
	if got := d.Algorithm().FromBytes(b); got != d {
		return nil, fmt.Errorf("blob %s has digest %s", d, got)
	}
	return b, nil
}

func readBlobJSON(base string, d digest.Digest, v any) error {
	b, err := readBlob(base, d)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Writes b to path through a temporary file in the same directory
func writeFileAtomic(path string, b []byte) error {
	return writeAtomic(path, func(w io.Writer) error {
		_, err := w.Write(b)
		return err
	})
}

// Copies the blob described by desc to path, verifying its size and digest
// while copying. Nothing is left at path when verification fails.
func copyBlob(base string, desc v1.Descriptor, path string) error {
	if err := desc.Digest.Validate(); err != nil {
		return fmt.Errorf("invalid digest %q: %w", desc.Digest, err)
	}
	src, err := os.Open(blobPath(base, desc.Digest))
	if err != nil {
		return err
	}
	defer src.Close()

	return writeAtomic(path, func(w io.Writer) error {
		verifier := desc.Digest.Verifier()
		n, err := io.Copy(io.MultiWriter(w, verifier), src)
		if err != nil {
			return err
		}
		if desc.Size > 0 && n != desc.Size {
			return fmt.Errorf("blob %s: copied %d bytes, descriptor says %d", desc.Digest, n, desc.Size)
		}
		if !verifier.Verified() {
			return fmt.Errorf("blob %s failed digest verification", desc.Digest)
		}
		return nil
	})
}

func writeAtomic(path string, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := fill(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
