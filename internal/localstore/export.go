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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"

	"github.com/PextraCloud/pce-cli/internal/images"
	pextraoci "github.com/PextraCloud/pce-cli/pkg/pextra-oci"
)

// Suffix of the exported manifest object
const manifestExt = "imgmanifest"

// ExportImage copies the manifest and image layer of image id below the
// objects root, in the directory named by mantaPath. A leading "~~" in
// mantaPath stands for the objects root itself.
func (s *Store) ExportImage(ctx context.Context, id, mantaPath string) (*images.ExportPath, error) {
	rel, err := objectDir(mantaPath)
	if err != nil {
		return nil, err
	}
	e, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	raw, err := readBlob(s.dir, e.desc.Digest)
	if err != nil {
		return nil, fmt.Errorf("load manifest %s: %w", e.desc.Digest, err)
	}
	var manifest v1.Manifest
	if err := unmarshalManifest(raw, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", e.desc.Digest, err)
	}

	imageType, _ := checkManifestAnnotations(e.desc)
	layers := layersByMediaType(manifest.Layers, pextraoci.LayerMediaTypes(imageType)...)
	if len(layers) == 0 {
		return nil, fmt.Errorf("manifest %s has no %s image layer", e.desc.Digest, imageType)
	}
	layer := layers[0]

	base, err := objectBase(&e.image)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(s.objectsRoot, filepath.FromSlash(rel))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	manifestName := base + "." + manifestExt
	layerName := base + "." + pextraoci.LayerExtension(layer.MediaType)
	log := s.log.WithFields(logrus.Fields{"image": e.image.ID, "dir": dir})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := writeFileAtomic(filepath.Join(dir, manifestName), raw); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	log.WithField("file", manifestName).Debug("exported manifest")

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := copyBlob(s.dir, layer, filepath.Join(dir, layerName)); err != nil {
		return nil, fmt.Errorf("export layer %s: %w", layer.Digest, err)
	}
	log.WithFields(logrus.Fields{"file": layerName, "size": layer.Size}).Debug("exported image layer")

	return &images.ExportPath{
		MantaURL:     "file://" + filepath.ToSlash(s.objectsRoot),
		ManifestPath: path.Join("/", rel, manifestName),
		ImagePath:    path.Join("/", rel, layerName),
	}, nil
}

func (s *Store) find(ctx context.Context, id string) (*entry, error) {
	entries, err := s.entries(ctx)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].image.ID == id {
			return &entries[i], nil
		}
	}
	return nil, fmt.Errorf("image %s not found in %s", id, s.dir)
}

// Normalizes an object path to a slash separated path relative to the
// objects root. Paths leaving the root are rejected.
func objectDir(mantaPath string) (string, error) {
	p := strings.TrimPrefix(mantaPath, "~~")
	if p == "" {
		return "", fmt.Errorf("empty object path")
	}
	clean := path.Clean("/" + p)
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("object path %q leaves the objects root", mantaPath)
		}
	}
	return strings.TrimPrefix(clean, "/"), nil
}

// File name stem of the exported objects, "NAME-VERSION". Slashes of
// repository names are flattened to underscores so every object lands in
// the export directory itself.
func objectBase(img *images.Image) (string, error) {
	base := img.Name
	if base == "" {
		base = img.ShortID()
	}
	if img.Version != "" {
		base += "-" + img.Version
	}
	if strings.Contains(base, "..") {
		return "", fmt.Errorf("image name %q cannot be used as an object name", base)
	}
	return strings.ReplaceAll(base, "/", "_"), nil
}

func unmarshalManifest(raw []byte, m *v1.Manifest) error {
	if err := json.Unmarshal(raw, m); err != nil {
		return err
	}
	if m.MediaType != "" && m.MediaType != v1.MediaTypeImageManifest {
		return fmt.Errorf("unsupported manifest mediaType %q", m.MediaType)
	}
	return nil
}
