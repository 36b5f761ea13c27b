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

// Package localstore serves images from an OCI image layout on disk, so
// pce commands can run against a directory instead of a remote control
// plane.
package localstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"

	"github.com/PextraCloud/pce-cli/internal/images"
	pextraoci "github.com/PextraCloud/pce-cli/pkg/pextra-oci"
)

const (
	defaultObjectsDir = "objects"
	// nested indexes deeper than this are ignored
	maxIndexDepth = 4
)

// Store is an opened OCI image layout.
type Store struct {
	dir         string
	objectsRoot string
	log         logrus.FieldLogger
}

type entry struct {
	image images.Image
	desc  v1.Descriptor
}

// Opens the image layout at dir. Exports are written below objectsRoot,
// which defaults to DIR/objects.
func Open(dir, objectsRoot string) (*Store, error) {
	base := filepath.Clean(dir)
	if fi, err := os.Stat(base); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", base)
	}

	layoutFile := filepath.Join(base, v1.ImageLayoutFile)
	var layout v1.ImageLayout
	if err := readJSONFile(layoutFile, &layout); err != nil {
		return nil, fmt.Errorf("read %s: %w", layoutFile, err)
	}
	if layout.Version != v1.ImageLayoutVersion {
		return nil, fmt.Errorf("unsupported layout version %q (want %q)", layout.Version, v1.ImageLayoutVersion)
	}
	if _, err := os.Stat(filepath.Join(base, v1.ImageIndexFile)); err != nil {
		return nil, fmt.Errorf("missing %s file: %w", v1.ImageIndexFile, err)
	}

	if objectsRoot == "" {
		objectsRoot = filepath.Join(base, defaultObjectsDir)
	}
	return &Store{
		dir:         base,
		objectsRoot: filepath.Clean(objectsRoot),
		log:         logrus.WithFields(logrus.Fields{"component": "localstore", "dir": base}),
	}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) ObjectsRoot() string { return s.objectsRoot }

// Lists the Pextra images of the layout
func (s *Store) ListImages(ctx context.Context) ([]images.Image, error) {
	entries, err := s.entries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]images.Image, len(entries))
	for i := range entries {
		out[i] = entries[i].image
	}
	return out, nil
}

// GetImage resolves ref against the images of the layout.
func (s *Store) GetImage(ctx context.Context, ref string) (*images.Image, error) {
	list, err := s.ListImages(ctx)
	if err != nil {
		return nil, err
	}
	return images.Resolve(list, ref)
}

func (s *Store) Close() error { return nil }

func (s *Store) entries(ctx context.Context) ([]entry, error) {
	var idx v1.Index
	if err := readJSONFile(filepath.Join(s.dir, v1.ImageIndexFile), &idx); err != nil {
		return nil, fmt.Errorf("parse %s: %w", v1.ImageIndexFile, err)
	}
	if idx.MediaType != "" && idx.MediaType != v1.MediaTypeImageIndex {
		return nil, fmt.Errorf("unsupported index mediaType %q (want %q)", idx.MediaType, v1.MediaTypeImageIndex)
	}
	var out []entry
	if err := s.collect(ctx, &idx, 0, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Walks an index, appending one entry per Pextra image manifest. Nested
// indexes are followed, their annotations do not propagate.
func (s *Store) collect(ctx context.Context, idx *v1.Index, depth int, out *[]entry) error {
	for _, d := range idx.Manifests {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch d.MediaType {
		case v1.MediaTypeImageManifest, "": // empty is tolerated by some tools
			imageType, ok := checkManifestAnnotations(d)
			if !ok {
				s.log.WithField("digest", d.Digest).Trace("skipping manifest without Pextra image type")
				continue
			}
			if err := d.Digest.Validate(); err != nil {
				s.log.WithField("digest", d.Digest).WithError(err).Warn("skipping manifest with invalid digest")
				continue
			}
			*out = append(*out, entry{image: imageFromDescriptor(d, imageType), desc: d})
		case v1.MediaTypeImageIndex:
			if depth >= maxIndexDepth {
				s.log.WithField("digest", d.Digest).Warn("nested index too deep, skipping")
				continue
			}
			var nested v1.Index
			if err := readBlobJSON(s.dir, d.Digest, &nested); err != nil {
				return fmt.Errorf("load nested index %s: %w", d.Digest, err)
			}
			if err := s.collect(ctx, &nested, depth+1, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// Checks for Pextra-specific annotations in the manifest descriptor
func checkManifestAnnotations(d v1.Descriptor) (string, bool) {
	if d.Annotations == nil {
		return "", false
	}
	it, ok := d.Annotations[pextraoci.AnnotationPextraImageType]
	if !ok {
		return "", false
	}
	switch it {
	case pextraoci.PextraImageTypeQemu, pextraoci.PextraImageTypeLxc:
		return it, true
	default:
		return "", false
	}
}

// Splits "name:tag" at the last colon after the last slash, so a registry
// port such as "registry.local:5000/debian" stays part of the name.
func splitRefName(ref string) (name, tag string) {
	slash := strings.LastIndex(ref, "/")
	if i := strings.LastIndex(ref, ":"); i > slash {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

// Builds the image record of a manifest descriptor. The reference name
// annotation may carry "name:version"; the version annotation wins over the
// tag when both are present.
func imageFromDescriptor(d v1.Descriptor, imageType string) images.Image {
	ann := d.Annotations
	name, tag := splitRefName(ann[v1.AnnotationRefName])
	version := ann[v1.AnnotationVersion]
	if version == "" {
		version = tag
	}
	if name == "" {
		name = ann[v1.AnnotationTitle]
	}

	img := images.Image{
		ID:          d.Digest.Encoded(),
		Name:        name,
		Version:     version,
		Type:        pextraoci.ImageType(imageType),
		OS:          ann[pextraoci.AnnotationPextraImageOS],
		State:       "active",
		Description: ann[v1.AnnotationDescription],
	}
	if d.Platform != nil && d.Platform.OS != "" {
		img.OS = d.Platform.OS
	}
	if created := ann[v1.AnnotationCreated]; created != "" {
		if ts, err := time.Parse(time.RFC3339, created); err == nil {
			img.PublishedAt = &ts
		}
	}
	return img
}
