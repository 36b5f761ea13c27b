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

// Package images holds the image records returned by the control plane and
// the rules for resolving a user supplied image reference.
package images

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PextraCloud/pce-cli/internal/errs"
)

// Image is a control-plane image record.
type Image struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Version     string     `json:"version"`
	OS          string     `json:"os,omitempty"`
	Type        string     `json:"type,omitempty"`
	State       string     `json:"state,omitempty"`
	Owner       string     `json:"owner,omitempty"`
	Public      bool       `json:"public,omitempty"`
	Description string     `json:"description,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

func (i *Image) String() string {
	return i.Name + "@" + i.Version
}

// ShortID is the first segment of the image id.
func (i *Image) ShortID() string {
	if idx := strings.IndexByte(i.ID, '-'); idx > 0 {
		return i.ID[:idx]
	}
	if len(i.ID) > 8 {
		return i.ID[:8]
	}
	return i.ID
}

func (i *Image) published() time.Time {
	if i.PublishedAt == nil {
		return time.Time{}
	}
	return *i.PublishedAt
}

// ExportPath describes where an exported image was written.
type ExportPath struct {
	MantaURL     string `json:"manta_url"`
	ManifestPath string `json:"manifest_path"`
	ImagePath    string `json:"image_path"`
}

// ParseRef splits a "name@version" reference. version is empty when ref
// carries none.
func ParseRef(ref string) (name, version string) {
	name, version, _ = strings.Cut(ref, "@")
	return name, version
}

// IsUUID reports whether ref is a full image id.
func IsUUID(ref string) bool {
	if len(ref) != 36 {
		return false
	}
	_, err := uuid.Parse(ref)
	return err == nil
}

// Resolve selects the image ref points at within list. ref may be a full
// id, a name (latest by published_at), "name@version" (latest match by
// published_at) or an id prefix, tried in that order. A prefix matching more
// than one image is an error.
func Resolve(list []Image, ref string) (*Image, error) {
	if ref == "" {
		return nil, errs.NotFound(ref, "empty image reference")
	}
	for i := range list {
		if list[i].ID == ref {
			return &list[i], nil
		}
	}

	name, version := ParseRef(ref)
	var named []*Image
	for i := range list {
		if list[i].Name == name && (version == "" || list[i].Version == version) {
			named = append(named, &list[i])
		}
	}
	if len(named) > 0 {
		sort.SliceStable(named, func(a, b int) bool {
			return named[a].published().Before(named[b].published())
		})
		return named[len(named)-1], nil
	}

	var prefixed []*Image
	if version == "" {
		for i := range list {
			if strings.HasPrefix(list[i].ID, ref) {
				prefixed = append(prefixed, &list[i])
			}
		}
	}
	switch len(prefixed) {
	case 0:
		return nil, errs.NotFound(ref, fmt.Sprintf("no image with name or short id %q was found", ref))
	case 1:
		return prefixed[0], nil
	}
	ids := make([]string, len(prefixed))
	for i, img := range prefixed {
		ids[i] = img.ID
	}
	return nil, errs.Ambiguous(ref, fmt.Sprintf("no image with name %q was found and there are multiple images with that short id: %s",
		ref, strings.Join(ids, ", ")))
}
