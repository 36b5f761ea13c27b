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
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/PextraCloud/pce-cli/internal/errs"
	pextraoci "github.com/PextraCloud/pce-cli/pkg/pextra-oci"
)

func writeBlob(t *testing.T, base string, b []byte) digest.Digest {
	t.Helper()
	d := digest.FromBytes(b)
	p := blobPath(base, d)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir blobs: %v", err)
	}
	if err := os.WriteFile(p, b, 0o644); err != nil {
		t.Fatalf("write blob: %v", err)
	}
	return d
}

func writeJSONBlob(t *testing.T, base string, v any) (digest.Digest, int64) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return writeBlob(t, base, b), int64(len(b))
}

func writeLayout(t *testing.T, base string, idx v1.Index) {
	t.Helper()
	lb, _ := json.Marshal(v1.ImageLayout{Version: v1.ImageLayoutVersion})
	if err := os.WriteFile(filepath.Join(base, v1.ImageLayoutFile), lb, 0o644); err != nil {
		t.Fatalf("write layout: %v", err)
	}
	ib, _ := json.Marshal(idx)
	if err := os.WriteFile(filepath.Join(base, v1.ImageIndexFile), ib, 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
}

// Writes a manifest with one image layer and returns its descriptor
func addImage(t *testing.T, base, imageType, layerMediaType string, layer []byte, ann map[string]string) v1.Descriptor {
	t.Helper()
	ld := writeBlob(t, base, layer)
	cd, cs := writeJSONBlob(t, base, v1.Image{})
	m := v1.Manifest{
		MediaType: v1.MediaTypeImageManifest,
		Config:    v1.Descriptor{MediaType: v1.MediaTypeImageConfig, Digest: cd, Size: cs},
		Layers:    []v1.Descriptor{{MediaType: layerMediaType, Digest: ld, Size: int64(len(layer))}},
	}
	m.SchemaVersion = 2
	md, ms := writeJSONBlob(t, base, m)

	annotations := map[string]string{pextraoci.AnnotationPextraImageType: imageType}
	for k, v := range ann {
		annotations[k] = v
	}
	return v1.Descriptor{MediaType: v1.MediaTypeImageManifest, Digest: md, Size: ms, Annotations: annotations}
}

func newLayout(t *testing.T) (string, v1.Descriptor, v1.Descriptor) {
	t.Helper()
	base := t.TempDir()
	debian := addImage(t, base, pextraoci.PextraImageTypeQemu, pextraoci.MediaTypePextraImageLayerQcow2,
		[]byte("qcow2 image data"), map[string]string{
			v1.AnnotationRefName: "debian:12.5",
			v1.AnnotationCreated: "2024-02-10T12:00:00Z",
		})
	debian.Platform = &v1.Platform{OS: "linux", Architecture: "amd64"}
	alpine := addImage(t, base, pextraoci.PextraImageTypeLxc, pextraoci.MediaTypePextraImageLayerLxcGzip,
		[]byte("rootfs tarball"), map[string]string{
			v1.AnnotationRefName:              "alpine",
			v1.AnnotationVersion:              "3.19",
			pextraoci.AnnotationPextraImageOS: "linux",
		})
	plain := v1.Descriptor{MediaType: v1.MediaTypeImageManifest, Digest: digest.FromString("not pextra")}

	idx := v1.Index{MediaType: v1.MediaTypeImageIndex, Manifests: []v1.Descriptor{debian, alpine, plain}}
	idx.SchemaVersion = 2
	writeLayout(t, base, idx)
	return base, debian, alpine
}

func TestCheckManifestAnnotations(t *testing.T) {
	t.Run("qemu", func(t *testing.T) {
		d := v1.Descriptor{Annotations: map[string]string{
			pextraoci.AnnotationPextraImageType: pextraoci.PextraImageTypeQemu,
		}}
		got, ok := checkManifestAnnotations(d)
		if !ok || got != pextraoci.PextraImageTypeQemu {
			t.Fatalf("got (%v,%v), want (%v,true)", got, ok, pextraoci.PextraImageTypeQemu)
		}
	})
	t.Run("unknown", func(t *testing.T) {
		d := v1.Descriptor{Annotations: map[string]string{
			pextraoci.AnnotationPextraImageType: "other",
		}}
		if _, ok := checkManifestAnnotations(d); ok {
			t.Fatalf("expected false for unknown type")
		}
	})
	t.Run("missing", func(t *testing.T) {
		if _, ok := checkManifestAnnotations(v1.Descriptor{}); ok {
			t.Fatalf("expected false for missing annotations")
		}
	})
}

func TestOpen_Errors(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing"), ""); err == nil {
		t.Fatalf("expected error for missing directory")
	}

	base := t.TempDir()
	if _, err := Open(base, ""); err == nil {
		t.Fatalf("expected error without %s", v1.ImageLayoutFile)
	}

	lb, _ := json.Marshal(v1.ImageLayout{Version: "0.9.0"})
	if err := os.WriteFile(filepath.Join(base, v1.ImageLayoutFile), lb, 0o644); err != nil {
		t.Fatalf("write layout: %v", err)
	}
	if _, err := Open(base, ""); err == nil {
		t.Fatalf("expected error for unsupported layout version")
	}
}

func TestListImages(t *testing.T) {
	base, debian, alpine := newLayout(t)
	s, err := Open(base, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.ObjectsRoot() != filepath.Join(base, "objects") {
		t.Fatalf("unexpected objects root %q", s.ObjectsRoot())
	}

	list, err := s.ListImages(context.Background())
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d images, want 2: %+v", len(list), list)
	}

	deb := list[0]
	if deb.ID != debian.Digest.Encoded() || deb.Name != "debian" || deb.Version != "12.5" {
		t.Fatalf("unexpected debian record: %+v", deb)
	}
	if deb.Type != pextraoci.ControlPlaneTypeZvol || deb.OS != "linux" || deb.PublishedAt == nil {
		t.Fatalf("unexpected debian record: %+v", deb)
	}

	alp := list[1]
	if alp.ID != alpine.Digest.Encoded() || alp.String() != "alpine@3.19" || alp.Type != pextraoci.ControlPlaneTypeLxDataset {
		t.Fatalf("unexpected alpine record: %+v", alp)
	}
	if alp.PublishedAt != nil {
		t.Fatalf("expected no published_at, got %v", alp.PublishedAt)
	}
}

func TestListImages_NestedIndex(t *testing.T) {
	base := t.TempDir()
	inner := addImage(t, base, pextraoci.PextraImageTypeLxc, pextraoci.MediaTypePextraImageLayerLxc,
		[]byte("tar"), map[string]string{v1.AnnotationRefName: "nested:1"})
	nested := v1.Index{MediaType: v1.MediaTypeImageIndex, Manifests: []v1.Descriptor{inner}}
	nested.SchemaVersion = 2
	nd, ns := writeJSONBlob(t, base, nested)

	idx := v1.Index{Manifests: []v1.Descriptor{{MediaType: v1.MediaTypeImageIndex, Digest: nd, Size: ns}}}
	idx.SchemaVersion = 2
	writeLayout(t, base, idx)

	s, err := Open(base, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	list, err := s.ListImages(context.Background())
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}
	if len(list) != 1 || list[0].String() != "nested@1" {
		t.Fatalf("unexpected nested listing: %+v", list)
	}
}

func TestGetImage(t *testing.T) {
	base, debian, _ := newLayout(t)
	s, err := Open(base, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()

	for _, ref := range []string{"debian", "debian@12.5", debian.Digest.Encoded(), debian.Digest.Encoded()[:12]} {
		img, err := s.GetImage(ctx, ref)
		if err != nil {
			t.Fatalf("GetImage(%q): %v", ref, err)
		}
		if img.ID != debian.Digest.Encoded() {
			t.Fatalf("GetImage(%q) = %s", ref, img.ID)
		}
	}

	_, err = s.GetImage(ctx, "centos")
	if errs.KindOf(err) != errs.KindResolution {
		t.Fatalf("expected resolution error, got %v", err)
	}
}

func TestExportImage(t *testing.T) {
	base, debian, alpine := newLayout(t)
	root := t.TempDir()
	s, err := Open(base, root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()

	out, err := s.ExportImage(ctx, debian.Digest.Encoded(), "~~/stor/exports")
	if err != nil {
		t.Fatalf("ExportImage: %v", err)
	}
	if out.MantaURL != "file://"+filepath.ToSlash(root) {
		t.Fatalf("unexpected manta url %q", out.MantaURL)
	}
	if out.ManifestPath != "/stor/exports/debian-12.5.imgmanifest" || out.ImagePath != "/stor/exports/debian-12.5.qcow2" {
		t.Fatalf("unexpected paths: %+v", out)
	}
	got, err := os.ReadFile(filepath.Join(root, "stor", "exports", "debian-12.5.qcow2"))
	if err != nil || string(got) != "qcow2 image data" {
		t.Fatalf("exported layer = %q, %v", got, err)
	}
	raw, err := os.ReadFile(filepath.Join(root, "stor", "exports", "debian-12.5.imgmanifest"))
	if err != nil {
		t.Fatalf("read exported manifest: %v", err)
	}
	if digest.FromBytes(raw) != debian.Digest {
		t.Fatalf("exported manifest does not match %s", debian.Digest)
	}

	out, err = s.ExportImage(ctx, alpine.Digest.Encoded(), "/images")
	if err != nil {
		t.Fatalf("ExportImage: %v", err)
	}
	if out.ImagePath != "/images/alpine-3.19.tar.gz" {
		t.Fatalf("unexpected image path %q", out.ImagePath)
	}
}

func TestExportImage_CorruptLayer(t *testing.T) {
	base, debian, _ := newLayout(t)
	root := t.TempDir()
	s, err := Open(base, root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var m v1.Manifest
	if err := readBlobJSON(base, debian.Digest, &m); err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if err := os.WriteFile(blobPath(base, m.Layers[0].Digest), []byte("qcow2 image DATA"), 0o644); err != nil {
		t.Fatalf("corrupt layer: %v", err)
	}

	if _, err := s.ExportImage(context.Background(), debian.Digest.Encoded(), "/out"); err == nil {
		t.Fatalf("expected digest verification failure")
	}
	if _, err := os.Stat(filepath.Join(root, "out", "debian-12.5.qcow2")); !os.IsNotExist(err) {
		t.Fatalf("corrupt layer left behind: %v", err)
	}
}

func TestExportImage_BadPath(t *testing.T) {
	base, debian, _ := newLayout(t)
	s, err := Open(base, t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, p := range []string{"", "~~", "../escape", "/a/../../b"} {
		if _, err := s.ExportImage(context.Background(), debian.Digest.Encoded(), p); err == nil {
			t.Fatalf("expected error for object path %q", p)
		}
	}
	if _, err := s.ExportImage(context.Background(), "deadbeef", "/out"); err == nil {
		t.Fatalf("expected error for unknown image")
	}
}

func TestReadBlobJSON_SuccessAndError(t *testing.T) {
	base := t.TempDir()
	type Y struct {
		N string `json:"n"`
	}
	want := Y{N: "v"}
	d, _ := writeJSONBlob(t, base, want)

	var got Y
	if err := readBlobJSON(base, d, &got); err != nil {
		t.Fatalf("readBlobJSON error: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}

	if err := readBlobJSON(base, digest.FromString("doesnotexist"), &got); err == nil {
		t.Fatalf("expected error for missing blob")
	}
	if err := readBlobJSON(base, "sha256:abc", &got); err == nil {
		t.Fatalf("expected error for invalid digest")
	}
}

func TestLayersByMediaType(t *testing.T) {
	layers := []v1.Descriptor{
		{MediaType: "type/a"},
		{MediaType: "type/b"},
		{MediaType: "type/a"},
	}
	if got := layersByMediaType(layers, "type/a"); len(got) != 2 {
		t.Fatalf("expected 2 layers, got %v", got)
	}
	if got := layersByMediaType(layers, "type/b", "type/a"); len(got) != 3 {
		t.Fatalf("expected 3 layers, got %v", got)
	}
	if got := layersByMediaType(layers); len(got) != 0 {
		t.Fatalf("expected empty when no media types provided, got %v", got)
	}
}

func TestSplitRefName(t *testing.T) {
	cases := []struct{ ref, name, tag string }{
		{"debian:12.5", "debian", "12.5"},
		{"alpine", "alpine", ""},
		{"pextra/ubuntu:22.04", "pextra/ubuntu", "22.04"},
		{"registry.local:5000/debian:12", "registry.local:5000/debian", "12"},
		{"registry.local:5000/debian", "registry.local:5000/debian", ""},
		{"", "", ""},
	}
	for _, c := range cases {
		name, tag := splitRefName(c.ref)
		if name != c.name || tag != c.tag {
			t.Errorf("splitRefName(%q) = %q, %q; want %q, %q", c.ref, name, tag, c.name, c.tag)
		}
	}
}

func TestExportImage_RepositoryNames(t *testing.T) {
	base := t.TempDir()
	ubuntu := addImage(t, base, pextraoci.PextraImageTypeQemu, pextraoci.MediaTypePextraImageLayerQcow2,
		[]byte("ubuntu disk"), map[string]string{v1.AnnotationRefName: "pextra/ubuntu:22.04"})
	debian := addImage(t, base, pextraoci.PextraImageTypeQemu, pextraoci.MediaTypePextraImageLayerQcow2,
		[]byte("debian disk"), map[string]string{v1.AnnotationRefName: "registry.local:5000/debian:12"})
	evil := addImage(t, base, pextraoci.PextraImageTypeQemu, pextraoci.MediaTypePextraImageLayerQcow2,
		[]byte("evil disk"), map[string]string{v1.AnnotationRefName: "../../evil:1"})
	idx := v1.Index{MediaType: v1.MediaTypeImageIndex, Manifests: []v1.Descriptor{ubuntu, debian, evil}}
	idx.SchemaVersion = 2
	writeLayout(t, base, idx)

	root := filepath.Join(t.TempDir(), "objects")
	s, err := Open(base, root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()

	list, err := s.ListImages(ctx)
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("got %d images, want 3", len(list))
	}
	if list[1].Name != "registry.local:5000/debian" || list[1].Version != "12" {
		t.Fatalf("unexpected registry image record: %+v", list[1])
	}

	out, err := s.ExportImage(ctx, ubuntu.Digest.Encoded(), "/exports")
	if err != nil {
		t.Fatalf("ExportImage: %v", err)
	}
	if out.ImagePath != "/exports/pextra_ubuntu-22.04.qcow2" {
		t.Fatalf("unexpected image path %q", out.ImagePath)
	}
	if _, err := os.Stat(filepath.Join(root, "exports", "pextra_ubuntu-22.04.imgmanifest")); err != nil {
		t.Fatalf("exported manifest missing: %v", err)
	}

	out, err = s.ExportImage(ctx, debian.Digest.Encoded(), "/exports")
	if err != nil {
		t.Fatalf("ExportImage: %v", err)
	}
	if out.ImagePath != "/exports/registry.local:5000_debian-12.qcow2" {
		t.Fatalf("unexpected image path %q", out.ImagePath)
	}

	if _, err := s.ExportImage(ctx, evil.Digest.Encoded(), "/exports"); err == nil {
		t.Fatalf("expected error for traversal in image name")
	}
	entries, err := os.ReadDir(filepath.Dir(root))
	if err != nil {
		t.Fatalf("read objects parent: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "objects" {
		t.Fatalf("export escaped the objects root: %v", entries)
	}
}
