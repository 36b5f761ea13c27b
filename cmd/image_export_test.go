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
package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PextraCloud/pce-cli/internal/imagecmd"
	"github.com/PextraCloud/pce-cli/internal/images"
)

type stubSession struct {
	exported []string
	block    bool
}

func (s *stubSession) GetImage(_ context.Context, ref string) (*images.Image, error) {
	return images.Resolve([]images.Image{
		{ID: "e1faace4-e19b-11e5-928b-83849e2fd94a", Name: "ubuntu", Version: "16.04", Type: "zvol"},
	}, ref)
}

func (s *stubSession) ExportImage(ctx context.Context, id, mantaPath string) (*images.ExportPath, error) {
	s.exported = append(s.exported, id)
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &images.ExportPath{
		MantaURL:     "https://manta.example.com",
		ManifestPath: mantaPath + "/ubuntu-16.04.imgmanifest",
		ImagePath:    mantaPath + "/ubuntu-16.04.zfs.gz",
	}, nil
}

// Installs a stub session and counts setup calls
func stubSetup(t *testing.T) (*stubSession, *int) {
	t.Helper()
	s := &stubSession{}
	calls := 0
	orig := sessionSetup
	sessionSetup = func(*globalOptions) imagecmd.SessionFunc {
		return func(context.Context) (imagecmd.Session, error) {
			calls++
			return s, nil
		}
	}
	t.Cleanup(func() { sessionSetup = orig })
	return s, &calls
}

func run(args ...string) (code int, stdout, stderr string) {
	var out, errOut bytes.Buffer
	code = execute(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestImageExport_WrongArgCount(t *testing.T) {
	_, calls := stubSetup(t)

	for _, args := range [][]string{
		{"image", "export", "ubuntu"},
		{"image", "export"},
		{"image", "export", "a", "b", "c"},
	} {
		code, stdout, stderr := run(args...)
		assert.Equal(t, 2, code, args)
		assert.Empty(t, stdout)
		assert.Contains(t, stderr, "pce image export: incorrect number of args: expect 2, got ")
	}
	assert.Zero(t, *calls)
}

func TestImageExport_Help(t *testing.T) {
	_, calls := stubSetup(t)

	code, stdout, _ := run("image", "export", "--help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "IMAGE MANTA_PATH")
	assert.Contains(t, stdout, "--dry-run")
	assert.Contains(t, stdout, `image short ID (ID prefix)`)

	code, _, _ = run("image", "export", "-h", "only-one")
	assert.Equal(t, 0, code)
	assert.Zero(t, *calls)
}

func TestImageExport_Success(t *testing.T) {
	s, calls := stubSetup(t)

	code, stdout, stderr := run("image", "export", "ubuntu", "/acct/stor/exports")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, []string{"e1faace4-e19b-11e5-928b-83849e2fd94a"}, s.exported)
	assert.Equal(t, "Exporting image ubuntu@16.04 to /acct/stor/exports\n"+
		"Manta URL: https://manta.example.com\n"+
		"Manifest path: /acct/stor/exports/ubuntu-16.04.imgmanifest\n"+
		"Image path: /acct/stor/exports/ubuntu-16.04.zfs.gz\n", stdout)
}

func TestImageExport_JSON(t *testing.T) {
	stubSetup(t)

	code, stdout, stderr := run("image", "export", "-j", "e1faace4", "/acct/stor/exports")
	require.Equal(t, 0, code, stderr)
	require.Equal(t, 1, strings.Count(stdout, "\n"))
	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.Equal(t, map[string]string{
		"manta_url":     "https://manta.example.com",
		"manifest_path": "/acct/stor/exports/ubuntu-16.04.imgmanifest",
		"image_path":    "/acct/stor/exports/ubuntu-16.04.zfs.gz",
	}, got)
}

func TestImageExport_DryRun(t *testing.T) {
	s, _ := stubSetup(t)

	code, stdout, _ := run("image", "export", "--dry-run", "ubuntu@16.04", "/acct/stor")
	assert.Equal(t, 0, code)
	assert.Empty(t, s.exported)
	assert.Contains(t, stdout, "Dry run: image ubuntu@16.04")
}

func TestImageExport_NotFound(t *testing.T) {
	s, _ := stubSetup(t)

	code, stdout, stderr := run("image", "export", "nonexistent", "/acct/stor")
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout)
	assert.Empty(t, s.exported)
	assert.Equal(t, "pce image export: no image with name or short id \"nonexistent\" was found\n", stderr)
}

func TestImageExport_UnknownFlag(t *testing.T) {
	_, calls := stubSetup(t)

	code, _, stderr := run("image", "export", "--frobnicate", "a", "b")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "unknown flag: --frobnicate")
	assert.Zero(t, *calls)
}

func TestImage_UnknownSubcommand(t *testing.T) {
	code, _, stderr := run("image", "frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, `unknown command "frobnicate" for "pce image"`)
}

func TestImageGet(t *testing.T) {
	stubSetup(t)

	code, stdout, stderr := run("image", "get", "ubuntu")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "e1faace4-e19b-11e5-928b-83849e2fd94a")
	assert.Contains(t, stdout, "zvol")

	code, _, stderr = run("image", "get")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "pce image get: incorrect number of args: expect 1, got 0")
}

func TestImageExport_SetupFailure(t *testing.T) {
	t.Setenv("PCE_PROFILE", filepath.Join(t.TempDir(), "absent.yaml"))
	for _, prefix := range []string{"PCE_", "TRITON_", "SDC_"} {
		for _, key := range []string{"URL", "ACCOUNT", "KEY_ID", "TLS_INSECURE"} {
			t.Setenv(prefix+key, "")
		}
	}

	code, _, stderr := run("image", "export", "--url", "ftp://example.com", "ubuntu", "/acct/stor")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, `pce image export: unsupported URL scheme "ftp"`)

	code, _, stderr = run("image", "export", "--url", "file://"+t.TempDir(), "ubuntu", "/acct/stor")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "pce image export: read ")
}

func TestImageExport_Timeout(t *testing.T) {
	s, _ := stubSetup(t)
	s.block = true

	code, _, stderr := run("image", "export", "--timeout", "20ms", "ubuntu", "/acct/stor/exports")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "pce image export: ")
	assert.Contains(t, stderr, "context deadline exceeded")
	assert.Equal(t, []string{"e1faace4-e19b-11e5-928b-83849e2fd94a"}, s.exported)

	code, _, stderr = run("image", "export", "--timeout", "soon", "ubuntu", "/acct/stor/exports")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "invalid argument")
}
