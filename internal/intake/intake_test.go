package intake

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoseETeixeira/UniRig-Interface/internal/artifact"
	apperrors "github.com/JoseETeixeira/UniRig-Interface/internal/platform/errors"
)

const testMaxBytes = 1 << 20 // 1 MiB for tests

func newTestIntake(t *testing.T) (*Intake, string) {
	t.Helper()
	root := t.TempDir()
	store, err := artifact.NewStore(root)
	require.NoError(t, err)
	return New(store, testMaxBytes), root
}

// assertNoArtifacts verifies that no file exists anywhere under the artifact
// root, i.e. a rejection left no partial writes behind.
func assertNoArtifacts(t *testing.T, root string) {
	t.Helper()
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		require.NoError(t, err)
		if !d.IsDir() {
			t.Errorf("unexpected artifact on disk: %s", path)
		}
		return nil
	})
	require.NoError(t, err)
}

func rejectionReason(t *testing.T, err error) string {
	t.Helper()
	structured := apperrors.AsStructuredError(err)
	require.Equal(t, apperrors.TypeValidation, structured.Type)
	reason, _ := structured.Context["reason"].(string)
	return reason
}

func objPayload(size int) []byte {
	var buf bytes.Buffer
	buf.WriteString("# exported model\n")
	for buf.Len() < size {
		buf.WriteString("v 0.123 4.567 -8.910\n")
	}
	return buf.Bytes()[:size]
}

func TestStoreAcceptsValidOBJ(t *testing.T) {
	intake, _ := newTestIntake(t)
	payload := objPayload(4096)

	stored, err := intake.Store(uuid.New(), "character.obj", int64(len(payload)), bytes.NewReader(payload))
	require.NoError(t, err)

	assert.Equal(t, "character.obj", stored.Name)
	assert.Equal(t, int64(4096), stored.SizeBytes)
	assert.FileExists(t, stored.Path)

	info, err := os.Stat(stored.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestStoreAcceptsGLB(t *testing.T) {
	intake, _ := newTestIntake(t)
	payload := append([]byte("glTF"), make([]byte, 1024)...)

	stored, err := intake.Store(uuid.New(), "robot.glb", int64(len(payload)), bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), stored.SizeBytes)
}

func TestStoreAcceptsBinaryFBX(t *testing.T) {
	intake, _ := newTestIntake(t)
	payload := append([]byte("Kaydara FBX Binary  \x00"), make([]byte, 512)...)

	_, err := intake.Store(uuid.New(), "rig.fbx", int64(len(payload)), bytes.NewReader(payload))
	require.NoError(t, err)
}

func TestStoreRejectsPathTraversal(t *testing.T) {
	intake, root := newTestIntake(t)
	payload := objPayload(128)

	_, err := intake.Store(uuid.New(), "../../etc/passwd.obj", int64(len(payload)), bytes.NewReader(payload))
	require.Error(t, err)
	assert.Equal(t, ReasonUnsafeName, rejectionReason(t, err))
	assertNoArtifacts(t, root)
}

func TestStoreRejectsNullByteName(t *testing.T) {
	intake, root := newTestIntake(t)

	_, err := intake.Store(uuid.New(), "model\x00.obj", 64, bytes.NewReader(objPayload(64)))
	require.Error(t, err)
	assert.Equal(t, ReasonUnsafeName, rejectionReason(t, err))
	assertNoArtifacts(t, root)
}

func TestStoreRejectsAbsolutePath(t *testing.T) {
	intake, root := newTestIntake(t)

	_, err := intake.Store(uuid.New(), "/etc/shadow.obj", 64, bytes.NewReader(objPayload(64)))
	require.Error(t, err)
	assert.Equal(t, ReasonUnsafeName, rejectionReason(t, err))
	assertNoArtifacts(t, root)
}

func TestStoreRejectsUnsupportedExtension(t *testing.T) {
	intake, root := newTestIntake(t)

	_, err := intake.Store(uuid.New(), "texture.png", 64, bytes.NewReader(objPayload(64)))
	require.Error(t, err)
	assert.Equal(t, ReasonBadExtension, rejectionReason(t, err))
	assertNoArtifacts(t, root)
}

func TestStoreRejectsOversizedDeclaredLength(t *testing.T) {
	intake, root := newTestIntake(t)

	_, err := intake.Store(uuid.New(), "big.obj", testMaxBytes+1, bytes.NewReader(objPayload(64)))
	require.Error(t, err)
	assert.Equal(t, ReasonOversized, rejectionReason(t, err))
	assertNoArtifacts(t, root)
}

func TestStoreRejectsSpoofedDeclaredLength(t *testing.T) {
	intake, root := newTestIntake(t)
	payload := objPayload(testMaxBytes + 512)

	// Declared length lies; actual bytes read must still be enforced.
	_, err := intake.Store(uuid.New(), "liar.obj", 1024, bytes.NewReader(payload))
	require.Error(t, err)
	assert.Equal(t, ReasonOversized, rejectionReason(t, err))
	assertNoArtifacts(t, root)
}

func TestStoreRejectsExecutableDisguisedAsModel(t *testing.T) {
	intake, root := newTestIntake(t)

	tests := []struct {
		name    string
		payload []byte
	}{
		{"elf", append([]byte("\x7fELF"), make([]byte, 128)...)},
		{"pe", append([]byte("MZ\x90\x00"), make([]byte, 128)...)},
		{"shell script", []byte("#!/bin/sh\nrm -rf /\n")},
		{"php", []byte("<?php system($_GET['c']); ?>")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := intake.Store(uuid.New(), "model.obj", int64(len(tt.payload)), bytes.NewReader(tt.payload))
			require.Error(t, err)
			assert.Equal(t, ReasonBadSignature, rejectionReason(t, err))
		})
	}
	assertNoArtifacts(t, root)
}

func TestStoreRejectsGLBWithoutMagic(t *testing.T) {
	intake, root := newTestIntake(t)
	payload := objPayload(256) // valid text, wrong container

	_, err := intake.Store(uuid.New(), "fake.glb", int64(len(payload)), bytes.NewReader(payload))
	require.Error(t, err)
	assert.Equal(t, ReasonBadSignature, rejectionReason(t, err))
	assertNoArtifacts(t, root)
}

func TestStoreRejectsBinaryOBJ(t *testing.T) {
	intake, root := newTestIntake(t)
	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}

	_, err := intake.Store(uuid.New(), "garbage.obj", int64(len(payload)), bytes.NewReader(payload))
	require.Error(t, err)
	assert.Equal(t, ReasonBadSignature, rejectionReason(t, err))
	assertNoArtifacts(t, root)
}

func TestStoreRejectsEmptyFile(t *testing.T) {
	intake, root := newTestIntake(t)

	_, err := intake.Store(uuid.New(), "empty.obj", 0, bytes.NewReader(nil))
	require.Error(t, err)
	assert.Equal(t, ReasonBadSignature, rejectionReason(t, err))
	assertNoArtifacts(t, root)
}

func TestSanitizeFilenameCollapsesToBasename(t *testing.T) {
	name, err := SanitizeFilename("some/dir/model.obj")
	require.NoError(t, err)
	assert.Equal(t, "model.obj", name)
}

func TestSanitizeFilenameReplacesReservedChars(t *testing.T) {
	name, err := SanitizeFilename("file:with*odd?chars.fbx")
	require.NoError(t, err)
	assert.Equal(t, "file_with_odd_chars.fbx", name)
}

func TestSanitizeFilenameRejectsDegenerateNames(t *testing.T) {
	for _, bad := range []string{"", "..", ". ", "a/../b/../.."} {
		_, err := SanitizeFilename(bad)
		assert.Error(t, err, "expected rejection for %q", bad)
	}
}

func TestStoredNamesAreUnique(t *testing.T) {
	intake, _ := newTestIntake(t)
	sessionID := uuid.New()
	payload := objPayload(128)

	first, err := intake.Store(sessionID, "dup.obj", int64(len(payload)), bytes.NewReader(payload))
	require.NoError(t, err)
	second, err := intake.Store(sessionID, "dup.obj", int64(len(payload)), bytes.NewReader(payload))
	require.NoError(t, err)

	assert.NotEqual(t, first.Path, second.Path)
	assert.True(t, strings.HasSuffix(first.Path, "_dup.obj"))
}
