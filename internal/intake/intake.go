// Package intake validates and stores uploaded model files. Every check runs
// before anything is persisted: filename sanitation, extension whitelist,
// size limits, and content signature sniffing. A rejected upload leaves no
// artifact on disk.
package intake

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/JoseETeixeira/UniRig-Interface/internal/artifact"
	apperrors "github.com/JoseETeixeira/UniRig-Interface/internal/platform/errors"
)

// Rejection reasons, used as metric labels and error context.
const (
	ReasonUnsafeName   = "unsafe_name"
	ReasonBadExtension = "bad_extension"
	ReasonOversized    = "oversized"
	ReasonBadSignature = "bad_signature"
)

const (
	sniffLen      = 512
	copyChunkSize = 8 << 10
)

var allowedExtensions = map[string]struct{}{
	".obj": {},
	".fbx": {},
	".glb": {},
	".vrm": {},
}

// Executable signatures rejected for every extension family.
var executableSignatures = [][]byte{
	[]byte("\x7fELF"),
	[]byte("MZ"),
	[]byte("#!"),
	[]byte("<?php"),
	[]byte("<script"),
}

// Stored describes an accepted artifact.
type Stored struct {
	Name      string // sanitized original name
	Path      string // server path under the session's upload scope
	SizeBytes int64
}

// Intake validates uploads and writes accepted files into session-scoped
// storage.
type Intake struct {
	store    *artifact.Store
	maxBytes int64
}

func New(store *artifact.Store, maxBytes int64) *Intake {
	return &Intake{store: store, maxBytes: maxBytes}
}

// Store runs the validation pipeline and, only once every check has passed,
// writes the stream into the session's upload directory with restrictive
// permissions. declaredSize is the transport's claimed length; the actual
// byte count is enforced independently while reading.
func (i *Intake) Store(sessionID uuid.UUID, filename string, declaredSize int64, r io.Reader) (*Stored, error) {
	name, err := SanitizeFilename(filename)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := allowedExtensions[ext]; !ok {
		return nil, apperrors.ValidationError(fmt.Sprintf("unsupported file format: %s", ext)).
			WithField("reason", ReasonBadExtension).
			WithHint("Supported formats: .obj, .fbx, .glb, .vrm. Convert your model with Blender or similar tools.")
	}

	if declaredSize > i.maxBytes {
		return nil, i.oversized(declaredSize)
	}

	header := make([]byte, sniffLen)
	n, err := io.ReadFull(r, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, apperrors.InternalError("failed to read upload stream", err)
	}
	header = header[:n]

	if err := sniff(ext, header); err != nil {
		return nil, err
	}

	dir, err := i.store.UploadDir(sessionID)
	if err != nil {
		return nil, apperrors.InternalError("failed to prepare session storage", err)
	}

	// UUID prefix prevents collisions between uploads of the same name.
	finalName := fmt.Sprintf("%s_%s", uuid.New(), name)
	path := filepath.Join(dir, finalName)

	size, err := i.write(path, header, r)
	if err != nil {
		return nil, err
	}

	return &Stored{Name: name, Path: path, SizeBytes: size}, nil
}

// write streams the validated upload to its final path. The actual byte
// count is checked against the limit as it accumulates, so a spoofed
// Content-Length cannot bypass the size check. On any failure the partial
// file is removed.
func (i *Intake) write(path string, header []byte, rest io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return 0, apperrors.InternalError("failed to create artifact", err)
	}

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(path)
	}

	if _, err := f.Write(header); err != nil {
		cleanup()
		return 0, apperrors.InternalError("failed to write artifact", err)
	}

	// Allow one byte beyond the limit so overshoot is detectable.
	buf := make([]byte, copyChunkSize)
	written, err := io.CopyBuffer(f, io.LimitReader(rest, i.maxBytes-int64(len(header))+1), buf)
	if err != nil {
		cleanup()
		return 0, apperrors.InternalError("failed to write artifact", err)
	}

	size := written + int64(len(header))
	if size > i.maxBytes {
		cleanup()
		return 0, i.oversized(size)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return 0, apperrors.InternalError("failed to finalize artifact", err)
	}

	return size, nil
}

func (i *Intake) oversized(size int64) *apperrors.Error {
	return apperrors.ValidationError(
		fmt.Sprintf("file size exceeds limit: %d bytes (max %d)", size, i.maxBytes)).
		WithField("reason", ReasonOversized).
		WithHint("Reduce the polygon count or remove unused materials, then upload again.")
}

// SanitizeFilename rejects names containing null bytes, parent-directory
// segments, or absolute prefixes, then collapses the rest to a safe
// basename.
func SanitizeFilename(filename string) (string, error) {
	unsafe := func(detail string) error {
		return apperrors.ValidationError("unsafe filename: "+detail).
			WithField("reason", ReasonUnsafeName).
			WithField("filename", filename).
			WithHint("Rename the file to a plain name without path separators.")
	}

	if filename == "" {
		return "", unsafe("empty name")
	}
	if strings.ContainsRune(filename, 0) {
		return "", unsafe("null byte")
	}
	if strings.HasPrefix(filename, "/") || strings.HasPrefix(filename, "\\") ||
		(len(filename) > 1 && filename[1] == ':') {
		return "", unsafe("absolute path")
	}
	for _, seg := range strings.FieldsFunc(filename, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return "", unsafe("parent directory segment")
		}
	}

	name := filepath.Base(filepath.ToSlash(filename))
	for _, c := range []string{":", "*", "?", "\"", "<", ">", "|"} {
		name = strings.ReplaceAll(name, c, "_")
	}
	name = strings.Trim(name, ". ")

	if name == "" {
		return "", unsafe("no usable name left after sanitation")
	}
	return name, nil
}

// sniff verifies the stream's first bytes against the expected signature set
// for the extension family. Executable content is rejected regardless of
// extension.
func sniff(ext string, header []byte) error {
	reject := func(detail string) error {
		return apperrors.ValidationError("file content does not match its extension: "+detail).
			WithField("reason", ReasonBadSignature).
			WithHint("Ensure the file is a valid 3D model and not renamed or embedded with scripts.")
	}

	if len(header) == 0 {
		return reject("empty file")
	}

	for _, sig := range executableSignatures {
		if bytes.Contains(header, sig) {
			return reject("executable signature detected")
		}
	}

	switch ext {
	case ".glb", ".vrm":
		// Both are binary glTF containers.
		if !bytes.HasPrefix(header, []byte("glTF")) {
			return reject("missing glTF container magic")
		}
	case ".fbx":
		if bytes.HasPrefix(header, []byte("Kaydara FBX Binary")) {
			return nil
		}
		// ASCII FBX begins with comment lines like "; FBX 7.4.0 project file".
		if !looksTextual(header) {
			return reject("not a binary or ASCII FBX file")
		}
	case ".obj":
		if !looksTextual(header) {
			return reject("OBJ files must be plain text")
		}
	}
	return nil
}

// looksTextual reports whether the header is plausible ASCII model text:
// no NUL bytes and mostly printable characters.
func looksTextual(header []byte) bool {
	if bytes.ContainsRune(header, 0) {
		return false
	}
	printable := 0
	for _, b := range header {
		if b == '\n' || b == '\r' || b == '\t' || (b >= 0x20 && b < 0x7f) {
			printable++
		}
	}
	return printable*100 >= len(header)*95
}
