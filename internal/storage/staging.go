package storage

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/creditdrop/creditdrop/internal/checksum"
	"github.com/creditdrop/creditdrop/pkg/model"
)

const finishedMarkerPrefix = ".MARKER_is_finished_"

// StagingFile is the write side of one in-flight upload: chunks land in a
// private temp directory and only become visible at the destination on a
// single atomic rename in Finalize. It ports dync's UploadFile class.
type StagingFile struct {
	fileID      string
	destination string
	filename    string
	cleanedName string
	meta        model.FileMeta
	origin      string
	registry    *Registry

	tmpDir  string
	tmpPath string

	mu            sync.Mutex
	file          *os.File
	hasher        *checksum.StreamingHasher
	bytesWritten  int64
	cleanupCalled bool
	untar         bool
	isTar         bool
	tarEntryName  string
	correctedDest string
}

func newStagingFile(fileID, destination, filename, cleanedName string, meta model.FileMeta, origin string, r *Registry) (*StagingFile, error) {
	tmpDir, err := os.MkdirTemp(r.opts.TmpDir, "creditdrop-upload-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	tmpPath := filepath.Join(tmpDir, filepath.Base(destination))
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("open temp file: %w", err)
	}
	return &StagingFile{
		fileID:      fileID,
		destination: destination,
		filename:    filename,
		cleanedName: cleanedName,
		meta:        meta,
		origin:      origin,
		registry:    r,
		tmpDir:      tmpDir,
		tmpPath:     tmpPath,
		file:        f,
		hasher:      checksum.NewStreamingHasher(),
		untar:       meta.Untar(),
	}, nil
}

// BytesWritten reports the number of bytes accepted so far, used by the
// coordinator to advance a session's seek offset.
func (s *StagingFile) BytesWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesWritten
}

// Write appends data at the current offset, updating the running
// checksum. Mirrors UploadFile.write.
func (s *StagingFile) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleanupCalled {
		return fmt.Errorf("staging file already closed")
	}
	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}
	if _, err := s.hasher.Write(data); err != nil {
		return err
	}
	s.bytesWritten += int64(len(data))
	return nil
}

// Abort discards the staged file and releases the destination reservation.
// Idempotent: a second call is a no-op, mirroring UploadFile._cleanup's
// cleanup_called guard.
func (s *StagingFile) Abort() {
	s.mu.Lock()
	if s.cleanupCalled {
		s.mu.Unlock()
		return
	}
	s.cleanupCalled = true
	s.file.Close()
	os.Remove(s.tmpPath)
	os.RemoveAll(s.tmpDir)
	s.mu.Unlock()

	s.registry.remove(s)
}

// Finalize verifies the full-file checksum, lands the file at its
// destination via a single atomic rename, and best-effort writes a
// finished marker. It ports UploadFile.finalize. For a plain upload the
// sidecar files are written into the temp directory, which is then
// renamed to the destination. For a tar archive with untar requested, no
// sidecar files are written: only the archive's single top-level entry is
// renamed, to <destination parent>/<top-level name>.
func (s *StagingFile) Finalize(remoteChecksum [32]byte) error {
	s.mu.Lock()
	if s.cleanupCalled {
		s.mu.Unlock()
		return fmt.Errorf("staging file already closed")
	}
	if !s.hasher.Verify(remoteChecksum) {
		s.mu.Unlock()
		s.Abort()
		return fmt.Errorf("Failed finalizing file: checksum mismatch")
	}

	if err := s.file.Sync(); err != nil {
		s.mu.Unlock()
		s.Abort()
		return fmt.Errorf("flush temp file: %w", err)
	}
	if err := s.file.Close(); err != nil {
		s.mu.Unlock()
		s.Abort()
		return fmt.Errorf("close temp file: %w", err)
	}
	s.mu.Unlock()

	isTar, err := isTarFile(s.tmpPath)
	if err != nil {
		s.Abort()
		return fmt.Errorf("inspect archive: %w", err)
	}

	if isTar && s.untar {
		if err := s.extractTar(); err != nil {
			s.Abort()
			return err
		}
	} else {
		if err := s.writeSidecars(); err != nil {
			s.Abort()
			return err
		}
	}

	if err := fsyncDir(s.tmpDir); err != nil {
		s.Abort()
		return fmt.Errorf("fsync temp dir: %w", err)
	}

	finalDest := s.destination
	if s.correctedDest != "" {
		finalDest = s.correctedDest
	}

	var renameSrc string
	if s.isTar && s.untar {
		renameSrc = s.tmpPath
	} else {
		renameSrc = s.tmpDir
	}
	if err := os.Rename(renameSrc, finalDest); err != nil {
		s.Abort()
		return fmt.Errorf("move staged file to destination: %w", err)
	}
	if s.isTar && s.untar {
		os.RemoveAll(s.tmpDir)
	}

	s.mu.Lock()
	s.cleanupCalled = true
	s.mu.Unlock()
	s.registry.remove(s)

	if err := fsyncDir(filepath.Dir(finalDest)); err != nil {
		return fmt.Errorf("fsync destination parent: %w", err)
	}

	s.writeMarker(finalDest)
	return nil
}

func (s *StagingFile) writeSidecars() error {
	checksumPath := s.tmpPath + ".sha256sum"
	line := fmt.Sprintf("%s\t%s", checksum.Hex(s.hasher.Sum()), filepath.Base(s.destination))
	if err := writeAndFsync(checksumPath, []byte(line)); err != nil {
		return fmt.Errorf("write checksum sidecar: %w", err)
	}

	origNamePath := s.tmpPath + ".origlabfilename"
	if err := writeAndFsync(origNamePath, []byte(s.filename)); err != nil {
		return fmt.Errorf("write original-filename sidecar: %w", err)
	}

	sourcePath := filepath.Join(s.tmpDir, "source_dropbox.txt")
	if err := writeAndFsync(sourcePath, []byte(s.origin)); err != nil {
		return fmt.Errorf("write source-dropbox sidecar: %w", err)
	}
	return nil
}

// extractTar extracts the staged tar archive in place, enforcing the
// 10-entry cap and requiring exactly one top-level entry, mirroring the
// tar branch of UploadFile.finalize.
func (s *StagingFile) extractTar() error {
	f, err := os.Open(s.tmpPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	tr := tar.NewReader(f)
	var names []string
	var headers []*tar.Header
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}
		names = append(names, hdr.Name)
		headers = append(headers, hdr)
		if len(names) > 10 {
			return fmt.Errorf("archive contains more than 10 entries, untar refused")
		}
	}

	topLevel := map[string]struct{}{}
	for _, n := range names {
		if !strings.Contains(n, "/") {
			topLevel[n] = struct{}{}
		}
	}
	if len(topLevel) != 1 {
		return fmt.Errorf("could not determine a unique top-level archive entry")
	}
	var topName string
	for n := range topLevel {
		topName = n
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind archive: %w", err)
	}
	tr = tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}
		if err := extractTarEntry(s.tmpDir, hdr, tr); err != nil {
			return fmt.Errorf("extract %s: %w", hdr.Name, err)
		}
	}

	s.isTar = true
	s.tarEntryName = topName
	os.Remove(s.tmpPath)
	s.correctedDest = filepath.Join(filepath.Dir(s.destination), topName)
	s.tmpPath = filepath.Join(s.tmpDir, topName)
	return nil
}

func extractTarEntry(destDir string, hdr *tar.Header, tr *tar.Reader) error {
	target := filepath.Join(destDir, filepath.Clean(hdr.Name))
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) && target != filepath.Clean(destDir) {
		return fmt.Errorf("archive entry escapes extraction directory: %s", hdr.Name)
	}
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, 0o755)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode&0o777))
		if err != nil {
			return err
		}
		defer out.Close()
		if _, err := io.Copy(out, tr); err != nil {
			return err
		}
		return out.Sync()
	default:
		return nil
	}
}

func (s *StagingFile) writeMarker(finalDest string) {
	parent := filepath.Dir(finalDest)
	name := filepath.Base(finalDest)
	if !model.HasValidBarcode(name) {
		return
	}
	markerPath := filepath.Join(parent, finishedMarkerPrefix+name)
	f, err := os.OpenFile(markerPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	f.Sync()
	f.Close()
}

func isTarFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	tr := tar.NewReader(f)
	_, err = tr.Next()
	return err == nil, nil
}

func writeAndFsync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
