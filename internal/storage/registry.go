package storage

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/creditdrop/creditdrop/pkg/model"
)

// Registry is the in-memory arena of in-flight uploads: it reserves a
// destination path for the lifetime of an upload and refuses a second
// upload from claiming the same destination, the same exclusivity
// Storage.add_file/_remove_file enforce with self._files/self._destinations.
type Registry struct {
	opts      Options
	dropboxes []compiledDropbox

	mu           sync.Mutex
	files        map[string]*StagingFile
	destinations map[string]struct{}
}

// NewRegistry validates opts, compiles its dropbox rules once, and
// returns an empty Registry.
func NewRegistry(opts Options) (*Registry, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	info, err := os.Stat(opts.TmpDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("storage: tmp_dir %q is not a directory", opts.TmpDir)
	}
	dropboxes, err := compileDropboxes(opts.Dropboxes)
	if err != nil {
		return nil, err
	}
	return &Registry{
		opts:         opts,
		dropboxes:    dropboxes,
		files:        make(map[string]*StagingFile),
		destinations: make(map[string]struct{}),
	}, nil
}

// NumActive reports the number of in-flight staging files.
func (r *Registry) NumActive() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}

// AddFile validates and reserves a destination for a new upload and
// returns the StagingFile the coordinator writes chunks into. Mirrors
// Storage.add_file.
func (r *Registry) AddFile(rawFilename string, meta model.FileMeta, origin string) (*StagingFile, error) {
	if err := model.ValidateRawFilename(rawFilename); err != nil {
		return nil, fmt.Errorf("bad filename: %w", err)
	}
	cleanedName, err := model.CleanFilename(rawFilename)
	if err != nil {
		return nil, fmt.Errorf("bad filename: %w", err)
	}

	destDir, err := resolveDestinationDir(r.opts.ManualPath, r.dropboxes, meta, cleanedName, origin)
	if err != nil {
		return nil, err
	}
	dest := destDir + string(os.PathSeparator) + cleanedName

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, reserved := r.destinations[dest]; reserved {
		return nil, fmt.Errorf("file is being uploaded already")
	}
	if _, err := os.Stat(dest); err == nil {
		return nil, fmt.Errorf("file exists on server")
	}

	fileID := uuid.NewString()
	sf, err := newStagingFile(fileID, dest, rawFilename, cleanedName, meta, origin, r)
	if err != nil {
		return nil, err
	}
	r.files[fileID] = sf
	r.destinations[dest] = struct{}{}
	return sf, nil
}

func (r *Registry) remove(sf *StagingFile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.destinations, sf.destination)
	delete(r.files, sf.fileID)
}

// CloseAll aborts every in-flight staging file, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	files := make([]*StagingFile, 0, len(r.files))
	for _, f := range r.files {
		files = append(files, f)
	}
	r.mu.Unlock()

	for _, f := range files {
		f.Abort()
	}
}
