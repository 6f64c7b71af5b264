// Package storage implements the destination-resolution and
// atomic-landing half of the upload coordinator: matching a file against
// the configured dropbox rules (dync's Storage._find_openbis_dest /
// _dest_from_passthrough) and writing it to disk exactly once (dync's
// UploadFile.finalize), adapted onto the teacher's SessionManager
// atomic-rename idiom (internal/session/manager.go's saveLocked).
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"unicode"

	"github.com/creditdrop/creditdrop/pkg/model"
)

// Options configures a Registry: the staging directory, the
// manual/passthrough root, and the ordered dropbox rules checked for
// openBis-style incoming files.
type Options struct {
	TmpDir     string
	ManualPath string
	Dropboxes  []model.DropboxRule
}

// Validate checks every dropbox regexp compiles and every path is an
// absolute, existing directory, mirroring Storage.check_openbis.
func (o Options) Validate() error {
	_, err := compileDropboxes(o.Dropboxes)
	if err != nil {
		return err
	}
	for i, d := range o.Dropboxes {
		if !filepath.IsAbs(d.Path) {
			return fmt.Errorf("dropbox[%d]: path %q is not absolute", i, d.Path)
		}
		info, err := os.Stat(d.Path)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("dropbox[%d]: %q is not a directory", i, d.Path)
		}
	}
	return nil
}

// compiledDropbox pairs a dropbox rule with its regexp compiled once at
// registry-construction time, anchored at the start of the string to
// match Python re.match's semantics (Storage._find_openbis_dest), rather
// than re.search's match-anywhere.
type compiledDropbox struct {
	model.DropboxRule
	re *regexp.Regexp
}

func compileDropboxes(rules []model.DropboxRule) ([]compiledDropbox, error) {
	compiled := make([]compiledDropbox, 0, len(rules))
	for i, d := range rules {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("dropbox[%d]: %w", i, err)
		}
		re, err := regexp.Compile(`\A(?:` + d.Regexp + `)`)
		if err != nil {
			return nil, fmt.Errorf("dropbox[%d]: invalid regexp %q: %w", i, d.Regexp, err)
		}
		compiled = append(compiled, compiledDropbox{DropboxRule: d, re: re})
	}
	return compiled, nil
}

// resolveDestinationDir picks the directory a cleaned file name lands in,
// given the raw meta and the connection's verified origin. It ports
// Storage._destination_from_meta: passthrough meta takes priority over
// the dropbox rule list.
func resolveDestinationDir(manualPath string, dropboxes []compiledDropbox, meta model.FileMeta, cleanedName, origin string) (string, error) {
	if passthrough, ok := meta.Passthrough(); ok {
		return destFromPassthrough(manualPath, passthrough)
	}
	dir, ok := findOpenBisDest(dropboxes, origin, cleanedName)
	if !ok {
		return "", fmt.Errorf("file does not match any rule for incoming files")
	}
	return dir, nil
}

func destFromPassthrough(manualPath, passthrough string) (string, error) {
	for _, r := range passthrough {
		if !isWordRune(r) {
			return "", fmt.Errorf("only alphanumeric symbols and '_' are allowed as passthrough argument")
		}
	}
	dir := filepath.Join(manualPath, passthrough)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create passthrough directory: %w", err)
	}
	return dir, nil
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// findOpenBisDest walks the configured dropboxes in order and returns the
// first match, exactly as Storage._find_openbis_dest does for
// non-directory uploads (directory uploads are out of scope here).
func findOpenBisDest(dropboxes []compiledDropbox, origin, name string) (string, bool) {
	for _, d := range dropboxes {
		if len(d.Origin) > 0 && !containsString(d.Origin, origin) {
			continue
		}
		if !d.MatchesFile() {
			continue
		}
		if d.NeedsBarcode() {
			barcode, ok := model.ExtractBarcode(name)
			if !ok || !model.IsValidBarcode(barcode) {
				continue
			}
		}
		if d.re.MatchString(name) {
			return d.Path, true
		}
	}
	return "", false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
