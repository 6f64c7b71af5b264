package model

import (
	"fmt"
	"path/filepath"
	"strings"
)

func isAllowedFilenameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_' || r == '.':
		return true
	default:
		return false
	}
}

// CleanFilename strips every character outside [A-Za-z0-9_.] from the
// stem of path, leaving the suffix untouched except for validation.
// Returns an error if the cleaned stem is empty or the suffix contains
// disallowed characters.
func CleanFilename(path string) (string, error) {
	base := filepath.Base(path)
	suffix := filepath.Ext(base)
	stem := strings.TrimSuffix(base, suffix)

	var cleaned strings.Builder
	for _, r := range stem {
		if isAllowedFilenameRune(r) {
			cleaned.WriteRune(r)
		}
	}
	cleanedStem := strings.TrimLeft(cleaned.String(), ".")
	if cleanedStem == "" {
		return "", fmt.Errorf("invalid file name: %s", stem+suffix)
	}

	for _, r := range suffix {
		if !isAllowedFilenameRune(r) {
			return "", fmt.Errorf("bad file suffix: %s", suffix)
		}
	}

	return cleanedStem + suffix, nil
}

// ValidateRawFilename rejects names that try to escape the destination
// directory before any character cleaning happens: names containing a
// path separator, or starting with ".", including "." and "..".
func ValidateRawFilename(filename string) error {
	if filename == "" {
		return fmt.Errorf("empty filename")
	}
	if filename != filepath.Base(filename) {
		return fmt.Errorf("invalid filename: %s", truncate(filename, 50))
	}
	if strings.HasPrefix(filename, ".") {
		return fmt.Errorf("invalid filename: %s", truncate(filename, 50))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// GenerateOpenBisName moves the barcode in a cleaned name to the front,
// producing "<barcode>_<rest>", where rest is the cleaned name with the
// barcode removed. Returns an error if the cleaned name carries no barcode.
func GenerateOpenBisName(path string) (string, error) {
	cleaned, err := CleanFilename(path)
	if err != nil {
		return "", err
	}
	barcode, ok := ExtractBarcode(cleaned)
	if !ok {
		return "", fmt.Errorf("no barcode found in: %s", cleaned)
	}
	rest := strings.ReplaceAll(cleaned, barcode, "")
	return barcode + "_" + rest, nil
}
