package model

import "regexp"

// BarcodeRegex matches an OpenBis barcode: 5 letters/digits, 3 digits, a
// letter, then a checksum character.
const BarcodeRegex = `Q[A-X0-9]{4}[0-9]{3}[A-X][A-X0-9]`

var (
	barcodeFindPattern = regexp.MustCompile(BarcodeRegex)
	barcodeFullPattern = regexp.MustCompile("^" + BarcodeRegex + "$")
)

// ExtractBarcode returns the single OpenBis barcode found in stem, or
// false if none or more than one distinct barcode is present.
func ExtractBarcode(stem string) (string, bool) {
	matches := barcodeFindPattern.FindAllString(stem, -1)
	if len(matches) == 0 {
		return "", false
	}
	unique := map[string]struct{}{}
	for _, m := range matches {
		unique[m] = struct{}{}
	}
	if len(unique) > 1 {
		return "", false
	}
	return matches[0], true
}

// IsValidBarcode checks the mod-34 checksum character of an OpenBis
// barcode. The checksum is computed over the first 9 characters:
//
//	sum(ord(c) * (i+1) for i, c in enumerate(barcode[:9])) % 34 + 48
//
// shifted up by 7 when it would otherwise land past '9'.
func IsValidBarcode(barcode string) bool {
	if !barcodeFullPattern.MatchString(barcode) {
		return false
	}
	sum := 0
	body := barcode[:len(barcode)-1]
	for i, c := range body {
		sum += int(c) * (i + 1)
	}
	csum := sum%34 + 48
	if csum > 57 {
		csum += 7
	}
	return int(barcode[len(barcode)-1]) == csum
}

// HasValidBarcode reports whether name (typically a basename, extension
// included) carries exactly one OpenBis barcode and that barcode passes
// its checksum. Used to gate the best-effort completion marker.
func HasValidBarcode(name string) bool {
	barcode, ok := ExtractBarcode(name)
	return ok && IsValidBarcode(barcode)
}
