package project

import "strings"

// ParseKeyFiles splits a key-file manifest on newlines or commas, trims each
// piece and drops empty ones. Order is preserved. An empty manifest yields an
// empty, non-nil slice.
func ParseKeyFiles(manifest string) []string {
	files := []string{}
	for _, piece := range strings.FieldsFunc(manifest, func(r rune) bool {
		return r == '\n' || r == ','
	}) {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		files = append(files, piece)
	}
	return files
}
