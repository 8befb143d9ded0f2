package ingest

import (
	"fmt"
	"path/filepath"
	"strings"
)

// TokenSeparator separates the parts of a collected file name:
// <collectionType>__<tableName>__<collectionKey>.
const TokenSeparator = "__"

// OutputCollectionType marks files produced by a previous run.
const OutputCollectionType = "opdbt"

// Token returns the index-th sep-delimited token of the file's base name.
func Token(path, sep string, index int) (string, error) {
	parts := strings.Split(filepath.Base(path), sep)
	if index < 0 || index >= len(parts) {
		return "", fmt.Errorf("file name %q has no token %d", filepath.Base(path), index)
	}
	return parts[index], nil
}

// CollectionType returns the collection-type tag of a collected file.
func CollectionType(path string) string {
	tok, err := Token(path, TokenSeparator, 0)
	if err != nil {
		return ""
	}
	return tok
}

// TableName returns the table name encoded in a collected file name.
func TableName(path string) (string, error) {
	return Token(path, TokenSeparator, 1)
}

// CollectionKey returns everything after the table-name token, which ties a
// file to one collection run.
func CollectionKey(path string) string {
	parts := strings.Split(filepath.Base(path), TokenSeparator)
	if len(parts) < 3 {
		return ""
	}
	return strings.Join(parts[2:], TokenSeparator)
}

// IsOutputFile reports whether a file was produced by a previous run.
func IsOutputFile(path string) bool {
	return CollectionType(path) == OutputCollectionType
}
