// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that end up
// in storage keys, response headers, or log lines. Using these validators
// prevents injection attacks (header injection, path traversal, log forging).
package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxFilenameRunes caps sanitized upload filenames. Long enough for
// descriptive Chinese contract names, short enough for every common
// filesystem.
const MaxFilenameRunes = 128

// userIDPattern matches caller-supplied user identifiers.
// Allows: letters, digits, dots, underscores, hyphens. Max 64 chars.
var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,63}$`)

// ValidateUserID validates a caller-supplied user identifier before it
// is used as a storage filter or metric label.
//
// Returns an error if the identifier is invalid.
func ValidateUserID(id string) error {
	if id == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	if !userIDPattern.MatchString(id) {
		return fmt.Errorf("invalid user id: %q (must be 1-64 alphanumeric chars, dots, underscores, or hyphens)", id)
	}
	return nil
}

// SanitizeFilename normalizes an uploaded filename for storage and for
// the Content-Disposition header on report downloads.
//
// The result:
//   - has any directory components stripped (path traversal)
//   - contains no control characters (header and log injection)
//   - is valid UTF-8 and at most MaxFilenameRunes runes
//
// Chinese filenames pass through unchanged apart from these rules.
//
// Example:
//
//	name, err := validation.SanitizeFilename(header.Filename)
//	if err != nil {
//	    return err
//	}
func SanitizeFilename(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("filename cannot be empty")
	}
	if !utf8.ValidString(name) {
		return "", fmt.Errorf("filename is not valid UTF-8")
	}

	// Browsers may send full paths; Windows clients use backslashes.
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(name)
	if name == "." || name == ".." || name == "/" {
		return "", fmt.Errorf("filename has no usable base name")
	}

	var b strings.Builder
	for _, r := range name {
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	name = b.String()
	if name == "" {
		return "", fmt.Errorf("filename contains only control characters")
	}

	runes := []rune(name)
	if len(runes) > MaxFilenameRunes {
		ext := filepath.Ext(name)
		keep := MaxFilenameRunes - utf8.RuneCountInString(ext)
		if keep < 1 {
			keep = MaxFilenameRunes
			ext = ""
		}
		name = string(runes[:keep]) + ext
	}
	return name, nil
}
