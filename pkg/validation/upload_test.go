// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateUserID(t *testing.T) {
	valid := []string{"alice", "user-42", "a.b_c", "U" + strings.Repeat("x", 63)}
	for _, id := range valid {
		assert.NoError(t, ValidateUserID(id), id)
	}

	invalid := []string{
		"",
		".leading-dot",
		"-leading-hyphen",
		"has space",
		"用户一",
		"U" + strings.Repeat("x", 64),
		"semi;colon",
	}
	for _, id := range invalid {
		assert.Error(t, ValidateUserID(id), id)
	}
}

func TestSanitizeFilenameStripsPaths(t *testing.T) {
	name, err := SanitizeFilename("../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, "passwd", name)

	name, err = SanitizeFilename(`C:\Users\alice\合同.txt`)
	require.NoError(t, err)
	assert.Equal(t, "合同.txt", name)
}

func TestSanitizeFilenameKeepsChinese(t *testing.T) {
	name, err := SanitizeFilename("房屋租赁合同（2026版）.txt")
	require.NoError(t, err)
	assert.Equal(t, "房屋租赁合同（2026版）.txt", name)
}

func TestSanitizeFilenameDropsControlChars(t *testing.T) {
	name, err := SanitizeFilename("report\r\nSet-Cookie: x.pdf")
	require.NoError(t, err)
	assert.NotContains(t, name, "\r")
	assert.NotContains(t, name, "\n")
}

func TestSanitizeFilenameRejectsEmpty(t *testing.T) {
	for _, bad := range []string{"", "   ", ".", "..", "\x00\x01"} {
		_, err := SanitizeFilename(bad)
		assert.Error(t, err, "%q", bad)
	}
}

func TestSanitizeFilenameTruncatesKeepingExtension(t *testing.T) {
	long := strings.Repeat("合", 300) + ".txt"
	name, err := SanitizeFilename(long)
	require.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(name)), MaxFilenameRunes)
	assert.True(t, strings.HasSuffix(name, ".txt"))
}
