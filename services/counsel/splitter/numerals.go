// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package splitter

import (
	"fmt"
	"strings"
)

// =============================================================================
// Chinese Numeral Conversion
// =============================================================================

// Statute labels use Chinese numerals ("第三十条") while user queries and
// OCR'd documents frequently use Arabic digits ("第30条"). Both forms are
// normalized to the canonical Chinese form so that metadata filters and
// exact-match retrieval compare equal strings.

// cnDigits maps single Chinese numeral characters to their values.
var cnDigits = map[rune]int{
	'零': 0, '〇': 0,
	'一': 1, '二': 2, '两': 2, '三': 3, '四': 4,
	'五': 5, '六': 6, '七': 7, '八': 8, '九': 9,
}

// cnUnits maps positional multiplier characters to their values.
var cnUnits = map[rune]int{
	'十': 10, '百': 100, '千': 1000,
}

// canonicalDigits is the digit set used when formatting. Note "二" not "两":
// statute numbering never uses the colloquial form.
var canonicalDigits = []string{"零", "一", "二", "三", "四", "五", "六", "七", "八", "九"}

// ParseNumeral converts a Chinese or Arabic numeral string to an integer.
//
// # Description
//
// Accepts pure Arabic digits ("1198"), pure Chinese numerals ("一千一百九十八"),
// and the leading-十 shorthand ("十三" = 13). The supported range is 1..9999,
// which covers every article number in Chinese statutes (the Civil Code tops
// out at 第一千二百六十条).
//
// # Inputs
//
//   - s: Numeral string without the 第/条 wrapper.
//
// # Outputs
//
//   - int: Parsed value.
//   - error: Non-nil for empty input, mixed scripts, or out-of-range values.
func ParseNumeral(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty numeral")
	}

	// Arabic fast path. Mixed Arabic/Chinese input is rejected below.
	if isASCIIDigits(s) {
		n := 0
		for _, r := range s {
			n = n*10 + int(r-'0')
			if n > 9999 {
				return 0, fmt.Errorf("numeral out of range: %s", s)
			}
		}
		if n == 0 {
			return 0, fmt.Errorf("numeral must be positive: %s", s)
		}
		return n, nil
	}

	total := 0   // Completed thousands/hundreds/tens.
	current := 0 // Pending digit awaiting a unit.
	sawAny := false

	for _, r := range s {
		if d, ok := cnDigits[r]; ok {
			current = d
			sawAny = true
			continue
		}
		if u, ok := cnUnits[r]; ok {
			// Leading 十 means 1 ten: 十三 = 13.
			if current == 0 && u == 10 && total == 0 {
				current = 1
			}
			total += current * u
			current = 0
			sawAny = true
			continue
		}
		return 0, fmt.Errorf("invalid numeral character %q in %q", r, s)
	}

	if !sawAny {
		return 0, fmt.Errorf("no numeral characters in %q", s)
	}
	n := total + current
	if n <= 0 || n > 9999 {
		return 0, fmt.Errorf("numeral out of range: %s", s)
	}
	return n, nil
}

// FormatNumeral converts an integer to its canonical Chinese numeral form.
//
// # Description
//
// Produces the form used in statute labels: 30 → "三十", 100 → "一百",
// 1198 → "一千一百九十八". Interior zero runs collapse to a single 零
// (1005 → "一千零五") and trailing units are omitted (1100 → "一千一百").
//
// # Inputs
//
//   - n: Value in 1..9999.
//
// # Outputs
//
//   - string: Canonical Chinese numeral. Empty string when out of range.
func FormatNumeral(n int) string {
	if n <= 0 || n > 9999 {
		return ""
	}

	var b strings.Builder
	units := []struct {
		value int
		label string
	}{
		{1000, "千"},
		{100, "百"},
		{10, "十"},
		{1, ""},
	}

	pendingZero := false
	started := false
	for _, u := range units {
		d := (n / u.value) % 10
		if d == 0 {
			if started {
				pendingZero = true
			}
			continue
		}
		if pendingZero {
			b.WriteString("零")
			pendingZero = false
		}
		// Bare 十 for 10..19: 十三 not 一十三. Larger numbers keep the
		// digit: 一百一十 for 110.
		if !(d == 1 && u.value == 10 && !started) {
			b.WriteString(canonicalDigits[d])
		}
		b.WriteString(u.label)
		started = true
	}
	return b.String()
}

// NormalizeLabel rewrites a 第…X label to canonical Chinese numeral form.
//
// # Description
//
// Given a full label such as "第30条" or "第三十条" and its suffix rune
// ("条", "章", "节", "编"), returns the canonical form "第三十条". The
// operation is idempotent: normalizing an already-canonical label returns
// it unchanged.
//
// # Inputs
//
//   - label: Full label including 第 prefix and suffix.
//   - suffix: The unit suffix the label must carry.
//
// # Outputs
//
//   - string: Canonical label, or the input unchanged when it cannot be parsed.
func NormalizeLabel(label, suffix string) string {
	trimmed := strings.TrimSpace(label)
	body, ok := strings.CutPrefix(trimmed, "第")
	if !ok {
		return trimmed
	}
	body, ok = cutLastSuffix(body, suffix)
	if !ok {
		return trimmed
	}
	n, err := ParseNumeral(body)
	if err != nil {
		return trimmed
	}
	return "第" + FormatNumeral(n) + suffix
}

// NormalizeArticle is NormalizeLabel specialized for 条 labels.
func NormalizeArticle(label string) string {
	return NormalizeLabel(label, "条")
}

func isASCIIDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// cutLastSuffix removes suffix and any trailing garbage after it is not
// tolerated: the suffix must terminate the string.
func cutLastSuffix(s, suffix string) (string, bool) {
	if !strings.HasSuffix(s, suffix) {
		return s, false
	}
	return s[:len(s)-len(suffix)], true
}
