/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ingest

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	numericPrefix  = regexp.MustCompile(`^\d+-`)
	finalExtension = regexp.MustCompile(`\.[^/.]+$`)
	whitespaceRuns = regexp.MustCompile(`\s+`)
	nonTitleRunes  = regexp.MustCompile(`(?i)[^a-z0-9\s]`)
)

const (
	fallbackSlug  = "track"
	fallbackTitle = "Untitled"
)

// CleanTitle derives the display title from a filename or video title:
// leading "123-" prefix and final extension removed, underscores become
// spaces and each word is capitalized.
func CleanTitle(label string) string {
	s := numericPrefix.ReplaceAllString(label, "")
	s = finalExtension.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "_", " ")

	words := strings.Split(s, " ")
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

func capitalize(word string) string {
	if word == "" {
		return word
	}
	r, size := utf8.DecodeRuneInString(word)
	return string(unicode.ToUpper(r)) + strings.ToLower(word[size:])
}

// Slug turns a display title into the filename fragment used on disk.
func Slug(title string) string {
	s := whitespaceRuns.ReplaceAllString(strings.TrimSpace(title), "_")
	s = strings.ToLower(s)
	// Path separators never reach the sound directory.
	s = strings.NewReplacer("/", "_", `\`, "_").Replace(s)
	if s == "" || s == "." || s == ".." {
		return fallbackSlug
	}
	return s
}

// SanitizeVideoTitle keeps ASCII letters, digits and whitespace.
func SanitizeVideoTitle(title string) string {
	return strings.TrimSpace(nonTitleRunes.ReplaceAllString(title, " "))
}
