// Package classify inspects raw user input and determines its
// composition (plain text, URL, image, or a mix) so the pipeline knows
// which agents to run.
package classify

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/taskbeacon/taskbeacon/pkg/models"
)

// Kind is the detected input composition.
type Kind string

const (
	KindText  Kind = "text"
	KindURL   Kind = "url"
	KindImage Kind = "image"
	// KindMixed is reported when more than one non-empty component is present.
	KindMixed Kind = "mixed"
)

// Input is the raw material handed to the classifier. Any combination
// of fields may be set.
type Input struct {
	// Text is free-form user text. May embed URLs.
	Text string
	// URL is an explicitly provided URL, taking precedence over any
	// URL scanned out of Text.
	URL string
	// ImageData holds raw image bytes, if the user attached an image.
	ImageData []byte
}

// Empty reports whether the input carries no component at all.
func (in Input) Empty() bool {
	return strings.TrimSpace(in.Text) == "" && in.URL == "" && len(in.ImageData) == 0
}

// Classification is the classifier's output.
type Classification struct {
	// Kind is the overall input composition.
	Kind Kind
	// URLs are the detected URLs, explicit URL first.
	URLs []string
	// HasImage is true when a valid image payload is present.
	HasImage bool
	// NormalizedText is Text with URLs stripped and whitespace collapsed.
	NormalizedText string
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// image magic bytes, matching the formats the original vision agents accept
var imageMagics = []struct {
	format string
	prefix []byte
	offset int
}{
	{format: "png", prefix: []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}},
	{format: "jpeg", prefix: []byte{0xFF, 0xD8, 0xFF}},
	{format: "gif", prefix: []byte("GIF8")},
	{format: "bmp", prefix: []byte("BM")},
	{format: "webp", prefix: []byte("WEBP"), offset: 8},
}

// DetectImageFormat returns the image format for the given bytes, or
// an empty string when the payload is not a recognized image.
func DetectImageFormat(data []byte) string {
	for _, m := range imageMagics {
		end := m.offset + len(m.prefix)
		if len(data) >= end && bytes.Equal(data[m.offset:end], m.prefix) {
			return m.format
		}
	}
	return ""
}

// Classify determines the composition of the input. It has no side
// effects and fails only on a malformed image payload; ambiguous text
// never fails. A malformed image inside otherwise non-empty input is
// the caller's degradation decision, so the error is returned alongside
// the classification of the remaining components.
func Classify(in Input) (Classification, error) {
	var c Classification

	if in.URL != "" {
		c.URLs = append(c.URLs, in.URL)
	}
	for _, u := range urlPattern.FindAllString(in.Text, -1) {
		u = strings.TrimRight(u, ".,;:")
		if !containsString(c.URLs, u) {
			c.URLs = append(c.URLs, u)
		}
	}

	c.NormalizedText = normalizeText(urlPattern.ReplaceAllString(in.Text, " "))

	var imageErr error
	if len(in.ImageData) > 0 {
		if DetectImageFormat(in.ImageData) == "" {
			imageErr = models.Errorf(models.ErrInvalidImage, "unrecognized image payload (%d bytes)", len(in.ImageData))
		} else {
			c.HasImage = true
		}
	}

	c.Kind = kindOf(c)
	return c, imageErr
}

// kindOf picks the overall kind from the detected components.
func kindOf(c Classification) Kind {
	components := 0
	kind := KindText
	if c.NormalizedText != "" {
		components++
	}
	if len(c.URLs) > 0 {
		components++
		kind = KindURL
	}
	if c.HasImage {
		components++
		kind = KindImage
	}
	if components > 1 {
		return KindMixed
	}
	return kind
}

// normalizeText collapses runs of whitespace to single spaces and trims.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
