// Package validate provides functions to validate upload requests and metadata.
package validate

import (
	"errors"
	"path/filepath"
	"regexp"
	"strings"
)

var tagRx = regexp.MustCompile(`^[a-zA-Z0-9 _\-]{1,32}$`)

var imageContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".heic": true,
}

// FilenameImage checks that the filename has a supported image extension.
func FilenameImage(fn string) error {
	if !imageExts[strings.ToLower(filepath.Ext(fn))] {
		return errors.New("only jpg, png, webp, or heic files allowed")
	}
	return nil
}

// ImageContentType checks that the Content-Type is a supported image type.
func ImageContentType(ct string) error {
	if !imageContentTypes[strings.TrimSpace(strings.ToLower(ct))] {
		return errors.New("Content-Type must be an image type")
	}
	return nil
}

// FileSizeOK checks that the declared size is positive and within max.
func FileSizeOK(size, max int64) error {
	if size <= 0 {
		return errors.New("file size required")
	}
	if size > max {
		return errors.New("file too large")
	}
	return nil
}

// TagsOK checks that there are at most 10 tags, each matching the allowed pattern.
func TagsOK(tags []string) error {
	if len(tags) > 10 {
		return errors.New("provide at most 10 tags")
	}
	for _, t := range tags {
		if !tagRx.MatchString(t) {
			return errors.New("invalid tag: " + t)
		}
	}
	return nil
}

// CurrencyOK checks that a currency, when present, is a 3-letter code.
func CurrencyOK(c string) error {
	if c == "" {
		return nil
	}
	if len(c) != 3 {
		return errors.New("currency must be a 3-letter code")
	}
	return nil
}

// ItemNameOK checks that a line item has a non-empty name.
func ItemNameOK(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("item name required")
	}
	return nil
}
