package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilenameImage(t *testing.T) {
	assert.NoError(t, FilenameImage("receipt.jpg"))
	assert.NoError(t, FilenameImage("IMG_0042.HEIC"))
	assert.Error(t, FilenameImage("claim.txt"))
	assert.Error(t, FilenameImage("archive.zip"))
	assert.Error(t, FilenameImage(""))
}

func TestImageContentType(t *testing.T) {
	assert.NoError(t, ImageContentType("image/jpeg"))
	assert.NoError(t, ImageContentType(" image/PNG "))
	assert.Error(t, ImageContentType("text/plain"))
	assert.Error(t, ImageContentType(""))
}

func TestFileSizeOK(t *testing.T) {
	max := int64(10 << 20)
	assert.NoError(t, FileSizeOK(1, max))
	assert.NoError(t, FileSizeOK(max, max))
	assert.Error(t, FileSizeOK(0, max))
	assert.Error(t, FileSizeOK(max+1, max))
}

func TestTagsOK(t *testing.T) {
	assert.NoError(t, TagsOK(nil))
	assert.NoError(t, TagsOK([]string{"work", "travel-2024", "lunch meeting"}))
	assert.Error(t, TagsOK([]string{"bad!tag"}))
	assert.Error(t, TagsOK([]string{""}))

	many := make([]string, 11)
	for i := range many {
		many[i] = "t"
	}
	assert.Error(t, TagsOK(many))
}

func TestCurrencyOK(t *testing.T) {
	assert.NoError(t, CurrencyOK(""))
	assert.NoError(t, CurrencyOK("USD"))
	assert.Error(t, CurrencyOK("US"))
	assert.Error(t, CurrencyOK("DOLLARS"))
}

func TestItemNameOK(t *testing.T) {
	assert.NoError(t, ItemNameOK("Latte"))
	assert.Error(t, ItemNameOK("   "))
}
