package s3io

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImageKeys(t *testing.T) {
	keys := ImageKeys("u1", "01HXYZ")
	assert.Equal(t, "receipts/u1/01HXYZ/original", keys.Original)
	assert.Equal(t, "receipts/u1/01HXYZ/resized", keys.Resized)
	assert.Equal(t, "receipts/u1/01HXYZ/thumbnail", keys.Thumbnail)
	assert.Equal(t, []string{keys.Original, keys.Resized, keys.Thumbnail}, keys.All())
}

func TestParseOriginalKey(t *testing.T) {
	userID, imageID, ok := ParseOriginalKey("receipts/u1/01HXYZ/original")
	assert.True(t, ok)
	assert.Equal(t, "u1", userID)
	assert.Equal(t, "01HXYZ", imageID)

	for _, bad := range []string{
		"receipts/u1/01HXYZ/resized",
		"receipts/u1/01HXYZ/thumbnail",
		"other/u1/01HXYZ/original",
		"receipts//01HXYZ/original",
		"receipts/u1//original",
		"receipts/u1/original",
		"",
	} {
		_, _, ok := ParseOriginalKey(bad)
		assert.False(t, ok, "key %q", bad)
	}
}

func TestUploadHeaders(t *testing.T) {
	h := UploadHeaders("u1", "img1", "image/png")
	assert.Equal(t, "image/png", h["Content-Type"])
	assert.Equal(t, "aws:kms", h["x-amz-server-side-encryption"])
	assert.Equal(t, "img1", h["x-amz-meta-image_id"])
	assert.Equal(t, "u1", h["x-amz-meta-user_id"])
}
