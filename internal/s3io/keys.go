package s3io

import (
	"fmt"
	"strings"
)

// Keys is the blob-store object set backing one uploaded image.
type Keys struct {
	Original  string
	Resized   string
	Thumbnail string
}

// ImageKeys constructs the S3 keys for a given userID and imageID.
func ImageKeys(userID, imageID string) Keys {
	prefix := fmt.Sprintf("receipts/%s/%s", userID, imageID)
	return Keys{
		Original:  prefix + "/original",
		Resized:   prefix + "/resized",
		Thumbnail: prefix + "/thumbnail",
	}
}

// All returns the object set as a slice, for batch deletion.
func (k Keys) All() []string {
	return []string{k.Original, k.Resized, k.Thumbnail}
}

// ParseOriginalKey extracts userID and imageID from an original-object key.
func ParseOriginalKey(key string) (userID, imageID string, ok bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 4 || parts[0] != "receipts" || parts[3] != "original" {
		return "", "", false
	}
	if parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// UploadHeaders builds the headers the client must send on PUT.
func UploadHeaders(userID, imageID, contentType string) map[string]string {
	return map[string]string{
		"Content-Type":                 contentType,
		"x-amz-server-side-encryption": "aws:kms",
		"x-amz-meta-image_id":          imageID,
		"x-amz-meta-user_id":           userID,
	}
}
