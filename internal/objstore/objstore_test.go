package objstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectURL(t *testing.T) {
	t.Run("CustomPublicURL", func(t *testing.T) {
		store := &S3Store{bucket: "attachments", region: "eu-central-1", publicURL: "https://cdn.example.com"}
		assert.Equal(t, "https://cdn.example.com/voice/42.ogg", store.objectURL("voice/42.ogg"))
	})

	t.Run("DefaultBucketURL", func(t *testing.T) {
		store := &S3Store{bucket: "attachments", region: "eu-central-1"}
		assert.Equal(t, "https://attachments.s3.eu-central-1.amazonaws.com/voice/42.ogg", store.objectURL("voice/42.ogg"))
	})
}
