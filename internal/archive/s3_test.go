package archive

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectKey_ChannelAndEntryScoped(t *testing.T) {
	s := &Store{}
	key := s.objectKey("user_8", "preferences", []byte("payload"))
	assert.True(t, strings.HasPrefix(key, "appstate/user_8/preferences-"))
}

func TestObjectKey_Deterministic(t *testing.T) {
	s := &Store{}
	data := []byte(`{"theme":"dark"}`)
	assert.Equal(t, s.objectKey("c1", "e1", data), s.objectKey("c1", "e1", data))
}

func TestObjectKey_ChannelIsolation(t *testing.T) {
	s := &Store{}
	data := []byte("same bytes")
	assert.NotEqual(t, s.objectKey("c1", "e1", data), s.objectKey("c2", "e1", data))
}

func TestObjectKey_ContentAddressed(t *testing.T) {
	s := &Store{}
	keyA := s.objectKey("c1", "e1", []byte("version one"))
	keyB := s.objectKey("c1", "e1", []byte("version two"))
	assert.NotEqual(t, keyA, keyB, "different payloads under the same entry key must land on different objects")
}

func TestObjectKey_EntryKeyScopesIdenticalContent(t *testing.T) {
	s := &Store{}
	data := []byte(`{"theme":"dark"}`)
	keyA := s.objectKey("c1", "entry-1", data)
	keyB := s.objectKey("c1", "entry-2", data)
	assert.NotEqual(t, keyA, keyB, "entryKey still scopes the key even when content repeats")
}

func TestBucket(t *testing.T) {
	s := &Store{bucket: "envelope-archive"}
	assert.Equal(t, "envelope-archive", s.Bucket())
}

func TestNew_EmptyBucketReturnsError(t *testing.T) {
	_, err := New(
		t.Context(),
		"http://localhost:9002",
		"accesskey",
		"secretkey",
		"",
		false,
		true,
	)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "bucket name is required")
}

func TestNew_ValidBucketCreatesClient(t *testing.T) {
	s, err := New(
		t.Context(),
		"http://localhost:9002",
		"accesskey",
		"secretkey",
		"valid-bucket",
		false,
		true,
	)
	assert.NoError(t, err)
	assert.NotNil(t, s)
	assert.Equal(t, "valid-bucket", s.Bucket())
}
