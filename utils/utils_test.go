package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandomString(t *testing.T) {
	for _, n := range []int{0, 1, 16, 64} {
		s := RandomString(n)
		assert.Len(t, s, n)
		for _, r := range s {
			if !strings.ContainsRune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ", r) {
				t.Errorf("unexpected character %q in random string", r)
			}
		}
	}
}

func TestNewJobID(t *testing.T) {
	id := NewJobID()
	assert.True(t, strings.HasPrefix(id, "job_"), "job id should carry the job_ prefix: %s", id)
	assert.Len(t, id, len("job_")+8)

	suffix := strings.TrimPrefix(id, "job_")
	for _, r := range suffix {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Errorf("job id suffix should be lowercase hex, got %q in %s", r, id)
		}
	}

	other := NewJobID()
	assert.NotEqual(t, id, other, "consecutive job ids should differ")
}

func TestNewModelID(t *testing.T) {
	id := NewModelID()
	assert.True(t, strings.HasPrefix(id, "model_"))
	assert.Len(t, id, len("model_")+8)
}
