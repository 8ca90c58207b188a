package validation

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMimeType(t *testing.T) {
	tests := []struct {
		declared string
		want     string
		ok       bool
	}{
		{"image/png", "image/png", true},
		{"IMAGE/JPEG", "image/jpeg", true},
		{"video/mp4; codecs=avc1", "video/mp4", true},
		{" audio/mpeg ", "audio/mpeg", true},
		{"video/quicktime", "video/quicktime", true},
		{"text/plain", "", false},
		{"application/pdf", "", false},
		{"image/svg+xml", "", false},
		{"", "", false},
		{"not a type", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.declared, func(t *testing.T) {
			got, err := MediaConstraints.ValidateMimeType(tt.declared)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrUnsupportedMimeType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateSize(t *testing.T) {
	c := NewConstraints([]string{"image/png"}, 50<<20)

	assert.NoError(t, c.ValidateSize(10))
	assert.NoError(t, c.ValidateSize(50<<20))

	err := c.ValidateSize(50<<20 + 1)
	assert.ErrorIs(t, err, ErrSizeExceeded)
	assert.EqualError(t, err, "file too large: maximum size is 50 MB")

	assert.EqualError(t, NewConstraints(nil, 1000).ValidateSize(1001), "file too large: maximum size is 1000 bytes")
	assert.NoError(t, NewConstraints(nil, 0).ValidateSize(1<<40))
}

func TestLimitReader(t *testing.T) {
	c := NewConstraints([]string{"video/mp4"}, 50<<20)

	t.Run("at the ceiling", func(t *testing.T) {
		n, err := io.Copy(io.Discard, c.LimitReader(io.LimitReader(zeros{}, 50<<20)))
		require.NoError(t, err)
		assert.Equal(t, int64(50<<20), n)
	})

	t.Run("over the ceiling stops early", func(t *testing.T) {
		src := &countingZeros{limit: 60 << 20}
		n, err := io.Copy(io.Discard, c.LimitReader(src))
		assert.ErrorIs(t, err, ErrSizeExceeded)
		assert.Equal(t, int64(50<<20), n)
		// Never more than one byte past the ceiling was pulled from the source
		assert.Equal(t, int64(50<<20+1), src.read)
	})

	t.Run("source errors pass through", func(t *testing.T) {
		boom := errors.New("connection reset")
		_, err := io.Copy(io.Discard, c.LimitReader(io.MultiReader(bytes.NewReader([]byte("abc")), errReader{boom})))
		assert.ErrorIs(t, err, boom)
	})
}

func TestErrorIs(t *testing.T) {
	err := MissingField("postId")
	assert.ErrorIs(t, err, ErrMissingField)
	assert.NotErrorIs(t, err, ErrSizeExceeded)
	assert.ErrorIs(t, err, &Error{Reason: ReasonMissingField, Message: "postId is required"})
	assert.NotErrorIs(t, err, &Error{Reason: ReasonMissingField, Message: "file is required"})
	assert.True(t, strings.Contains(MultipleFiles().Error(), "one file"))
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".png", MediaConstraints.Extension("image/png"))
	assert.Equal(t, ".mov", MediaConstraints.Extension("video/quicktime"))
	assert.Equal(t, "", MediaConstraints.Extension("application/x-unknown"))
}

type zeros struct{}

func (zeros) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

type countingZeros struct {
	limit int64
	read  int64
}

func (c *countingZeros) Read(p []byte) (int, error) {
	if c.read >= c.limit {
		return 0, io.EOF
	}
	if rem := c.limit - c.read; int64(len(p)) > rem {
		p = p[:rem]
	}
	clear(p)
	c.read += int64(len(p))
	return len(p), nil
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
