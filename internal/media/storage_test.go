package media

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "Simple", in: "exams/2024/03/x/a.pdf", want: "exams/2024/03/x/a.pdf"},
		{name: "Backslashes", in: `profile_photos\u1.png`, want: "profile_photos/u1.png"},
		{name: "Dot segments", in: "exams/./2024/../2024/a.pdf", want: "exams/2024/a.pdf"},
		{name: "Empty", in: "", wantErr: true},
		{name: "Absolute", in: "/etc/passwd", wantErr: true},
		{name: "Escape", in: "../secret", wantErr: true},
		{name: "Nested escape", in: "exams/../../secret", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Clean(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStorageLifecycle(t *testing.T) {
	s := NewMemory()
	p := "exams/2024/03/e1/Laudo Rex SRD Maria Hemograma 05.03.2024.pdf"

	n, err := s.Save(p, strings.NewReader("%PDF-1.4 content"))
	require.NoError(t, err)
	assert.Equal(t, int64(16), n)
	assert.True(t, s.Exists(p))

	f, err := s.Open(p)
	require.NoError(t, err)
	body, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, "%PDF-1.4 content", string(body))

	require.NoError(t, s.Remove(p))
	assert.False(t, s.Exists(p))
	require.NoError(t, s.Remove(p), "removing twice is fine")

	_, err = s.Open(p)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorageOverwrite(t *testing.T) {
	s := NewMemory()
	_, err := s.Save("profile_photos/u1.png", strings.NewReader("first version"))
	require.NoError(t, err)
	_, err = s.Save("profile_photos/u1.png", strings.NewReader("v2"))
	require.NoError(t, err)

	f, err := s.Open("profile_photos/u1.png")
	require.NoError(t, err)
	defer f.Close()
	body, _ := io.ReadAll(f)
	assert.Equal(t, "v2", string(body))
}

func TestNewOS(t *testing.T) {
	dir := t.TempDir()
	s, err := NewOS(dir)
	require.NoError(t, err)

	_, err = s.Save("exams/a.pdf", strings.NewReader("x"))
	require.NoError(t, err)
	assert.FileExists(t, dir+"/exams/a.pdf")

	_, err = NewOS("")
	assert.Error(t, err)
}
