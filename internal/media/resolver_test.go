package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	r := NewResolver("https://cdn.example.com/media/")

	tests := []struct {
		name string
		ref  string
		want string
	}{
		{"url passes through", "https://elsewhere.example.com/a.jpg", "https://elsewhere.example.com/a.jpg"},
		{"plain http passes through", "http://elsewhere.example.com/a.jpg", "http://elsewhere.example.com/a.jpg"},
		{"key joins base", "uploads/a.jpg", "https://cdn.example.com/media/uploads/a.jpg"},
		{"leading slash trimmed", "/uploads/a.jpg", "https://cdn.example.com/media/uploads/a.jpg"},
		{"spaces escaped", "my file.jpg", "https://cdn.example.com/media/my%20file.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveErrors(t *testing.T) {
	r := NewResolver("")
	_, err := r.Resolve("")
	assert.Error(t, err)
	_, err = r.Resolve("uploads/a.jpg")
	assert.Error(t, err)
}

func TestResolveAllKeepsOrder(t *testing.T) {
	r := NewResolver("https://cdn.example.com")
	got, err := r.ResolveAll([]string{"b.jpg", "a.jpg"})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.example.com/b.jpg", "https://cdn.example.com/a.jpg"}, got)
}
