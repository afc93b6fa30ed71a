package media

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// Resolver turns opaque stored media references into URLs the platform
// adapters can hand to (or fetch for) the target API. A reference is either
// already a URL, which passes through, or an object-store key served from
// the public base URL. Presigning happens in the upload service; by the
// time a reference reaches the pipeline the base URL form is fetchable.
type Resolver struct {
	baseURL string
}

func NewResolver(baseURL string) *Resolver {
	return &Resolver{baseURL: strings.TrimRight(baseURL, "/")}
}

func (r *Resolver) Resolve(ref string) (string, error) {
	if ref == "" {
		return "", errors.New("empty media reference")
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}
	if r.baseURL == "" {
		return "", errors.Errorf("media reference %q needs an object-store base URL", ref)
	}
	parts := strings.Split(strings.TrimLeft(ref, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return fmt.Sprintf("%s/%s", r.baseURL, strings.Join(parts, "/")), nil
}

// ResolveAll preserves the user's media ordering.
func (r *Resolver) ResolveAll(refs []string) ([]string, error) {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		u, err := r.Resolve(ref)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}
