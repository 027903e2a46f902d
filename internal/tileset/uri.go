package tileset

import (
	"net/url"
	"path"
	"strings"
)

// ResolveURI resolves ref against the URI of the document that referenced it. Query parameters of
// base that ref does not set itself are carried over, which keeps access tokens on every request.
func ResolveURI(base, ref string) (string, error) {
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if base == "" {
		return refURL.String(), nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	var resolved *url.URL
	if isRelativePath(baseURL) && isRelativePath(refURL) {
		// ResolveReference roots relative paths at "/", local datasets are often opened by a
		// relative path
		resolved = &url.URL{Path: path.Join(path.Dir(baseURL.Path), refURL.Path), RawQuery: refURL.RawQuery}
	} else {
		resolved = baseURL.ResolveReference(refURL)
	}

	if baseQuery := baseURL.Query(); len(baseQuery) > 0 {
		query := resolved.Query()
		for key, values := range baseQuery {
			if _, ok := query[key]; !ok {
				query[key] = values
			}
		}
		resolved.RawQuery = query.Encode()
	}
	return resolved.String(), nil
}

func isRelativePath(u *url.URL) bool {
	return u.Scheme == "" && u.Host == "" && u.Path != "" && !strings.HasPrefix(u.Path, "/")
}

// IsTilesetURI reports whether a content uri points at a nested tileset rather than geometry.
func IsTilesetURI(uri string) bool {
	p := uri
	if u, err := url.Parse(uri); err == nil {
		p = u.Path
	}
	return strings.EqualFold(path.Ext(p), ".json")
}
