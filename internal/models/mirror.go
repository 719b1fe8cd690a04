package models

import (
	"fmt"
	"net/url"
	"strings"
)

// Mirror is a named download location. Template is expanded per request:
// "{url}" becomes the canonical URL and "{path}" its path component.
type Mirror struct {
	Name     string
	Template string
}

// Resolve returns the URL to fetch canonical from this mirror.
func (m Mirror) Resolve(canonical string) (string, error) {
	u, err := url.Parse(canonical)
	if err != nil {
		return "", fmt.Errorf("models: parse %q: %w", canonical, err)
	}
	p := u.EscapedPath()
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	r := strings.NewReplacer("{url}", canonical, "{path}", p)
	return r.Replace(m.Template), nil
}
