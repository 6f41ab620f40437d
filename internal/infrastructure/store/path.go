// Package store holds the pieces shared by the directory store backends.
package store

import (
	"fmt"
	"strings"

	"voxlobby/internal/core/domain"
)

// Path is a parsed directory path. Depth is 1 (collection), 2 (document) or
// 3 (single field).
type Path struct {
	Collection string
	Doc        string
	Field      string
}

func (p Path) Depth() int {
	switch {
	case p.Field != "":
		return 3
	case p.Doc != "":
		return 2
	default:
		return 1
	}
}

// Parse splits a slash path into its components. Empty segments and paths
// deeper than one field are rejected with ErrPathInvalid.
func Parse(path string) (Path, error) {
	segs := strings.Split(path, "/")
	if len(segs) == 0 || len(segs) > 3 {
		return Path{}, fmt.Errorf("%w: %q", domain.ErrPathInvalid, path)
	}
	for _, s := range segs {
		if s == "" {
			return Path{}, fmt.Errorf("%w: %q", domain.ErrPathInvalid, path)
		}
	}
	p := Path{Collection: segs[0]}
	if len(segs) > 1 {
		p.Doc = segs[1]
	}
	if len(segs) > 2 {
		p.Field = segs[2]
	}
	return p, nil
}
