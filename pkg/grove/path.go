package grove

import (
	"encoding/hex"
	"strings"
)

// maxSegmentLength keeps realm prefixes unambiguous: the length byte of a
// path segment must never collide with the node and meta key prefixes used
// inside a subtree realm.
const maxSegmentLength = 64

// Path addresses a subtree in the hierarchy. The empty path is the root
// subtree.
type Path [][]byte

// RootPath addresses the root subtree.
var RootPath = Path{}

// Child returns the path extended with one segment.
func (p Path) Child(segment []byte) Path {
	child := make(Path, 0, len(p)+1)
	child = append(child, p...)
	child = append(child, segment)

	return child
}

// Parent returns the enclosing path and the last segment.
func (p Path) Parent() (Path, []byte) {
	if len(p) == 0 {
		return nil, nil
	}

	return p[:len(p)-1], p[len(p)-1]
}

// realm returns the unique, prefix-free storage prefix of the subtree.
func (p Path) realm() ([]byte, error) {
	size := 0
	for _, segment := range p {
		size += 1 + len(segment)
	}

	realm := make([]byte, 0, size)
	for _, segment := range p {
		if len(segment) == 0 || len(segment) > maxSegmentLength {
			return nil, ErrPathSegmentTooLong
		}
		realm = append(realm, byte(len(segment)))
		realm = append(realm, segment...)
	}

	return realm, nil
}

func (p Path) key() string {
	var sb strings.Builder
	for _, segment := range p {
		sb.WriteByte(byte(len(segment)))
		sb.Write(segment)
	}

	return sb.String()
}

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, segment := range p {
		parts[i] = hex.EncodeToString(segment)
	}

	return "/" + strings.Join(parts, "/")
}
