package docstore

import (
	"fmt"
	"strings"
)

// Ref addresses one document as an alternating collection/id path, e.g.
// "users/u1/rounds/r1". The zero Ref is the database root.
type Ref struct {
	path string
}

// Doc returns the top-level document id in collection.
func Doc(collection, id string) Ref {
	return Ref{}.Doc(collection, id)
}

// Doc returns the child document id in the sub-collection of r. It panics on
// an empty segment or a segment containing '/', which is always a caller bug:
// ids reaching this point have been validated.
func (r Ref) Doc(collection, id string) Ref {
	mustSegment(collection)
	mustSegment(id)
	if r.path == "" {
		return Ref{path: collection + "/" + id}
	}
	return Ref{path: r.path + "/" + collection + "/" + id}
}

// ParseRef parses a document path.
func ParseRef(path string) (Ref, error) {
	segments := strings.Split(path, "/")
	if path == "" || len(segments)%2 != 0 {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, path)
	}
	for _, segment := range segments {
		if segment == "" {
			return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, path)
		}
	}
	return Ref{path: path}, nil
}

// ValidID reports whether id can be used as a path segment.
func ValidID(id string) bool {
	return id != "" && !strings.Contains(id, "/")
}

func (r Ref) Path() string   { return r.path }
func (r Ref) String() string { return r.path }
func (r Ref) IsZero() bool   { return r.path == "" }

// ID is the last path segment.
func (r Ref) ID() string {
	if r.path == "" {
		return ""
	}
	return r.path[strings.LastIndex(r.path, "/")+1:]
}

// Collection is the path of the collection holding r, e.g.
// "users/u1/rounds" for "users/u1/rounds/r1".
func (r Ref) Collection() string {
	if r.path == "" {
		return ""
	}
	return r.path[:strings.LastIndex(r.path, "/")]
}

// CollectionName is the last segment of Collection.
func (r Ref) CollectionName() string {
	collection := r.Collection()
	return collection[strings.LastIndex(collection, "/")+1:]
}

// Parent returns the document owning the collection r lives in, or the zero
// Ref for top-level documents.
func (r Ref) Parent() Ref {
	collection := r.Collection()
	idx := strings.LastIndex(collection, "/")
	if idx < 0 {
		return Ref{}
	}
	return Ref{path: collection[:idx]}
}

// Depth counts documents along the path: "users/u1" is 1.
func (r Ref) Depth() int {
	if r.path == "" {
		return 0
	}
	return (strings.Count(r.path, "/") + 1) / 2
}

// CollectionPath returns the path of a sub-collection of r.
func (r Ref) CollectionPath(collection string) string {
	mustSegment(collection)
	if r.path == "" {
		return collection
	}
	return r.path + "/" + collection
}

// IsAncestorOf reports whether other lives somewhere below r.
func (r Ref) IsAncestorOf(other Ref) bool {
	if r.path == "" {
		return other.path != ""
	}
	return strings.HasPrefix(other.path, r.path+"/")
}

func mustSegment(segment string) {
	if !ValidID(segment) {
		panic(fmt.Sprintf("docstore: invalid path segment %q", segment))
	}
}
