package compiler

import (
	"mime"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Artifact is one emitted file.
type Artifact struct {
	Path        string // slash-separated, relative to the output directory
	Contents    []byte
	ContentType string
	ETag        string
}

// ArtifactSet is the immutable result of a successful compile.
type ArtifactSet struct {
	Hash     string
	Warnings []Message
	files    map[string]Artifact
}

// NewArtifactSet indexes files by path and computes content hashes.
func NewArtifactSet(files []Artifact, warnings []Message) *ArtifactSet {
	set := &ArtifactSet{
		Warnings: warnings,
		files:    make(map[string]Artifact, len(files)),
	}
	for _, f := range files {
		f.Path = strings.TrimPrefix(path.Clean("/"+f.Path), "/")
		if f.ContentType == "" {
			f.ContentType = contentType(f.Path)
		}
		f.ETag = `"` + strconv.FormatUint(xxhash.Sum64(f.Contents), 16) + `"`
		set.files[f.Path] = f
	}

	digest := xxhash.New()
	for _, p := range set.Paths() {
		_, _ = digest.WriteString(p)
		_, _ = digest.WriteString(set.files[p].ETag)
	}
	set.Hash = strconv.FormatUint(digest.Sum64(), 16)
	return set
}

// Get returns the artifact stored at the relative path p.
func (s *ArtifactSet) Get(p string) (Artifact, bool) {
	if s == nil {
		return Artifact{}, false
	}
	a, ok := s.files[strings.TrimPrefix(path.Clean("/"+p), "/")]
	return a, ok
}

// Lookup maps a request path under publicPath to an artifact. The public root
// maps to index.html.
func (s *ArtifactSet) Lookup(publicPath, urlPath string) (Artifact, bool) {
	if publicPath == "" {
		publicPath = "/"
	}
	if !strings.HasPrefix(urlPath, publicPath) {
		return Artifact{}, false
	}
	rel := strings.TrimPrefix(urlPath, publicPath)
	if rel == "" || strings.HasSuffix(rel, "/") {
		rel += "index.html"
	}
	return s.Get(rel)
}

// Paths lists every artifact path in sorted order.
func (s *ArtifactSet) Paths() []string {
	if s == nil {
		return nil
	}
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// Len is the number of artifacts.
func (s *ArtifactSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.files)
}

func contentType(p string) string {
	switch ext := path.Ext(p); ext {
	case ".map":
		return "application/json"
	case ".js":
		return "text/javascript; charset=utf-8"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}
