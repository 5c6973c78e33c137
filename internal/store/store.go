// ============================================================================
// Content Store
// ============================================================================
//
// Package: internal/store
// File: store.go
// Purpose: Content-addressed object store used by the claim engine.
//
// Objects:
//   - Node: a DAG node of named links plus inline string fields, encoded as
//     dag-cbor (links are CBOR tag 42).
//   - File: an opaque byte blob addressed by a raw-codec CID.
//
// Implementations:
//   - Local: in-process blockstore over go-datastore (map or badger).
//   - HTTP: a Kubo-compatible RPC endpoint, shared with the executor and prober.
//
// Errors:
//   All failures wrap types.ErrStore; missing objects and links wrap
//   types.ErrNotFound. Operations are never retried here.
//
// ============================================================================

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ChuLiYu/claim-engine/pkg/types"
)

// ContentStore is the content-addressed store the engine builds and reads claims from.
type ContentStore interface {
	// Put stores (and pins) node, returning its content identifier.
	Put(ctx context.Context, node *Node) (types.ContentID, error)

	// Get fetches the DAG node addressed by id.
	Get(ctx context.Context, id types.ContentID) (*Node, error)

	// Resolve walks path (e.g. "/prev/gov/app.img") from id through named links.
	// An empty path confirms id exists and returns it.
	Resolve(ctx context.Context, id types.ContentID, path string) (types.ContentID, error)

	// PutFile stores a raw file artifact.
	PutFile(ctx context.Context, data []byte) (types.ContentID, error)

	// GetFile fetches a raw file artifact.
	GetFile(ctx context.Context, id types.ContentID) ([]byte, error)
}

// Link is a named reference to another object.
type Link struct {
	Name string
	CID  types.ContentID
}

// Node is an ordered set of named links plus optional inline scalar fields.
type Node struct {
	Links  []Link
	Fields map[string]string
}

// NewNode returns an empty node.
func NewNode() *Node {
	return &Node{Fields: make(map[string]string)}
}

// AddLink appends a named link and returns n for chaining.
func (n *Node) AddLink(name string, id types.ContentID) *Node {
	n.Links = append(n.Links, Link{Name: name, CID: id})
	return n
}

// SetField sets an inline scalar field and returns n for chaining.
func (n *Node) SetField(name, value string) *Node {
	if n.Fields == nil {
		n.Fields = make(map[string]string)
	}
	n.Fields[name] = value
	return n
}

// Link returns the target of the link called name.
func (n *Node) Link(name string) (types.ContentID, bool) {
	for _, l := range n.Links {
		if l.Name == name {
			return l.CID, true
		}
	}
	return "", false
}

// Field returns the inline field called name.
func (n *Node) Field(name string) (string, bool) {
	v, ok := n.Fields[name]
	return v, ok
}

func (n *Node) validate() error {
	seen := make(map[string]bool, len(n.Links)+len(n.Fields))
	for _, l := range n.Links {
		if l.Name == "" || strings.Contains(l.Name, "/") {
			return fmt.Errorf("invalid link name %q", l.Name)
		}
		if seen[l.Name] {
			return fmt.Errorf("duplicate entry %q", l.Name)
		}
		seen[l.Name] = true
	}
	for name := range n.Fields {
		if seen[name] {
			return fmt.Errorf("duplicate entry %q", name)
		}
		seen[name] = true
	}
	return nil
}

// sortLinks orders links by name; decoded nodes come back in this order.
func sortLinks(links []Link) {
	sort.Slice(links, func(i, j int) bool { return links[i].Name < links[j].Name })
}

// SplitRef splits "<cid>/a/b" into the root identifier and the remaining path.
func SplitRef(ref string) (types.ContentID, string, error) {
	ref = strings.TrimPrefix(ref, "/ipfs/")
	ref = strings.TrimPrefix(ref, "/")
	root, rest, _ := strings.Cut(ref, "/")
	id, err := types.ParseContentID(root)
	if err != nil {
		return "", "", err
	}
	if rest != "" {
		rest = "/" + rest
	}
	return id, rest, nil
}

// ResolveRef resolves a "<cid>[/path]" reference against s.
func ResolveRef(ctx context.Context, s ContentStore, ref string) (types.ContentID, error) {
	id, path, err := SplitRef(ref)
	if err != nil {
		return "", err
	}
	return s.Resolve(ctx, id, path)
}

func splitPath(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}
