// Package manifest renders the run state as a JSON tree that mirrors the
// download root.
package manifest

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"asset-harvester/internal/model"
	"asset-harvester/internal/runstore"
)

const (
	DefaultFileName = "manifest.json"

	NodeDir  = "dir"
	NodeFile = "file"
)

type Document struct {
	SchemaVersion int               `json:"schema_version"`
	GeneratedAt   time.Time         `json:"generated_at"`
	RunID         string            `json:"run_id"`
	Seeds         []string          `json:"seeds"`
	Summary       model.Counts      `json:"summary"`
	Tree          *Node             `json:"tree"`
	Unresolved    []string          `json:"unresolved,omitempty"`
	SeedErrors    []SeedErrorRecord `json:"seed_errors,omitempty"`
}

type SeedErrorRecord struct {
	Seed    string    `json:"seed"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Node is a directory or a file. File nodes carry one item's provenance.
type Node struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Path     string  `json:"path"`
	Files    int     `json:"files,omitempty"`
	Children []*Node `json:"children,omitempty"`

	ID        string       `json:"id,omitempty"`
	SourceRef string       `json:"source_ref,omitempty"`
	Status    model.Status `json:"status,omitempty"`
	SizeBytes int64        `json:"size_bytes,omitempty"`
	SHA256    string       `json:"sha256,omitempty"`
	Attempts  int          `json:"attempts,omitempty"`
	LastError string       `json:"last_error,omitempty"`
}

// Export builds the manifest document. It only reads state and its output
// depends on nothing but state and now.
func Export(state *model.RunState, now time.Time) Document {
	doc := Document{
		SchemaVersion: model.SchemaVersion,
		GeneratedAt:   now.UTC(),
		RunID:         state.RunID,
		Seeds:         slices.Clone(state.Seeds),
		Summary:       state.Counts(),
		Tree:          &Node{Name: "", Type: NodeDir, Path: ""},
	}
	if doc.Seeds == nil {
		doc.Seeds = []string{}
	}

	for _, id := range state.SortedIDs() {
		it := state.Items[id]
		file := &Node{
			Name:      path.Base(it.DestPath),
			Type:      NodeFile,
			Path:      it.DestPath,
			ID:        it.ID,
			SourceRef: it.SourceRef,
			Status:    it.Status,
			SizeBytes: it.SizeBytes,
			SHA256:    it.SHA256,
			Attempts:  it.Attempts,
		}
		if !model.IsTerminal(it.Status) {
			file.LastError = it.LastError
		}
		if it.Status == model.StatusFailed {
			doc.Unresolved = append(doc.Unresolved, it.DestPath)
		}
		insert(doc.Tree, file)
	}
	sortTree(doc.Tree)

	for seed, se := range state.SeedErrors {
		doc.SeedErrors = append(doc.SeedErrors, SeedErrorRecord{Seed: seed, Kind: se.Kind, Message: se.Message, At: se.At})
	}
	slices.SortFunc(doc.SeedErrors, func(a, b SeedErrorRecord) int { return cmp.Compare(a.Seed, b.Seed) })
	return doc
}

func insert(root *Node, file *Node) {
	parts := strings.Split(file.Path, "/")
	dir := root
	dir.Files++
	for i, name := range parts[:len(parts)-1] {
		var next *Node
		for _, c := range dir.Children {
			if c.Type == NodeDir && c.Name == name {
				next = c
				break
			}
		}
		if next == nil {
			next = &Node{Name: name, Type: NodeDir, Path: strings.Join(parts[:i+1], "/")}
			dir.Children = append(dir.Children, next)
		}
		next.Files++
		dir = next
	}
	dir.Children = append(dir.Children, file)
}

// sortTree orders directories before files, then by name and id.
func sortTree(n *Node) {
	slices.SortFunc(n.Children, func(a, b *Node) int {
		if a.Type != b.Type {
			if a.Type == NodeDir {
				return -1
			}
			return 1
		}
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	for _, c := range n.Children {
		if c.Type == NodeDir {
			sortTree(c)
		}
	}
}

// Files returns every file node in tree order.
func (d Document) Files() []*Node {
	var out []*Node
	var walk func(*Node)
	walk = func(n *Node) {
		for _, c := range n.Children {
			if c.Type == NodeFile {
				out = append(out, c)
				continue
			}
			walk(c)
		}
	}
	if d.Tree != nil {
		walk(d.Tree)
	}
	return out
}

func Write(file string, doc Document) error {
	if err := runstore.WriteJSON(file, doc); err != nil {
		return model.Wrap(model.ErrPersistence, file, err)
	}
	return nil
}

func Read(file string) (Document, error) {
	var doc Document
	if err := runstore.ReadJSON(file, &doc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Document{}, model.Wrap(model.ErrNotFound, file, err)
		}
		return Document{}, model.Wrap(model.ErrPersistence, file, err)
	}
	return doc, nil
}

type Mismatch struct {
	Path   string `json:"path"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// Verify cross-checks completed and skipped entries against the files under
// root.
func Verify(doc Document, root string) []Mismatch {
	var out []Mismatch
	for _, f := range doc.Files() {
		if !model.IsTerminal(f.Status) {
			continue
		}
		st, err := os.Stat(filepath.Join(root, filepath.FromSlash(f.Path)))
		switch {
		case err != nil:
			out = append(out, Mismatch{Path: f.Path, Status: string(f.Status), Detail: "missing on disk"})
		case f.SizeBytes > 0 && st.Size() != f.SizeBytes:
			out = append(out, Mismatch{Path: f.Path, Status: string(f.Status), Detail: fmt.Sprintf("size %d on disk, %d recorded", st.Size(), f.SizeBytes)})
		}
	}
	return out
}
