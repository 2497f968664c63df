package discovery

import (
	"context"
	"fmt"
	"path"
	"strings"

	"asset-harvester/internal/model"
)

// Object is one file found in a cloud folder. RelPath is relative to the
// listed folder and uses "/" separators.
type Object struct {
	Ref     string
	RelPath string
	Size    int64
}

// FolderLister enumerates a cloud folder recursively. Credentials belong to
// the lister; auth failures must wrap model.ErrCredential.
type FolderLister interface {
	List(ctx context.Context, folderRef string, fn func(Object) error) error
}

// CloudStrategy maps a listed folder hierarchy onto
// <Prefix>/<folder key>/<relative path>.
type CloudStrategy struct {
	Lister FolderLister
	Kind   model.Kind
	Prefix string
}

func (c *CloudStrategy) Discover(ctx context.Context, seed Seed, emit func(model.Item) error) error {
	if c.Lister == nil {
		return model.Wrap(model.ErrCredential, seed.Raw, fmt.Errorf("no %s credentials configured", c.Kind))
	}
	folderKey := strings.TrimPrefix(seed.FolderRef, model.S3RefPrefix)
	root := path.Join(c.Prefix, folderKey)
	return c.Lister.List(ctx, seed.FolderRef, func(obj Object) error {
		dest := model.SanitizeDestPath(path.Join(root, obj.RelPath))
		return emit(model.Item{
			ID:           model.ItemID(obj.Ref, dest),
			SourceRef:    obj.Ref,
			DestPath:     dest,
			Seed:         seed.Raw,
			Kind:         c.Kind,
			ExpectedSize: obj.Size,
		})
	})
}
