package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"asset-harvester/internal/model"
)

const (
	DriveDestPrefix   = "GoogleDrive"
	driveFolderMime   = "application/vnd.google-apps.folder"
	driveNativePrefix = "application/vnd.google-apps."
)

// NewDriveService builds a read-only Drive client from a service account or
// OAuth client credentials file.
func NewDriveService(ctx context.Context, credentialsPath string) (*drive.Service, error) {
	credentialsPath = strings.TrimSpace(credentialsPath)
	if credentialsPath == "" {
		return nil, model.Wrap(model.ErrCredential, "gdrive", errors.New("no credentials file configured"))
	}
	if _, err := os.Stat(credentialsPath); err != nil {
		return nil, model.Wrap(model.ErrCredential, credentialsPath, err)
	}
	srv, err := drive.NewService(ctx,
		option.WithCredentialsFile(credentialsPath),
		option.WithScopes(drive.DriveReadonlyScope),
	)
	if err != nil {
		return nil, model.Wrap(model.ErrCredential, credentialsPath, err)
	}
	return srv, nil
}

type DriveLister struct {
	Service *drive.Service
	Logger  zerolog.Logger
}

func (l *DriveLister) List(ctx context.Context, folderID string, fn func(Object) error) error {
	return l.walk(ctx, folderID, "", fn)
}

func (l *DriveLister) walk(ctx context.Context, folderID, rel string, fn func(Object) error) error {
	// Drive allows siblings with the same name; later ones are numbered in
	// creation order.
	taken := make(map[string]int)
	pageToken := ""
	for {
		call := l.Service.Files.List().
			Q(fmt.Sprintf("'%s' in parents and trashed = false", folderID)).
			Fields("nextPageToken, files(id, name, mimeType, size)").
			OrderBy("name,createdTime").
			PageSize(1000).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		res, err := call.Do()
		if err != nil {
			return classifyDriveError(folderID, err)
		}

		for _, f := range res.Files {
			name := strings.ReplaceAll(f.Name, "/", "_")
			taken[name]++
			if n := taken[name]; n > 1 {
				name = model.NumberedName(name, n)
			}
			p := path.Join(rel, name)
			switch {
			case f.MimeType == driveFolderMime:
				if err := l.walk(ctx, f.Id, p, fn); err != nil {
					return err
				}
			case strings.HasPrefix(f.MimeType, driveNativePrefix):
				l.Logger.Info().Str("file", p).Str("mime", f.MimeType).Msg("skipping google-native document")
			default:
				if err := fn(Object{Ref: model.DriveRefPrefix + f.Id, RelPath: p, Size: f.Size}); err != nil {
					return err
				}
			}
		}

		if res.NextPageToken == "" {
			return nil
		}
		pageToken = res.NextPageToken
	}
}

func classifyDriveError(ref string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case 401, 403:
			return model.Wrap(model.ErrCredential, ref, err)
		case 404:
			return model.Wrap(model.ErrDiscovery, ref, fmt.Errorf("folder not found or not shared: %w", err))
		}
	}
	return model.Wrap(model.ErrDiscovery, ref, err)
}
