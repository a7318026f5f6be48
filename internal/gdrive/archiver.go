package gdrive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/sjawhar/ghost-capture/internal/audio"
)

// Archiver copies saved segment audio into a Drive folder. Re-uploading a
// name already sent in this process replaces the existing file.
type Archiver struct {
	service  *drive.Service
	folderID string
	fileIDs  map[string]string
	mu       sync.Mutex
}

func NewArchiver(ctx context.Context, credPath, folderID string) (*Archiver, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	return NewArchiverWithOptions(ctx, folderID, option.WithCredentials(config))
}

// NewArchiverWithOptions builds an Archiver from explicit client options.
func NewArchiverWithOptions(ctx context.Context, folderID string, opts ...option.ClientOption) (*Archiver, error) {
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return &Archiver{
		service:  svc,
		folderID: folderID,
		fileIDs:  make(map[string]string),
	}, nil
}

func (a *Archiver) Upload(ctx context.Context, localPath, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	if fileID, ok := a.fileIDs[name]; ok {
		_, err = a.service.Files.Update(fileID, &drive.File{}).Media(f).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("drive update: %w", err)
		}
		return nil
	}

	mime, _, _ := strings.Cut(audio.LabelForExtension(filepath.Ext(localPath)), ";")
	file, err := a.service.Files.Create(&drive.File{
		Name:     name,
		MimeType: mime,
		Parents:  []string{a.folderID},
	}).Media(f).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("drive create: %w", err)
	}

	a.fileIDs[name] = file.Id
	return nil
}
