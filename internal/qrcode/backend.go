package qrcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"campusattend/internal/cloudinary"
	"campusattend/internal/config"
)

// BackendFromConfig stores images on Cloudinary when it is configured and under
// the media directory otherwise.
func BackendFromConfig(cfg config.App) Backend {
	if cfg.CloudinaryEnabled() {
		return NewCloudinaryStore(cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder))
	}
	return NewFileStore(cfg.MediaDir)
}

const fileSubdir = "qr_codes"

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// FileStore keeps images under a media directory. References are paths relative to it.
type FileStore struct {
	root string
}

// NewFileStore returns a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: dir}
}

func (f *FileStore) Put(_ context.Context, name string, png []byte) (string, error) {
	name = unsafeName.ReplaceAllString(name, "_")
	if name == "" {
		return "", errors.New("empty file name")
	}
	if err := os.MkdirAll(filepath.Join(f.root, fileSubdir), 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	ref := fileSubdir + "/" + name + ".png"
	if err := os.WriteFile(filepath.Join(f.root, filepath.FromSlash(ref)), png, 0o644); err != nil {
		return "", fmt.Errorf("write qr file: %w", err)
	}
	return ref, nil
}

func (f *FileStore) Get(_ context.Context, ref string) ([]byte, error) {
	clean := filepath.Clean(filepath.FromSlash(ref))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return nil, fmt.Errorf("invalid media reference %q", ref)
	}
	return os.ReadFile(filepath.Join(f.root, clean))
}

// CloudinaryStore uploads images to Cloudinary. References are the secure URLs.
type CloudinaryStore struct {
	client *cloudinary.Client
}

// NewCloudinaryStore wraps a configured client.
func NewCloudinaryStore(c *cloudinary.Client) *CloudinaryStore {
	return &CloudinaryStore{client: c}
}

func (c *CloudinaryStore) Put(ctx context.Context, name string, png []byte) (string, error) {
	res, err := c.client.UploadBytes(ctx, png, unsafeName.ReplaceAllString(name, "_"))
	if err != nil {
		return "", err
	}
	return res.SecureURL, nil
}

func (c *CloudinaryStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if !strings.HasPrefix(ref, "https://") && !strings.HasPrefix(ref, "http://") {
		return nil, fmt.Errorf("not a cloudinary reference %q", ref)
	}
	return c.client.Fetch(ctx, ref)
}
