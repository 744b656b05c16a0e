package service

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"telehealth_chat/common/log"
)

var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".bmp": {}, ".webp": {},
}

// FileService writes uploads to local disk and thumbnails images. Stored
// names are generated, so uploads never collide or escape the upload root.
type FileService struct {
	rootDir string
	baseURL string
}

func NewFileService(rootDir, baseURL string) (*FileService, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &FileService{rootDir: rootDir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

type StoredFile struct {
	URL      string
	Name     string
	Size     int64
	IsImage  bool
	ThumbURL string
}

func (s *FileService) Save(conversationID string, header *multipart.FileHeader) (StoredFile, error) {
	src, err := header.Open()
	if err != nil {
		return StoredFile{}, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	storedName := uuid.NewString() + ext
	dir := filepath.Join(s.rootDir, conversationID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return StoredFile{}, fmt.Errorf("create conversation directory: %w", err)
	}
	path := filepath.Join(dir, storedName)

	dst, err := os.Create(path)
	if err != nil {
		return StoredFile{}, fmt.Errorf("create upload file: %w", err)
	}
	size, err := io.Copy(dst, src)
	closeErr := dst.Close()
	if err != nil {
		return StoredFile{}, fmt.Errorf("write upload: %w", err)
	}
	if closeErr != nil {
		return StoredFile{}, fmt.Errorf("close upload: %w", closeErr)
	}

	stored := StoredFile{
		URL:  s.baseURL + "/" + conversationID + "/" + storedName,
		Name: header.Filename,
		Size: size,
	}
	if _, ok := imageExtensions[ext]; ok {
		stored.IsImage = true
		if thumbName, err := s.makeThumbnail(path); err == nil {
			stored.ThumbURL = s.baseURL + "/" + conversationID + "/" + thumbName
		} else {
			log.Warnf("event=file_thumbnail status=failed file=%s error=%v", storedName, err)
		}
	}
	return stored, nil
}

func (s *FileService) makeThumbnail(path string) (string, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return "", err
	}
	thumb := imaging.Thumbnail(img, 320, 320, imaging.Lanczos)

	ext := filepath.Ext(path)
	thumbPath := strings.TrimSuffix(path, ext) + "_thumb.jpg"
	if err := imaging.Save(thumb, thumbPath); err != nil {
		return "", fmt.Errorf("save thumbnail: %w", err)
	}
	return filepath.Base(thumbPath), nil
}
