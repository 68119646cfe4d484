package upload

import (
	"fmt"
	"path/filepath"
	"strings"

	"secretaria/internal/models"
)

// MaxFileBytes is the largest attachment accepted.
const MaxFileBytes int64 = 20 << 20

var allowedExtensions = map[string]models.FileKind{
	".pdf":  models.FileKindDocument,
	".docx": models.FileKindDocument,
	".xlsx": models.FileKindDocument,
	".txt":  models.FileKindDocument,
	".jpg":  models.FileKindImage,
	".jpeg": models.FileKindImage,
	".png":  models.FileKindImage,
	".webp": models.FileKindImage,
}

// ValidationError rejects a file before any network traffic.
type ValidationError struct {
	Filename string
	Message  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Filename, e.Message)
}

// LocalFile is the picked file as known before upload.
type LocalFile struct {
	Name string
	Size int64
	Kind models.FileKind
}

// Validate checks extension and size and classifies the file.
func Validate(name string, size int64) (LocalFile, error) {
	ext := strings.ToLower(filepath.Ext(name))
	kind, ok := allowedExtensions[ext]
	if !ok {
		return LocalFile{}, &ValidationError{Filename: name, Message: fmt.Sprintf("file type %q is not allowed (pdf, docx, xlsx, txt, jpg, jpeg, png, webp)", ext)}
	}
	if size > MaxFileBytes {
		return LocalFile{}, &ValidationError{Filename: name, Message: fmt.Sprintf("file is larger than %d MB", MaxFileBytes>>20)}
	}
	if size < 0 {
		return LocalFile{}, &ValidationError{Filename: name, Message: "invalid file size"}
	}
	return LocalFile{Name: name, Size: size, Kind: kind}, nil
}

// KindOf returns the attachment kind for an allowed filename.
func KindOf(name string) (models.FileKind, bool) {
	kind, ok := allowedExtensions[strings.ToLower(filepath.Ext(name))]
	return kind, ok
}
