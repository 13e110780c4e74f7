package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrContentMismatch = errors.New("file content does not match its extension")
)

type Category string

const (
	CategoryImage    Category = "image"
	CategoryVideo    Category = "video"
	CategoryRejected Category = "rejected"
)

var allowedExtensions = map[string]Category{
	"jpg":  CategoryImage,
	"jpeg": CategoryImage,
	"png":  CategoryImage,
	"gif":  CategoryImage,
	"webp": CategoryImage,
	"mp4":  CategoryVideo,
	"mov":  CategoryVideo,
	"avi":  CategoryVideo,
	"mkv":  CategoryVideo,
}

type signature struct {
	name       string
	offset     int
	magic      []byte
	categories []Category
}

// RIFF wraps both WEBP and AVI; the claimed category decides which one it is.
var signatures = []signature{
	{name: "jpeg", magic: []byte{0xFF, 0xD8, 0xFF}, categories: []Category{CategoryImage}},
	{name: "png", magic: []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, categories: []Category{CategoryImage}},
	{name: "gif87a", magic: []byte("GIF87a"), categories: []Category{CategoryImage}},
	{name: "gif89a", magic: []byte("GIF89a"), categories: []Category{CategoryImage}},
	{name: "riff", magic: []byte("RIFF"), categories: []Category{CategoryImage, CategoryVideo}},
	{name: "isobmff", offset: 4, magic: []byte("ftyp"), categories: []Category{CategoryVideo}},
	{name: "ebml", magic: []byte{0x1A, 0x45, 0xDF, 0xA3}, categories: []Category{CategoryVideo}},
}

const sniffLength = 16

// Extension returns the normalized extension of name without the leading dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(strings.TrimSpace(name)), "."))
}

// ClaimedCategory maps a file name to the category its extension claims.
func ClaimedCategory(name string) Category {
	category, ok := allowedExtensions[Extension(name)]
	if !ok {
		return CategoryRejected
	}
	return category
}

// Classify decides whether r holds an image or a video, cross-checking the
// name's extension against known file signatures. The read offset of r is
// restored before returning.
func Classify(r io.ReadSeeker, name string) (Category, error) {
	claimed := ClaimedCategory(name)
	if claimed == CategoryRejected {
		return CategoryRejected, ErrUnsupportedType
	}

	head, err := peek(r, sniffLength)
	if err != nil {
		return CategoryRejected, fmt.Errorf("inspect file header: %w", err)
	}

	for _, sig := range signatures {
		if !sig.matches(head) {
			continue
		}
		if !containsCategory(sig.categories, claimed) {
			return CategoryRejected, fmt.Errorf("%w: %s header on .%s file", ErrContentMismatch, sig.name, Extension(name))
		}
		return claimed, nil
	}

	// Not every valid container has a table entry.
	return claimed, nil
}

func (s signature) matches(head []byte) bool {
	end := s.offset + len(s.magic)
	if len(head) < end {
		return false
	}
	return bytes.Equal(head[s.offset:end], s.magic)
}

func peek(r io.ReadSeeker, n int) ([]byte, error) {
	origin, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, n)
	read, readErr := io.ReadFull(r, buf)
	if _, err := r.Seek(origin, io.SeekStart); err != nil {
		return nil, err
	}
	if readErr != nil && !errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrUnexpectedEOF) {
		return nil, readErr
	}
	return buf[:read], nil
}

func containsCategory(values []Category, target Category) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
