package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/iago/media-compressor-back/internal/domain"
	"github.com/iago/media-compressor-back/internal/media"
)

var ErrNotConfigured = errors.New("cloudinary credentials are not configured")

// Uploader stores a compressed asset on the remote media host.
type Uploader interface {
	Upload(ctx context.Context, file io.Reader, name string, category media.Category) (domain.UploadResult, error)
}

type CloudinaryConfig struct {
	URL         string
	CloudName   string
	APIKey      string
	APISecret   string
	ImageFolder string
	VideoFolder string
	// Transformation is applied by the host on ingest. The default asks for
	// its automatic quality reduction.
	Transformation string
}

const DefaultTransformation = "q_auto:eco"

type CloudinaryUploader struct {
	client         *cloudinary.Cloudinary
	imageFolder    string
	videoFolder    string
	transformation string
}

func NewCloudinaryUploader(cfg CloudinaryConfig) (*CloudinaryUploader, error) {
	var (
		client *cloudinary.Cloudinary
		err    error
	)
	switch {
	case strings.TrimSpace(cfg.URL) != "":
		client, err = cloudinary.NewFromURL(cfg.URL)
	case cfg.CloudName != "" && cfg.APIKey != "" && cfg.APISecret != "":
		client, err = cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	default:
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("create cloudinary client: %w", err)
	}

	if cfg.ImageFolder == "" {
		cfg.ImageFolder = "compressed_gallery_images"
	}
	if cfg.VideoFolder == "" {
		cfg.VideoFolder = "compressed_gallery_videos"
	}
	if strings.TrimSpace(cfg.Transformation) == "" {
		cfg.Transformation = DefaultTransformation
	}
	return &CloudinaryUploader{
		client:         client,
		imageFolder:    cfg.ImageFolder,
		videoFolder:    cfg.VideoFolder,
		transformation: strings.TrimSpace(cfg.Transformation),
	}, nil
}

func (u *CloudinaryUploader) uploadParams(category media.Category) uploader.UploadParams {
	params := uploader.UploadParams{
		Folder:         u.imageFolder,
		ResourceType:   string(media.CategoryImage),
		Transformation: u.transformation,
	}
	if category == media.CategoryVideo {
		params.Folder = u.videoFolder
		params.ResourceType = string(media.CategoryVideo)
	}
	return params
}

func (u *CloudinaryUploader) Upload(
	ctx context.Context,
	file io.Reader,
	name string,
	category media.Category,
) (domain.UploadResult, error) {
	params := u.uploadParams(category)
	response, err := u.client.Upload.Upload(ctx, file, params)
	if err != nil {
		return domain.UploadResult{}, fmt.Errorf("cloudinary upload %s: %w", name, err)
	}
	if response == nil {
		return domain.UploadResult{}, errors.New("cloudinary upload: empty response")
	}
	if response.Error.Message != "" {
		return domain.UploadResult{}, fmt.Errorf("cloudinary upload %s: %s", name, response.Error.Message)
	}
	if response.SecureURL == "" {
		return domain.UploadResult{}, errors.New("cloudinary upload: response has no secure url")
	}

	return domain.UploadResult{
		URL:      response.SecureURL,
		PublicID: response.PublicID,
	}, nil
}
