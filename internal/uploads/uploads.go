package uploads

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"path"
	"regexp"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	_ "golang.org/x/image/webp"

	types "github.com/yungbote/talkinghead-backend/internal/domain"
	"github.com/yungbote/talkinghead-backend/internal/platform/dbctx"
	"github.com/yungbote/talkinghead-backend/internal/platform/gcp"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
)

type Kind string

const (
	KindImage Kind = "image"
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

const mb = int64(1 << 20)

// Rule is the allow-list for one kind of asset.
type Rule struct {
	Types    []string
	MaxBytes int64
}

var DefaultRules = map[Kind]Rule{
	KindImage: {Types: []string{"image/png", "image/jpeg", "image/webp"}, MaxBytes: 10 * mb},
	KindAudio: {Types: []string{"audio/mpeg", "audio/wav", "audio/ogg", "audio/mp4"}, MaxBytes: 10 * mb},
	KindVideo: {Types: []string{"video/mp4", "video/webm", "video/quicktime"}, MaxBytes: 500 * mb},
}

func (r Rule) allows(m *mimetype.MIME) (string, bool) {
	for _, t := range r.Types {
		if m.Is(t) {
			return t, true
		}
	}
	return "", false
}

type Result struct {
	URL         string `json:"url"`
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

type Request struct {
	UserID uuid.UUID
	Folder string
	Kind   Kind
	Body   io.Reader
}

type Uploader interface {
	Upload(ctx context.Context, req Request) (*Result, error)
}

type uploader struct {
	log    *logger.Logger
	bucket gcp.BucketService
	rules  map[Kind]Rule
}

func New(log *logger.Logger, bucket gcp.BucketService) Uploader {
	return NewWithRules(log, bucket, DefaultRules)
}

func NewWithRules(log *logger.Logger, bucket gcp.BucketService, rules map[Kind]Rule) Uploader {
	return &uploader{log: log.With("service", "Uploader"), bucket: bucket, rules: rules}
}

var folderRE = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Upload validates the asset against its kind's allow-list and stores it at
// <folder>/<user>/<uuid>.<ext> in the upload bucket.
func (u *uploader) Upload(ctx context.Context, req Request) (*Result, error) {
	rule, ok := u.rules[req.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown upload kind %q: %w", req.Kind, types.ErrInvalidArgument)
	}
	folder := strings.ToLower(strings.TrimSpace(req.Folder))
	if folder == "" {
		folder = string(req.Kind) + "s"
	}
	if !folderRE.MatchString(folder) {
		return nil, fmt.Errorf("invalid folder %q: %w", req.Folder, types.ErrInvalidArgument)
	}
	if req.Body == nil {
		return nil, fmt.Errorf("missing file: %w", types.ErrInvalidArgument)
	}

	// one byte past the limit is enough to reject
	raw, err := io.ReadAll(io.LimitReader(req.Body, rule.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty file: %w", types.ErrInvalidArgument)
	}
	if int64(len(raw)) > rule.MaxBytes {
		return nil, fmt.Errorf("file exceeds %d MB limit for %s: %w", rule.MaxBytes/mb, req.Kind, types.ErrInvalidArgument)
	}

	detected := mimetype.Detect(raw)
	contentType, ok := rule.allows(detected)
	if !ok {
		return nil, fmt.Errorf("file type %s is not allowed for %s: %w", detected.String(), req.Kind, types.ErrInvalidArgument)
	}

	res := &Result{ContentType: contentType, Size: int64(len(raw))}
	if req.Kind == KindImage {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("unreadable image: %w", types.ErrInvalidArgument)
		}
		res.Width, res.Height = cfg.Width, cfg.Height
	}

	res.Key = path.Join(folder, req.UserID.String(), uuid.New().String()+extension(detected))
	if err := u.bucket.UploadFile(dbctx.Context{Ctx: ctx}, gcp.BucketCategoryUpload, res.Key, bytes.NewReader(raw), contentType); err != nil {
		u.log.Error("Upload to bucket failed", "key", res.Key, "error", err)
		return nil, fmt.Errorf("store upload: %w", err)
	}
	res.URL = u.bucket.GetPublicURL(gcp.BucketCategoryUpload, res.Key)
	u.log.Debug("Stored upload", "key", res.Key, "content_type", contentType, "size", res.Size)
	return res, nil
}

func extension(m *mimetype.MIME) string {
	if ext := m.Extension(); ext != "" {
		return ext
	}
	return ".bin"
}
