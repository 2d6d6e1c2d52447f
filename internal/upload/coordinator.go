// Package upload gets model and toolpath files into object storage, either
// streamed through the service or uploaded directly by the client under a
// signed policy.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/YelzhanWeb/printforge/internal/adapter/logger"
	"github.com/YelzhanWeb/printforge/internal/domain"
	"github.com/YelzhanWeb/printforge/internal/interfaces"
	"github.com/YelzhanWeb/printforge/internal/metrics"
)

var (
	ModelExtensions    = []string{"stl", "obj", "3mf", "step", "stp"}
	ToolpathExtensions = []string{"gcode"}
)

var ErrTooLarge = errors.New("upload exceeds size limit")

type Config struct {
	ModelFolder   string
	GcodeFolder   string
	MaxModelBytes int64
	MaxGcodeBytes int64
	SignTTL       time.Duration
}

// StoredFile is a file that is durably in storage and safe to reference.
type StoredFile struct {
	Key      string
	URL      string
	FileName string
	FileType string
	Size     int64
}

type Coordinator struct {
	store  interfaces.ObjectStore
	cfg    Config
	logger logger.Logger
}

func NewCoordinator(store interfaces.ObjectStore, cfg Config, lgr logger.Logger) *Coordinator {
	if cfg.ModelFolder == "" {
		cfg.ModelFolder = "3d-files"
	}
	if cfg.GcodeFolder == "" {
		cfg.GcodeFolder = "gcode-files"
	}
	if cfg.MaxModelBytes <= 0 {
		cfg.MaxModelBytes = 10 << 20
	}
	if cfg.MaxGcodeBytes <= 0 {
		cfg.MaxGcodeBytes = 50 << 20
	}
	if cfg.SignTTL <= 0 {
		cfg.SignTTL = 15 * time.Minute
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &Coordinator{store: store, cfg: cfg, logger: lgr}
}

func (c *Coordinator) MaxModelBytes() int64 { return c.cfg.MaxModelBytes }

func (c *Coordinator) MaxGcodeBytes() int64 { return c.cfg.MaxGcodeBytes }

// ValidateModel checks a model file name and size and returns its extension.
func (c *Coordinator) ValidateModel(fileName string, size int64) (string, error) {
	return validate(fileName, size, ModelExtensions, c.cfg.MaxModelBytes)
}

func (c *Coordinator) ValidateToolpath(fileName string, size int64) (string, error) {
	return validate(fileName, size, ToolpathExtensions, c.cfg.MaxGcodeBytes)
}

// StoreModel validates and then streams a model file into the model folder.
func (c *Coordinator) StoreModel(ctx context.Context, file interfaces.UploadedFile) (StoredFile, error) {
	ext, err := c.ValidateModel(file.FileName, file.Size)
	if err != nil {
		return StoredFile{}, err
	}
	stored, err := c.put(ctx, c.cfg.ModelFolder, ext, file, c.cfg.MaxModelBytes)
	metrics.Upload("model", err)
	return stored, err
}

// StoreToolpath validates and then streams a toolpath into the gcode folder.
func (c *Coordinator) StoreToolpath(ctx context.Context, file interfaces.UploadedFile) (StoredFile, error) {
	ext, err := c.ValidateToolpath(file.FileName, file.Size)
	if err != nil {
		return StoredFile{}, err
	}
	stored, err := c.put(ctx, c.cfg.GcodeFolder, ext, file, c.cfg.MaxGcodeBytes)
	metrics.Upload("toolpath", err)
	return stored, err
}

// StoreSliced saves engine output for an order without the upload checks.
func (c *Coordinator) StoreSliced(ctx context.Context, orderID string, gcode io.Reader, size int64) (StoredFile, error) {
	key := path.Join(c.cfg.GcodeFolder, orderID+"-"+uuid.NewString()+".gcode")
	obj, err := c.store.Put(ctx, key, "text/x-gcode", gcode)
	metrics.Upload("sliced", err)
	if err != nil {
		return StoredFile{}, fmt.Errorf("%w: %v", domain.ErrUpload, err)
	}
	return StoredFile{Key: obj.Key, URL: obj.URL, FileName: path.Base(key), FileType: "gcode", Size: size}, nil
}

// SignUpload issues a short-lived credential to upload one model file
// straight to the model folder. No bytes pass through the service.
func (c *Coordinator) SignUpload(ctx context.Context, fileName string) (domain.UploadCredential, error) {
	if _, err := c.ValidateModel(fileName, 0); err != nil {
		return domain.UploadCredential{}, err
	}

	key := objectKey(c.cfg.ModelFolder, fileName)
	cred, err := c.store.SignUpload(ctx, key, c.cfg.MaxModelBytes, c.cfg.SignTTL)
	if err != nil {
		return domain.UploadCredential{}, fmt.Errorf("%w: %v", domain.ErrUpload, err)
	}
	c.logger.Debug("upload_signed", "Issued direct upload credential", "", map[string]interface{}{
		"key":        key,
		"expires_at": cred.ExpiresAt,
	})
	return cred, nil
}

// VerifyClientObject treats a client-supplied URL as untrusted. It must
// address the model folder of this store, carry an accepted extension and
// name an object that exists and fits the size limit.
func (c *Coordinator) VerifyClientObject(ctx context.Context, rawURL string) (StoredFile, error) {
	key, ok := c.store.KeyFromURL(strings.TrimSpace(rawURL))
	if !ok || !strings.HasPrefix(key, c.cfg.ModelFolder+"/") {
		return StoredFile{}, domain.NewValidationError("fileURL", "file URL must reference an upload issued by this service")
	}

	fileName := originalName(path.Base(key))
	ext, err := c.ValidateModel(fileName, 0)
	if err != nil {
		return StoredFile{}, err
	}

	obj, err := c.store.Stat(ctx, key)
	if err != nil {
		if errors.Is(err, interfaces.ErrObjectNotFound) {
			return StoredFile{}, domain.NewValidationError("fileURL", "uploaded file was not found in storage")
		}
		return StoredFile{}, fmt.Errorf("%w: %v", domain.ErrUpload, err)
	}
	if obj.Size > c.cfg.MaxModelBytes {
		return StoredFile{}, domain.NewValidationError("file", tooLargeMessage(c.cfg.MaxModelBytes))
	}

	return StoredFile{Key: key, URL: obj.URL, FileName: fileName, FileType: ext, Size: obj.Size}, nil
}

// Fetch reads a stored model back for slicing.
func (c *Coordinator) Fetch(ctx context.Context, key string) ([]byte, error) {
	return c.store.Get(ctx, key, c.cfg.MaxModelBytes)
}

func (c *Coordinator) put(ctx context.Context, folder, ext string, file interfaces.UploadedFile, limit int64) (StoredFile, error) {
	if file.Content == nil {
		return StoredFile{}, domain.NewValidationError("file", "file content is required")
	}

	key := objectKey(folder, file.FileName)
	body := &limitedReader{r: file.Content, remaining: limit}

	obj, err := c.store.Put(ctx, key, contentType(ext), body)
	if err != nil {
		if errors.Is(err, ErrTooLarge) || body.exceeded {
			return StoredFile{}, domain.NewValidationError("file", tooLargeMessage(limit))
		}
		return StoredFile{}, fmt.Errorf("%w: %v", domain.ErrUpload, err)
	}
	if obj.URL == "" {
		return StoredFile{}, fmt.Errorf("%w: storage returned no URL for %s", domain.ErrUpload, key)
	}

	size := obj.Size
	if size == 0 {
		size = file.Size
	}
	return StoredFile{Key: obj.Key, URL: obj.URL, FileName: filepath.Base(file.FileName), FileType: ext, Size: size}, nil
}

func validate(fileName string, size int64, allowed []string, limit int64) (string, error) {
	ext := Extension(fileName)
	if !contains(allowed, ext) {
		return "", domain.NewValidationError("file", fmt.Sprintf("unsupported file type %q; allowed types: %s", "."+ext, extList(allowed)))
	}
	if size < 0 || size > limit {
		return "", domain.NewValidationError("file", tooLargeMessage(limit))
	}
	return ext, nil
}

// Extension returns the lower-case extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(strings.TrimSpace(name)), "."))
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func objectKey(folder, fileName string) string {
	name := unsafeChars.ReplaceAllString(filepath.Base(fileName), "_")
	return path.Join(folder, uuid.NewString()+"-"+name)
}

// originalName strips the uuid prefix objectKey adds.
func originalName(base string) string {
	if len(base) > 37 && base[36] == '-' {
		if _, err := uuid.Parse(base[:36]); err == nil {
			return base[37:]
		}
	}
	return base
}

func contentType(ext string) string {
	switch ext {
	case "stl":
		return "model/stl"
	case "3mf":
		return "model/3mf"
	case "obj":
		return "model/obj"
	case "step", "stp":
		return "model/step"
	case "gcode":
		return "text/x-gcode"
	}
	return "application/octet-stream"
}

func tooLargeMessage(limit int64) string {
	return fmt.Sprintf("file exceeds the %d MB limit", limit>>20)
}

func extList(exts []string) string {
	dotted := make([]string, len(exts))
	for i, e := range exts {
		dotted[i] = "." + e
	}
	return strings.Join(dotted, ", ")
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// limitedReader fails once more than remaining bytes have been read.
type limitedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		l.exceeded = true
		return n, ErrTooLarge
	}
	return n, err
}
