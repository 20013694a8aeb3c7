package attachment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"askdan/utils"
)

// ErrUpload is matched by every upload failure
var ErrUpload = errors.New("attachment upload failed")

// UploadError reports which attachment of a batch failed
type UploadError struct {
	Index    int
	Resource string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("attachment %d (%s): %v", e.Index, e.Resource, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

func (e *UploadError) Is(target error) bool { return target == ErrUpload }

// FileTransport stores file content remotely and returns its handle
type FileTransport interface {
	UploadFile(ctx context.Context, name string, data []byte) (string, error)
}

// Uploader turns local resources into remote file handles
type Uploader struct {
	transport FileTransport
	preparer  *Preparer
	timeout   time.Duration
	logger    *utils.Logger
}

// NewUploader creates an uploader. A zero timeout means 60 seconds per file.
func NewUploader(transport FileTransport, preparer *Preparer, timeout time.Duration, logger *utils.Logger) *Uploader {
	if preparer == nil {
		preparer = NewPreparer(0, 0, 0)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Uploader{
		transport: transport,
		preparer:  preparer,
		timeout:   timeout,
		logger:    logger,
	}
}

// Upload uploads one resource and returns its remote handle
func (u *Uploader) Upload(ctx context.Context, resource string) (string, error) {
	file, err := u.preparer.Prepare(resource)
	if err != nil {
		return "", &UploadError{Resource: resource, Err: err}
	}

	uploadCtx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	handle, err := u.transport.UploadFile(uploadCtx, file.Name, file.Data)
	if err != nil {
		return "", &UploadError{Resource: resource, Err: err}
	}
	if handle == "" {
		return "", &UploadError{Resource: resource, Err: errors.New("empty file handle")}
	}

	u.logger.Info("Uploaded %s (%s, %s) as %s", file.Name, file.MimeType, utils.FormatFileSize(int64(len(file.Data))), handle)
	return handle, nil
}

// UploadAll uploads resources in order. The first failure stops the batch;
// handles already obtained are discarded.
func (u *Uploader) UploadAll(ctx context.Context, resources []string) ([]string, error) {
	if len(resources) == 0 {
		return nil, nil
	}

	handles := make([]string, 0, len(resources))
	for i, resource := range resources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		handle, err := u.Upload(ctx, resource)
		if err != nil {
			var uploadErr *UploadError
			if errors.As(err, &uploadErr) {
				uploadErr.Index = i
			}
			u.logger.Error("Upload of attachment %d/%d failed: %v", i+1, len(resources), err)
			return nil, err
		}
		handles = append(handles, handle)
	}
	return handles, nil
}
