package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/keagan/clipcannon/pkg/util"
)

// Outbox is an Uploader that delivers clips into a local directory, one video file and one
// metadata file per upload. It stands in for a platform API when running locally.
type Outbox struct {
	dir string
	now func() time.Time
}

type outboxMeta struct {
	RemoteID   string     `json:"remote_id"`
	ClipID     string     `json:"clip_id"`
	VideoID    string     `json:"video_id"`
	Creator    string     `json:"creator,omitempty"`
	Title      string     `json:"title"`
	Visibility Visibility `json:"visibility"`
	UploadedAt time.Time  `json:"uploaded_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func NewOutbox(dir string) *Outbox {
	return &Outbox{dir: dir, now: time.Now}
}

var _ Uploader = (*Outbox)(nil)

func (o *Outbox) Upload(ctx context.Context, req UploadRequest) (string, error) {
	src, err := os.Open(req.Artifact)
	if err != nil {
		return "", &UploadError{ClipID: req.ClipID, Transient: !errors.Is(err, fs.ErrNotExist), Err: err}
	}
	defer src.Close()

	if err := util.EnsureDir(o.dir); err != nil {
		return "", &UploadError{ClipID: req.ClipID, Transient: true, Err: err}
	}

	remoteID := uuid.NewString()
	dstPath := filepath.Join(o.dir, remoteID+filepath.Ext(req.Artifact))
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", &UploadError{ClipID: req.ClipID, Transient: true, Err: err}
	}
	if _, err := io.Copy(dst, readerWithContext(ctx, src)); err != nil {
		_ = dst.Close()
		_ = os.Remove(dstPath)
		return "", &UploadError{ClipID: req.ClipID, Transient: true, Err: err}
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dstPath)
		return "", &UploadError{ClipID: req.ClipID, Transient: true, Err: err}
	}

	now := o.now()
	meta := outboxMeta{
		RemoteID:   remoteID,
		ClipID:     req.ClipID,
		VideoID:    req.VideoID,
		Creator:    req.Creator,
		Title:      req.Title,
		Visibility: req.Visibility,
		UploadedAt: now,
		UpdatedAt:  now,
	}
	if err := util.WriteJSON(o.metaPath(remoteID), meta); err != nil {
		_ = os.Remove(dstPath)
		return "", &UploadError{ClipID: req.ClipID, Transient: true, Err: err}
	}
	return remoteID, nil
}

func (o *Outbox) SetVisibility(_ context.Context, remoteID string, v Visibility) error {
	var meta outboxMeta
	if err := util.ReadJSON(o.metaPath(remoteID), &meta); err != nil {
		return err
	}
	meta.Visibility = v
	meta.UpdatedAt = o.now()
	return util.WriteJSON(o.metaPath(remoteID), meta)
}

// Visibility reads back the visibility of an outbox upload.
func (o *Outbox) Visibility(remoteID string) (Visibility, error) {
	var meta outboxMeta
	if err := util.ReadJSON(o.metaPath(remoteID), &meta); err != nil {
		return "", err
	}
	return meta.Visibility, nil
}

func (o *Outbox) metaPath(remoteID string) string {
	return filepath.Join(o.dir, remoteID+".json")
}

// OutboxClaims reads claim verdicts from <remote_id>.claim files in the outbox.
// No file means no claim was filed.
type OutboxClaims struct {
	dir string
}

func NewOutboxClaims(dir string) *OutboxClaims {
	return &OutboxClaims{dir: dir}
}

var _ ClaimChecker = (*OutboxClaims)(nil)

func (c *OutboxClaims) Check(_ context.Context, remoteID string) (ClaimStatus, error) {
	data, err := os.ReadFile(filepath.Join(c.dir, remoteID+".claim"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ClaimClean, nil
		}
		return ClaimUnknown, &ClaimCheckError{RemoteID: remoteID, Err: err}
	}

	switch status := ClaimStatus(strings.ToLower(strings.TrimSpace(string(data)))); status {
	case ClaimClean, ClaimClaimed, ClaimStruck:
		return status, nil
	default:
		return ClaimUnknown, &ClaimCheckError{RemoteID: remoteID, Err: fmt.Errorf("unrecognised verdict %q", status)}
	}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
