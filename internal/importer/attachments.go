package importer

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/aiengrshafiq/QuickBooksImporter/internal/errs"
	"github.com/aiengrshafiq/QuickBooksImporter/internal/retry"
)

// AttachmentFetcher copies remote attachments into a BlobStore. It is best
// effort: anything other than an auth failure degrades the document to
// "imported without attachment".
type AttachmentFetcher struct {
	src   AttachmentSource
	blobs BlobStore
	retry retry.Policy
	log   *logrus.Entry
}

func NewAttachmentFetcher(src AttachmentSource, blobs BlobStore, policy retry.Policy, log *logrus.Entry) *AttachmentFetcher {
	return &AttachmentFetcher{src: src, blobs: blobs, retry: policy, log: log}
}

// FetchAttachment opens the content of one attachment, retrying transient failures.
func (a *AttachmentFetcher) FetchAttachment(ctx context.Context, ref AttachmentRef) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := a.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		rc, err = a.src.OpenAttachment(ctx, ref)
		return err
	})
	if err != nil {
		if errs.IsAuth(err) {
			return nil, err
		}
		return nil, &errs.AttachmentError{AttachmentID: ref.RemoteID, FileName: ref.FileName, Err: err}
	}
	return rc, nil
}

// Collect lists the attachments of doc and stores each one. missing is true
// when at least one attachment could not be listed, downloaded or stored.
// Only an auth failure is returned as an error.
func (a *AttachmentFetcher) Collect(ctx context.Context, doc RemoteDocument) (records []AttachmentRecord, missing bool, err error) {
	if a == nil || a.src == nil || a.blobs == nil {
		return nil, false, nil
	}
	log := a.log.WithFields(logrus.Fields{"doc_type": doc.DocType, "doc_number": doc.DocNumber})

	refs := doc.AttachmentRefs
	if refs == nil {
		err := a.retry.Do(ctx, func(ctx context.Context) error {
			var err error
			refs, err = a.src.ListAttachments(ctx, doc.DocType, doc.RemoteID)
			return err
		})
		if err != nil {
			if errs.IsAuth(err) {
				return nil, false, err
			}
			log.WithError(&errs.AttachmentError{AttachmentID: "*", Err: err}).
				Warn("attachment list unavailable, importing document without attachments")
			return nil, true, nil
		}
	}

	for _, ref := range refs {
		if ref.FileName == "" {
			log.WithField("attachment_id", ref.RemoteID).Warn("attachment has no file name, skipped")
			missing = true
			continue
		}
		rec, err := a.store(ctx, doc, ref)
		if err != nil {
			if errs.IsAuth(err) {
				return nil, false, err
			}
			log.WithError(err).WithField("attachment_id", ref.RemoteID).
				Warn("attachment not imported, document continues without it")
			missing = true
			continue
		}
		records = append(records, rec)
	}
	return records, missing, nil
}

func (a *AttachmentFetcher) store(ctx context.Context, doc RemoteDocument, ref AttachmentRef) (AttachmentRecord, error) {
	key := AttachmentKey(doc.DocType, doc.DocNumber, ref)
	contentType := ContentTypeFor(ref)

	var path string
	err := a.retry.Do(ctx, func(ctx context.Context) error {
		rc, err := a.src.OpenAttachment(ctx, ref)
		if err != nil {
			return err
		}
		defer rc.Close()
		path, err = a.blobs.Put(ctx, key, contentType, rc)
		return err
	})
	if err != nil {
		if errs.IsAuth(err) {
			return AttachmentRecord{}, err
		}
		return AttachmentRecord{}, &errs.AttachmentError{AttachmentID: ref.RemoteID, FileName: ref.FileName, Err: err}
	}
	return AttachmentRecord{
		RemoteID:    ref.RemoteID,
		FileName:    ref.FileName,
		ContentType: contentType,
		Size:        ref.Size,
		StoragePath: path,
	}, nil
}

// AttachmentKey is deterministic so a retried document reuses the same blob.
func AttachmentKey(t DocType, docNumber string, ref AttachmentRef) string {
	return fmt.Sprintf("%s/%s/%s-%s", strings.ToLower(string(t)), safeSegment(docNumber), safeSegment(ref.RemoteID), safeSegment(ref.FileName))
}

func safeSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

// ContentTypeFor prefers the declared type, then the file extension.
func ContentTypeFor(ref AttachmentRef) string {
	if ref.ContentType != "" {
		return ref.ContentType
	}
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(ref.FileName))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
