package domain

import "github.com/gabriel-vasile/mimetype"

// SniffAttachment builds attachment metadata from the uploaded bytes. The
// MIME type comes from content sniffing; a client-declared type is ignored.
func SniffAttachment(name string, data []byte) *Attachment {
	if name == "" || len(data) == 0 {
		return nil
	}
	return &Attachment{
		Name:     name,
		Size:     int64(len(data)),
		MimeType: mimetype.Detect(data).String(),
	}
}
