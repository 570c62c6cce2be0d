package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"

	"github.com/odyssey-erp/collect/internal/collection"
)

// UploadCheckImage implements collection.Uploader. progress receives
// monotonically increasing percentages as the request body is sent.
func (c *Client) UploadCheckImage(ctx context.Context, blob []byte, paymentID string, progress func(int)) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="check.jpg"`)
	header.Set("Content-Type", http.DetectContentType(blob))
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(blob); err != nil {
		return "", err
	}
	if paymentID != "" {
		if err := writer.WriteField("payment_id", paymentID); err != nil {
			return "", err
		}
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	total := int64(body.Len())
	reader := newProgressReader(bytes.NewReader(body.Bytes()), total, progress)
	req, err := c.newRequest(ctx, http.MethodPost, "/api/uploads/check-image", reader)
	if err != nil {
		return "", err
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resp struct {
		ImageURL string `json:"image_url"`
	}
	if err := do(c.uploadClient, req, &resp); err != nil {
		return "", &collection.NetworkError{Op: collection.OpUpload, Err: err}
	}
	if resp.ImageURL == "" {
		return "", &collection.NetworkError{Op: collection.OpUpload, Err: fmt.Errorf("%w: missing image_url", ErrUnexpectedResponse)}
	}
	reader.report(100)
	return resp.ImageURL, nil
}

// progressReader reports integer percentages of total as it is consumed.
type progressReader struct {
	r     io.Reader
	total int64
	fn    func(int)

	mu   sync.Mutex
	read int64
	last int
}

func newProgressReader(r io.Reader, total int64, fn func(int)) *progressReader {
	return &progressReader{r: r, total: total, fn: fn, last: -1}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.total > 0 {
		p.mu.Lock()
		p.read += int64(n)
		pct := int(p.read * 99 / p.total)
		p.mu.Unlock()
		p.report(pct)
	}
	if errors.Is(err, io.EOF) {
		p.report(99)
	}
	return n, err
}

// report emits pct when it advances. 100 is reserved for a confirmed upload.
func (p *progressReader) report(pct int) {
	if p.fn == nil {
		return
	}
	p.mu.Lock()
	if pct <= p.last {
		p.mu.Unlock()
		return
	}
	p.last = pct
	p.mu.Unlock()
	p.fn(pct)
}
