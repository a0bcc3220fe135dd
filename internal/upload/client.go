package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/hexgridlabs/tabula/internal/canvas"
)

// HTTPClient posts blobs to a room's upload endpoint. It implements
// canvas.Uploader.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

// NewHTTPClient targets the given upload endpoint. A nil http client falls
// back to http.DefaultClient.
func NewHTTPClient(endpoint string, client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{endpoint: endpoint, client: client}
}

// Upload sends the blob as a multipart form and decodes the stored image
// metadata from the response.
func (c *HTTPClient) Upload(ctx context.Context, filename, contentType string, content []byte) (canvas.UploadResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return canvas.UploadResult{}, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return canvas.UploadResult{}, fmt.Errorf("build upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return canvas.UploadResult{}, fmt.Errorf("build upload form: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return canvas.UploadResult{}, fmt.Errorf("build upload request: %w", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())

	response, err := c.client.Do(request)
	if err != nil {
		return canvas.UploadResult{}, fmt.Errorf("post upload: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusCreated {
		payload, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return canvas.UploadResult{}, fmt.Errorf("upload rejected: status %d: %s", response.StatusCode, strings.TrimSpace(string(payload)))
	}

	var stored StoredImage
	if err := json.NewDecoder(response.Body).Decode(&stored); err != nil {
		return canvas.UploadResult{}, fmt.Errorf("decode upload response: %w", err)
	}
	return canvas.UploadResult{URL: stored.URL, Width: stored.Width, Height: stored.Height}, nil
}

func escapeQuotes(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return replacer.Replace(value)
}
