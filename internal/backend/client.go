package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	uploadPath  = "/upload_pdf"
	chatPath    = "/chat_stream"
	historyPath = "/history"
)

// Client talks to the document chat backend.
type Client struct {
	baseURL       string
	client        *http.Client
	uploadTimeout time.Duration
}

// NewClient returns a client for the backend at baseURL. The underlying
// http.Client has no overall timeout: a streaming answer may go quiet for a
// long time without being an error. Upload and history calls are bounded by
// uploadTimeout instead.
func NewClient(baseURL string, uploadTimeout time.Duration) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		client:        &http.Client{},
		uploadTimeout: uploadTimeout,
	}
}

type chatRequest struct {
	Query   string `json:"query"`
	PDFText string `json:"pdf_text"`
}

type uploadResponse struct {
	ExtractedText string `json:"extracted_text"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// HistoryRecord is one exchange the backend has stored.
type HistoryRecord struct {
	UserQuery   string `json:"user_query"`
	BotResponse string `json:"bot_response"`
}

// Stream is an open answer stream. The caller must close Body.
type Stream struct {
	Body    io.ReadCloser
	Charset string
}

// Upload sends a document and returns the text the backend extracted from it.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", &UploadError{Message: "build form", Err: err}
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", &UploadError{Message: "read document", Err: err}
	}
	if err := mw.Close(); err != nil {
		return "", &UploadError{Message: "build form", Err: err}
	}

	if c.uploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.uploadTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+uploadPath, &buf)
	if err != nil {
		return "", &UploadError{Message: "create request", Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &UploadError{Message: "upload call", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &UploadError{StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := "Failed to upload PDF"
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		return "", &UploadError{StatusCode: resp.StatusCode, Message: msg}
	}

	var up uploadResponse
	if err := json.Unmarshal(respBody, &up); err != nil {
		return "", &UploadError{StatusCode: resp.StatusCode, Message: "unmarshal response", Err: err}
	}
	return up.ExtractedText, nil
}

// ChatStream asks a question about the document and returns the open answer
// stream. The payload is raw text with no framing; the answer ends when the
// stream closes.
func (c *Client) ChatStream(ctx context.Context, query, pdfText string) (*Stream, error) {
	body, err := json.Marshal(chatRequest{Query: query, PDFText: pdfText})
	if err != nil {
		return nil, &StreamError{Message: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, &StreamError{Message: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/plain")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &StreamError{Message: "stream call", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		msg := http.StatusText(resp.StatusCode)
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		return nil, &StreamError{StatusCode: resp.StatusCode, Message: msg}
	}

	return openStream(resp)
}

// openStream wraps a successful response. A zero-length body (http.NoBody)
// is an empty answer, not a missing one.
func openStream(resp *http.Response) (*Stream, error) {
	if resp.Body == nil {
		return nil, &StreamError{StatusCode: resp.StatusCode, Message: "no stream body"}
	}
	return &Stream{Body: resp.Body, Charset: charsetOf(resp.Header.Get("Content-Type"))}, nil
}

// History returns the exchanges stored by the backend, oldest first.
func (c *Client) History(ctx context.Context) ([]HistoryRecord, error) {
	if c.uploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.uploadTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+historyPath, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history error %d", resp.StatusCode)
	}

	var records []HistoryRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return records, nil
}

func charsetOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}
