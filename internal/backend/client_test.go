package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestUpload_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload_pdf" {
			t.Errorf("expected path /upload_pdf, got %q", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("expected multipart file field: %v", err)
		}
		defer file.Close()
		if header.Filename != "spec.pdf" {
			t.Errorf("expected filename spec.pdf, got %q", header.Filename)
		}
		data, _ := io.ReadAll(file)
		if string(data) != "%PDF-1.4 fake" {
			t.Errorf("unexpected file content %q", data)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"extracted_text": "Doc"})
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", time.Second)
	text, err := c.Upload(context.Background(), "spec.pdf", strings.NewReader("%PDF-1.4 fake"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Doc" {
		t.Errorf("expected 'Doc', got %q", text)
	}
}

func TestUpload_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{
			"error":  "No parsable text extracted from PDF. Try another file or use OCR.",
			"status": 422,
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, time.Second)
	_, err := c.Upload(context.Background(), "scan.pdf", strings.NewReader("x"))

	var upErr *UploadError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UploadError, got %v", err)
	}
	if upErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected status 422, got %d", upErr.StatusCode)
	}
	if !strings.Contains(upErr.Message, "No parsable text") {
		t.Errorf("expected server message, got %q", upErr.Message)
	}
}

func TestUpload_ErrorWithoutJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(server.URL, time.Second)
	_, err := c.Upload(context.Background(), "a.pdf", strings.NewReader("x"))

	var upErr *UploadError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UploadError, got %v", err)
	}
	if upErr.Message != "Failed to upload PDF" {
		t.Errorf("expected fallback message, got %q", upErr.Message)
	}
}

func TestUpload_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := NewClient(url, time.Second)
	_, err := c.Upload(context.Background(), "a.pdf", strings.NewReader("x"))

	var upErr *UploadError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UploadError, got %v", err)
	}
	if upErr.Err == nil {
		t.Error("expected wrapped transport error")
	}
}

func TestChatStream_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat_stream" {
			t.Errorf("expected path /chat_stream, got %q", r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type application/json, got %q", r.Header.Get("Content-Type"))
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Query != "What is X?" {
			t.Errorf("expected query, got %q", req.Query)
		}
		if req.PDFText != "Doc" {
			t.Errorf("expected pdf_text Doc, got %q", req.PDFText)
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		flusher := w.(http.Flusher)
		for _, chunk := range []string{"Hel", "lo wor", "ld"} {
			io.WriteString(w, chunk)
			flusher.Flush()
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, time.Second)
	stream, err := c.ChatStream(context.Background(), "What is X?", "Doc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Body.Close()

	if stream.Charset != "utf-8" {
		t.Errorf("expected charset utf-8, got %q", stream.Charset)
	}
	data, err := io.ReadAll(stream.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if string(data) != "Hello world" {
		t.Errorf("expected 'Hello world', got %q", data)
	}
}

func TestChatStream_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"error": "No query provided", "status": 400})
	}))
	defer server.Close()

	c := NewClient(server.URL, time.Second)
	_, err := c.ChatStream(context.Background(), "q", "Doc")

	var streamErr *StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("expected StreamError, got %v", err)
	}
	if streamErr.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", streamErr.StatusCode)
	}
	if streamErr.Message != "No query provided" {
		t.Errorf("expected server message, got %q", streamErr.Message)
	}
}

func TestChatStream_EmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient(server.URL, time.Second)
	stream, err := c.ChatStream(context.Background(), "q", "Doc")
	if err != nil {
		t.Fatalf("expected an empty answer to open, got %v", err)
	}
	defer stream.Body.Close()

	data, err := io.ReadAll(stream.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("expected empty answer, got %q", data)
	}
}

func TestOpenStream_NoBody(t *testing.T) {
	_, err := openStream(&http.Response{StatusCode: http.StatusOK, Header: http.Header{}})

	var streamErr *StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("expected StreamError, got %v", err)
	}
	if streamErr.Message != "no stream body" {
		t.Errorf("expected 'no stream body', got %q", streamErr.Message)
	}
}

func TestChatStream_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := NewClient(url, time.Second)
	_, err := c.ChatStream(context.Background(), "q", "Doc")

	var streamErr *StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("expected StreamError, got %v", err)
	}
}

func TestHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/history" {
			t.Errorf("expected path /history, got %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]HistoryRecord{
			{UserQuery: "q1", BotResponse: "a1"},
			{UserQuery: "q2", BotResponse: "a2"},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, time.Second)
	records, err := c.History(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 || records[1].BotResponse != "a2" {
		t.Errorf("unexpected records: %+v", records)
	}
}

func TestCharsetOf(t *testing.T) {
	cases := map[string]string{
		"":                                 "",
		"text/plain":                       "",
		"text/plain; charset=utf-8":        "utf-8",
		"text/plain; charset=windows-1252": "windows-1252",
		"not a media type;;":               "",
	}
	for in, want := range cases {
		if got := charsetOf(in); got != want {
			t.Errorf("charsetOf(%q): expected %q, got %q", in, want, got)
		}
	}
}
