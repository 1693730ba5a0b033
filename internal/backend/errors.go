package backend

import "fmt"

// UploadError reports a failed document upload.
type UploadError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *UploadError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("upload: %s: %v", e.Message, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("upload error %d: %s", e.StatusCode, e.Message)
	default:
		return "upload: " + e.Message
	}
}

func (e *UploadError) Unwrap() error { return e.Err }

// StreamError reports a chat stream that could not be opened or read.
type StreamError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *StreamError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("stream: %s: %v", e.Message, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("stream error %d: %s", e.StatusCode, e.Message)
	default:
		return "stream: " + e.Message
	}
}

func (e *StreamError) Unwrap() error { return e.Err }
