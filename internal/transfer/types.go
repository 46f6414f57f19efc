// Package transfer implements the chunked file transfer engine that runs
// over an established transport channel: the sender streams one file at a
// time as metadata plus binary chunks under flow control, and the receiver
// reassembles inbound chunks into completed artifacts.
package transfer

import "time"

// FileMetadata describes one file before its chunks are sent.
type FileMetadata struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	MimeType    string `json:"mimeType"`
	TotalChunks int    `json:"totalChunks"`
}

// Status is the lifecycle state of one transfer.
type Status string

const (
	StatusPending      Status = "pending"
	StatusTransferring Status = "transferring"
	StatusPaused       Status = "paused"
	StatusCompleted    Status = "completed"
	StatusCancelled    Status = "cancelled"
	StatusError        Status = "error"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusError
}

// Transfer is the externally visible record for one file transfer, sender
// or receiver side. The engine is its sole mutator; callbacks receive
// copies.
type Transfer struct {
	ID               string
	Metadata         FileMetadata
	Status           Status
	BytesTransferred int64
	TotalBytes       int64
	Speed            float64 // bytes per second
	ETA              time.Duration
	StartTime        time.Time
	LastUpdateTime   time.Time
	CurrentChunk     int    // sender side: next chunk index to send
	Error            string // set when Status == StatusError
}

// Artifact is a fully reassembled received file.
type Artifact struct {
	Metadata FileMetadata
	Data     []byte
}

// TotalChunks computes how many chunks a file of the given size yields.
func TotalChunks(size int64, chunkSize int) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((size + int64(chunkSize) - 1) / int64(chunkSize))
}
