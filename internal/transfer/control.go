package transfer

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ControlType tags a text frame on the transport channel. Binary frames
// are always raw chunk bytes; everything else rides on these.
type ControlType string

const (
	ControlFileMetadata ControlType = "file-metadata"
	ControlComplete     ControlType = "transfer-complete"
	ControlCancel       ControlType = "transfer-cancel"
	ControlPause        ControlType = "transfer-pause"
	ControlResume       ControlType = "transfer-resume"

	// ControlChunkAck is reserved for per-chunk acknowledgement. It is
	// part of the wire vocabulary so peers that send it stay compatible,
	// but the engine does not act on it.
	ControlChunkAck ControlType = "chunk-ack"
)

// Control is one control message. Exactly one variant is active,
// determined by Type.
type Control struct {
	Type       ControlType   `json:"type"`
	Metadata   *FileMetadata `json:"metadata,omitempty"`
	FileID     string        `json:"fileId,omitempty"`
	ChunkIndex int           `json:"chunkIndex,omitempty"`
}

// Validate checks the variant carries the fields it requires.
func (c Control) Validate() error {
	switch c.Type {
	case ControlFileMetadata:
		if c.Metadata == nil || c.Metadata.ID == "" {
			return errors.New("file-metadata requires metadata with id")
		}
	case ControlComplete, ControlCancel, ControlPause, ControlResume, ControlChunkAck:
		if c.FileID == "" {
			return fmt.Errorf("%s requires fileId", c.Type)
		}
	default:
		return fmt.Errorf("unknown control type %q", c.Type)
	}
	return nil
}

// DecodeControl parses and validates a text frame.
func DecodeControl(raw []byte) (Control, error) {
	var c Control
	if err := json.Unmarshal(raw, &c); err != nil {
		return Control{}, fmt.Errorf("unmarshal control: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Control{}, err
	}
	return c, nil
}

// Encode marshals a control message for a text frame.
func (c Control) Encode() (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal control: %w", err)
	}
	return string(raw), nil
}
