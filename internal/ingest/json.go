package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"faceguard/internal/model"
)

var ErrInvalidFrame = errors.New("invalid frame message")

// DecodeFrame parses one frame message. Image pixels travel as base64 in
// the "pix" field; a frame without an image is still valid and only skips
// the pixel-based analyzers.
func DecodeFrame(data []byte) (model.FrameInput, error) {
	var in model.FrameInput
	if err := json.Unmarshal(data, &in); err != nil {
		return model.FrameInput{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	in.SessionID = strings.TrimSpace(in.SessionID)
	if in.SessionID == "" {
		return model.FrameInput{}, fmt.Errorf("%w: missing session_id", ErrInvalidFrame)
	}
	if in.Image != nil && !in.Image.Valid() {
		return model.FrameInput{}, fmt.Errorf("%w: image %dx%d with %d pixels", ErrInvalidFrame, in.Image.Width, in.Image.Height, len(in.Image.Pix))
	}
	return in, nil
}
