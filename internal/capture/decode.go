package capture

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/webp"
)

// StripDataURL drops a "data:<mime>;base64," prefix, if any
func StripDataURL(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[i+1:]
	}
	return s
}

// DecodePayload turns a base64 image (optionally a data URL) into an image
func DecodePayload(payload string) (image.Image, error) {
	data, err := base64.StdEncoding.DecodeString(StripDataURL(payload))
	if err != nil {
		return nil, fmt.Errorf("invalid image encoding: %w", err)
	}
	return decodeImage(data)
}

func decodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid image format: %w", err)
	}
	return img, nil
}
