package media

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	"github.com/vincent-petithory/dataurl"
)

// DecodeImagePayload decodes a submitted image payload into pixels. Payloads
// may be data URLs ("data:image/png;base64,...") or bare base64; the bare
// form with a leading "<meta>," prefix is accepted for compatibility with
// clients that strip the scheme but keep the separator.
func DecodeImagePayload(payload string) (image.Image, error) {
	raw, err := decodePayloadBytes(payload)
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("undecodable image data: %w", err)
	}
	return img, nil
}

func decodePayloadBytes(payload string) ([]byte, error) {
	if payload == "" {
		return nil, fmt.Errorf("empty payload")
	}

	if strings.HasPrefix(payload, "data:") {
		du, err := dataurl.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("invalid data URL: %w", err)
		}
		return du.Data, nil
	}

	if i := strings.IndexByte(payload, ','); i >= 0 {
		payload = payload[i+1:]
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	return raw, nil
}

// EncodePNG re-encodes an image as PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeGrayscalePNG converts an image to 8-bit grayscale and encodes it as
// PNG. Masks are normalized this way before being handed to the pipeline.
func EncodeGrayscalePNG(img image.Image) ([]byte, error) {
	gray := image.NewGray(img.Bounds())
	draw.Draw(gray, gray.Bounds(), img, img.Bounds().Min, draw.Src)
	return EncodePNG(gray)
}

// EncodeB64 encodes raw asset bytes for the response payload.
func EncodeB64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
