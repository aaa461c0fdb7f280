package tracking

import "encoding/base64"

// pixelB64 is a fixed 1x1 transparent GIF
const pixelB64 = "R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7"

// Pixel holds the open-tracking pixel bytes served on every request,
// whether or not the underlying log exists.
var Pixel = mustDecodePixel()

func mustDecodePixel() []byte {
	b, err := base64.StdEncoding.DecodeString(pixelB64)
	if err != nil {
		panic(err)
	}
	return b
}
