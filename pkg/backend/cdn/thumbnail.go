package cdn

import (
	"fmt"
	"strings"
)

// Default thumbnail dimensions.
const (
	DefaultThumbnailWidth  = 200
	DefaultThumbnailHeight = 200
)

// ThumbnailURL inserts a fill/crop transformation into a CDN delivery URL:
//
//	.../upload/v123/x.jpg -> .../upload/w_200,h_200,c_fill,g_auto,q_auto,f_auto/v123/x.jpg
//
// URLs without an /upload/ segment are returned unchanged. Non-positive
// dimensions fall back to the defaults.
func ThumbnailURL(url string, width, height int) string {
	if url == "" || !strings.Contains(url, "/upload/") {
		return url
	}
	if width <= 0 {
		width = DefaultThumbnailWidth
	}
	if height <= 0 {
		height = DefaultThumbnailHeight
	}
	transform := fmt.Sprintf("/upload/w_%d,h_%d,c_fill,g_auto,q_auto,f_auto/", width, height)
	return strings.Replace(url, "/upload/", transform, 1)
}
