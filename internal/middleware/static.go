package middleware

import (
	"net/http"
	"path"
	"strings"

	"github.com/invitegen/edgegate/internal/csrf"
)

var staticPrefixes = []string{"/_next/static", "/_next/image"}

var staticExtensions = map[string]bool{
	".svg":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".ico":  true,
}

// IsStaticAsset reports whether p is a build asset or image. Paths under
// /api/ are routes, whatever their extension.
func IsStaticAsset(p string) bool {
	if strings.HasPrefix(p, "/api/") {
		return false
	}
	if p == "/favicon.ico" {
		return true
	}
	for _, prefix := range staticPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return staticExtensions[strings.ToLower(path.Ext(p))]
}

// skipsAdmission reports whether r is a read of a static asset. Writes are
// always admitted, even to asset-looking paths.
func skipsAdmission(r *http.Request) bool {
	return csrf.IsSafeMethod(r.Method) && IsStaticAsset(r.URL.Path)
}
