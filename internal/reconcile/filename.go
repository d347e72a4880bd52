// internal/reconcile/filename.go
package reconcile

import (
	"strings"

	"github.com/tendant/simple-webp/internal/request"
)

const targetExt = "." + request.TargetFormat

// FinalizeFileName returns name with a .webp extension. Names already ending
// in .webp (any case) are kept as-is; otherwise the last dot segment is
// replaced, or the extension appended when there is none.
func FinalizeFileName(name string) string {
	if name == "" {
		return "image" + targetExt
	}
	if strings.HasSuffix(strings.ToLower(name), targetExt) {
		return name
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[:i]
	}
	return name + targetExt
}
