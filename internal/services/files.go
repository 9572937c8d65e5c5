package services

import (
	"net/url"
	"strings"

	"github.com/roach88/restcore/internal/ir"
)

// Files expands File values into their public URLs.
type Files struct {
	// BaseURL is the public mount of the server, e.g. "http://localhost:1337/parse".
	BaseURL string
	AppID   string
}

// URL returns the public location of a stored file.
func (f *Files) URL(name string) string {
	return strings.TrimSuffix(f.BaseURL, "/") + "/files/" + url.PathEscape(f.AppID) + "/" + url.PathEscape(name)
}

// ExpandFilesInObject sets the url of every File value in obj, at any depth.
func (f *Files) ExpandFilesInObject(obj any) {
	switch v := obj.(type) {
	case map[string]any:
		if ir.TypeTag(v) == "File" {
			if name, ok := v["name"].(string); ok && name != "" {
				if _, has := v["url"]; !has {
					v["url"] = f.URL(name)
				}
			}
			return
		}
		for _, elem := range v {
			f.ExpandFilesInObject(elem)
		}
	case []any:
		for _, elem := range v {
			f.ExpandFilesInObject(elem)
		}
	case []ir.Object:
		for _, elem := range v {
			f.ExpandFilesInObject(elem)
		}
	}
}
