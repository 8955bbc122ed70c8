package session

import (
	"net/url"
	"path"
	"strings"
)

// Editor modes.
const (
	ModeEdit = "edit"
	ModeView = "view"
)

const (
	defaultFileType    = "docx"
	defaultTitle       = "Untitled Document"
	remoteDefaultTitle = "Remote document"
)

// Descriptor names the document an editor configuration opens.
type Descriptor struct {
	Key      string
	URL      string
	Title    string
	FileType string
}

// EditorConfig builds the configuration object the document engine
// expects. editorConfig.user is left out; the broker injects it when
// signing.
func EditorConfig(d Descriptor, opts Options) map[string]any {
	fileType := d.FileType
	if fileType == "" {
		fileType = defaultFileType
	}
	title := d.Title
	if title == "" {
		title = defaultTitle
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeEdit
	}
	lang := opts.Lang
	if lang == "" {
		lang = "en"
	}
	collabMode := "strict"
	if opts.Collaboration {
		collabMode = "fast"
	}

	return map[string]any{
		"documentType": "word",
		"document": map[string]any{
			"fileType": fileType,
			"key":      d.Key,
			"title":    title,
			"url":      d.URL,
			"permissions": map[string]any{
				"edit":     mode == ModeEdit,
				"download": opts.AllowDownload,
				"print":    opts.AllowPrint,
				"review":   opts.Collaboration,
				"comment":  opts.Collaboration,
				"chat":     opts.Collaboration,
			},
		},
		"editorConfig": map[string]any{
			"mode": mode,
			"lang": lang,
			"collaboration": map[string]any{
				"mode":   collabMode,
				"change": opts.Collaboration,
			},
			"customization": map[string]any{
				"print":    opts.AllowPrint,
				"download": opts.AllowDownload,
				"comments": opts.Collaboration,
				"help":     true,
			},
		},
	}
}

// FileType returns the lower-cased extension of name without its dot, or
// "docx" when there is none.
func FileType(name string) string {
	if u, err := url.Parse(name); err == nil && u.Scheme != "" {
		name = u.Path
	}
	ext := strings.TrimPrefix(path.Ext(name), ".")
	if ext == "" {
		return defaultFileType
	}
	return strings.ToLower(ext)
}

// RemoteTitle returns the last path segment of a remote URL, or
// "Remote document" when the URL ends in a slash or has no path.
func RemoteTitle(raw string) string {
	raw = strings.TrimSpace(raw)
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" {
		raw = u.Path
		if unescaped, err := url.PathUnescape(raw); err == nil {
			raw = unescaped
		}
	}
	if i := strings.LastIndex(raw, "/"); i >= 0 {
		raw = raw[i+1:]
	}
	if raw == "" {
		return remoteDefaultTitle
	}
	return raw
}
