package processor

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

var htmlDocument = regexp.MustCompile(`(?is)^\s*(<!doctype\s+html|<html[\s>]|<body[\s>])`)

// IsHTML reports whether a README should be converted before chunking:
// either its file name says so or the body is a full HTML document.
// Markdown READMEs with inline HTML blocks are left alone.
func IsHTML(name, content string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".html", ".htm":
		return true
	}

	return htmlDocument.MatchString(content)
}

// NormalizeReadme returns README text ready for chunking. HTML documents
// are converted to markdown so chunk boundaries follow headings and
// paragraphs rather than tags.
func NormalizeReadme(name, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", nil
	}

	if !IsHTML(name, content) {
		return content, nil
	}

	markdown, err := htmltomarkdown.ConvertString(content)
	if err != nil {
		return "", fmt.Errorf("failed to convert html readme: %w", err)
	}

	return markdown, nil
}
