package ingest

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	applog "bobbrain/internal/platform/log"
)

// Parsed 解析后的纯文本与元数据。
type Parsed struct {
	Text     string
	Title    string
	Metadata map[string]string
}

// Parser 把某类文件转换为纯文本。
type Parser interface {
	Parse(r io.Reader, filename string) (*Parsed, error)
	Extensions() []string
}

var (
	reMdFence  = regexp.MustCompile("(?s)```[^\n]*\n(.*?)```")
	reMdImage  = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	reMdLink   = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	reMdEmph   = regexp.MustCompile(`(\*\*|__|\*|_)([^*_\n]+)(\*\*|__|\*|_)`)
	reMdCode   = regexp.MustCompile("`([^`\n]+)`")
	reMdHeader = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s+`)
	reMdQuote  = regexp.MustCompile(`(?m)^\s{0,3}>\s?`)
	reHTMLTag  = regexp.MustCompile(`<[^>]+>`)
	reBlank    = regexp.MustCompile(`\n{3,}`)

	reDocxPara = regexp.MustCompile(`</w:p>`)
	reDocxText = regexp.MustCompile(`(?s)<w:t(?:\s[^>]*)?>(.*?)</w:t>`)
)

// MarkdownParser 去掉 Markdown 标记，保留文字，第一个一级标题作为 Title。
type MarkdownParser struct{}

func (MarkdownParser) Extensions() []string { return []string{".md", ".markdown"} }

func (MarkdownParser) Parse(r io.Reader, _ string) (*Parsed, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read markdown: %w", err)
	}
	src := string(data)

	title := ""
	for _, line := range strings.Split(src, "\n") {
		if t, ok := strings.CutPrefix(strings.TrimSpace(line), "# "); ok {
			title = strings.TrimSpace(t)
			break
		}
	}

	text := reMdFence.ReplaceAllString(src, "$1")
	text = reMdImage.ReplaceAllString(text, "$1")
	text = reMdLink.ReplaceAllString(text, "$1")
	text = reMdEmph.ReplaceAllString(text, "$2")
	text = reMdCode.ReplaceAllString(text, "$1")
	text = reMdHeader.ReplaceAllString(text, "")
	text = reMdQuote.ReplaceAllString(text, "")
	text = reHTMLTag.ReplaceAllString(text, "")

	return &Parsed{
		Text:     squeeze(text),
		Title:    title,
		Metadata: map[string]string{"format": "markdown"},
	}, nil
}

// TextParser 纯文本类文件原样读取。
type TextParser struct{}

func (TextParser) Extensions() []string {
	return []string{".txt", ".text", ".csv", ".log", ".json", ".yaml", ".yml"}
}

func (TextParser) Parse(r io.Reader, filename string) (*Parsed, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read text: %w", err)
	}
	return &Parsed{
		Text:     squeeze(string(data)),
		Metadata: map[string]string{"format": strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")},
	}, nil
}

// PDFParser 逐页提取文本，无法解析的页跳过。
type PDFParser struct{}

func (PDFParser) Extensions() []string { return []string{".pdf"} }

func (PDFParser) Parse(r io.Reader, filename string) (*Parsed, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	n := doc.NumPage()
	pages := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		p := doc.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			applog.Warn("[Ingest] pdf page skipped", "file", filename, "page", i, "error", err)
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}

	return &Parsed{
		Text: squeeze(strings.Join(pages, "\n\n")),
		Metadata: map[string]string{
			"format": "pdf",
			"pages":  strconv.Itoa(n),
		},
	}, nil
}

// DOCXParser 从 document.xml 中抽取 <w:t> 文本，按段落换行。
type DOCXParser struct{}

func (DOCXParser) Extensions() []string { return []string{".docx"} }

func (DOCXParser) Parse(r io.Reader, _ string) (*Parsed, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read docx: %w", err)
	}
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer doc.Close()

	var b strings.Builder
	for _, para := range reDocxPara.Split(doc.Editable().GetContent(), -1) {
		var line strings.Builder
		for _, m := range reDocxText.FindAllStringSubmatch(para, -1) {
			line.WriteString(html.UnescapeString(m[1]))
		}
		if s := strings.TrimSpace(line.String()); s != "" {
			b.WriteString(s)
			b.WriteString("\n")
		}
	}

	return &Parsed{
		Text:     squeeze(b.String()),
		Metadata: map[string]string{"format": "docx"},
	}, nil
}

// squeeze 统一换行并把三个以上连续换行压成一个空行。
func squeeze(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimSpace(reBlank.ReplaceAllString(s, "\n\n"))
}
