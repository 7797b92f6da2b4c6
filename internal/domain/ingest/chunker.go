package ingest

import (
	"strings"
	"unicode/utf8"
)

// Chunker 按段落合并切块，超长段落按 rune 硬切，相邻块保留 overlap 个 rune 的重叠。
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 800
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 4
	}
	return &Chunker{size: size, overlap: overlap}
}

func (c *Chunker) Split(text string) []string {
	var (
		chunks []string
		cur    []string
		curLen int
		// cur 中除了上一块的重叠尾巴之外是否还有新内容
		fresh bool
	)
	flush := func() {
		if !fresh {
			return
		}
		chunk := strings.Join(cur, "\n")
		chunks = append(chunks, chunk)
		cur, curLen, fresh = nil, 0, false
		if tail := lastRunes(chunk, c.overlap); tail != "" {
			cur, curLen = []string{tail}, utf8.RuneCountInString(tail)
		}
	}

	for _, para := range strings.Split(text, "\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		n := utf8.RuneCountInString(para)
		if n > c.size {
			flush()
			cur, curLen = nil, 0
			chunks = append(chunks, c.hardSplit(para)...)
			continue
		}
		if fresh && curLen+1+n > c.size {
			flush()
		}
		if curLen > 0 && curLen+1+n > c.size {
			// 重叠尾巴与新段落放不下，丢弃尾巴
			cur, curLen = nil, 0
		}
		if curLen > 0 {
			curLen++
		}
		cur = append(cur, para)
		curLen += n
		fresh = true
	}
	flush()
	return chunks
}

func (c *Chunker) hardSplit(para string) []string {
	runes := []rune(para)
	step := c.size - c.overlap
	var out []string
	for i := 0; i < len(runes); i += step {
		end := min(i+c.size, len(runes))
		out = append(out, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

func lastRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return ""
	}
	return string(r[len(r)-n:])
}
