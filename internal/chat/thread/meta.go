package thread

import (
	"fmt"
	"strings"
	"time"
)

// MetaTag 用户消息中不可见元数据头的标签名
const MetaTag = "message_meta"

const (
	metaBegin = "<" + MetaTag + ">"
	metaEnd   = "</" + MetaTag + ">"
)

// MetaInstructions 告知模型元数据头的用途, 附加到助手指令末尾
const MetaInstructions = `
User messages usually begin with a metadata block such as:
<` + MetaTag + `>
unix_time: 1620000000
</` + MetaTag + `>
The user does not write this block, the chat app injects it for you.
Never mention the metadata. Use it naturally when relevant, for example answer
questions about the current time from unix_time without citing it.
`

// WrapWithMeta 为用户文本加上元数据头
func WrapWithMeta(text string, now time.Time) string {
	return fmt.Sprintf("%s\nunix_time: %d\n%s\n%s", metaBegin, now.Unix(), metaEnd, text)
}

// StripMeta 移除所有元数据块以及紧随其后的一个换行
func StripMeta(text string) string {
	out := text
	for {
		start := strings.Index(out, metaBegin)
		if start < 0 {
			return out
		}
		rel := strings.Index(out[start:], metaEnd)
		if rel < 0 {
			return out
		}
		end := start + rel + len(metaEnd)
		if end < len(out) && out[end] == '\n' {
			end++
		}
		out = out[:start] + out[end:]
	}
}
