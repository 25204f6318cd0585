package judge

import (
	"encoding/json"
	"strings"
)

// ExtractFirstJSON 返回文本中第一个括号平衡的 {...} 对象, 找不到时返回空串.
// 字符串字面量内的括号与转义字符不参与计数.
func ExtractFirstJSON(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// DecodeFirstJSON 解码第一个对象到 v. 没有对象时按空对象处理.
func DecodeFirstJSON(text string, v any) error {
	obj := ExtractFirstJSON(text)
	if obj == "" {
		obj = "{}"
	}
	return json.Unmarshal([]byte(obj), v)
}
