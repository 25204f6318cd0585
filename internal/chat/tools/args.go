package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lk2023060901/chatai-backend/internal/chat/types"
	"github.com/tidwall/gjson"
)

// Args 已解析的调用参数
type Args struct {
	Name   string // 调用名
	Raw    string
	Values map[string]any
}

// ParseArgs 解析 JSON 编码的参数对象, 空串视为空对象
func ParseArgs(raw string) (Args, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Args{Raw: "{}", Values: map[string]any{}}, nil
	}

	values := map[string]any{}
	if err := json.Unmarshal([]byte(trimmed), &values); err != nil {
		return Args{}, fmt.Errorf("%w: %v", types.ErrMalformedToolArguments, err)
	}
	if values == nil {
		values = map[string]any{}
	}
	return Args{Raw: trimmed, Values: values}, nil
}

// String 读取字符串参数
func (a Args) String(key string) string {
	v, ok := a.Values[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// OrderedValues 按出现顺序返回顶层参数值的文本形式
func (a Args) OrderedValues() []string {
	var out []string
	gjson.Parse(a.Raw).ForEach(func(_, value gjson.Result) bool {
		out = append(out, value.String())
		return true
	})
	return out
}
