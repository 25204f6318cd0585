package service

import (
	"bytes"

	"github.com/lk2023060901/chatai-backend/internal/chat/types"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// renderHTML 把消息中的文本项从 Markdown 渲染为 HTML, 图片项保持不变
func renderHTML(msgs []types.Message) ([]types.Message, error) {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		m = m.Clone()
		for i, item := range m.Content {
			if item.Type != types.ContentText {
				continue
			}
			var buf bytes.Buffer
			if err := markdown.Convert([]byte(item.Value), &buf); err != nil {
				return nil, err
			}
			m.Content[i].Value = buf.String()
		}
		out = append(out, m)
	}
	return out, nil
}
