package judge

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding 模型未知时使用的编码
const DefaultEncoding = "cl100k_base"

// TokenCounter 统计文本 token 数
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter 基于 tiktoken 的计数器
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter 按模型选择编码, 模型未知时回退到 cl100k_base
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding(DefaultEncoding)
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}
	return &TiktokenCounter{encoding: encoding}, nil
}

// Count implements TokenCounter.
func (c *TiktokenCounter) Count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}
