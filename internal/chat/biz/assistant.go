package biz

import (
	"context"
	"fmt"
	"strings"

	"github.com/lk2023060901/chatai-backend/internal/chat/llm"
	"github.com/lk2023060901/chatai-backend/internal/chat/thread"
	"github.com/lk2023060901/chatai-backend/internal/chat/tools"
	"github.com/lk2023060901/chatai-backend/internal/pkg/logger"
	"go.uber.org/zap"
)

// FormatInstructions 数学公式的输出格式要求
const FormatInstructions = `
When asked about equations or mathematical formulas you should use LaTeX formatting.
For each piece of mathematical content:
 1. If the content is inline, use ` + "`$`" + ` as prefix and postfix (e.g. ` + "`$\\Delta x$`" + `)
 2. If the content is a block, use ` + "`$$`" + ` as prefix and postfix (e.g. ` + "`\\n$$\\sigma = \\frac{1}{2}at^2$$\\n`" + ` here the ` + "`\\n`" + ` are newlines)
`

// AssistantConfig 主助手配置
type AssistantConfig struct {
	Name                string
	Model               string
	Instructions        string
	EnableKnowledgeBase bool
}

// BuildInstructions 在基础指令后附加元数据说明与格式要求
func BuildInstructions(base string) string {
	return strings.TrimRight(base, "\n") + "\n" + thread.MetaInstructions + "\n" + FormatInstructions
}

// AssistantSpec 组装主助手的远端配置
func AssistantSpec(cfg AssistantConfig, registry *tools.Registry) *llm.AssistantSpec {
	remote := []string{llm.RemoteToolCodeInterpreter}
	if cfg.EnableKnowledgeBase {
		remote = append(remote, llm.RemoteToolFileSearch)
	}
	return &llm.AssistantSpec{
		Name:         cfg.Name,
		Model:        cfg.Model,
		Instructions: BuildInstructions(cfg.Instructions),
		Tools:        registry.ForRoot(),
		RemoteTools:  remote,
	}
}

// EnsureAssistant 按名称创建或更新主助手, 返回助手 ID
func EnsureAssistant(ctx context.Context, api llm.AssistantAPI, cfg AssistantConfig, registry *tools.Registry, log *logger.Logger) (string, error) {
	if log == nil {
		log = logger.L()
	}
	spec := AssistantSpec(cfg, registry)

	id, created, err := api.UpsertAssistant(ctx, spec)
	if err != nil {
		return "", fmt.Errorf("failed to upsert assistant %q: %w", cfg.Name, err)
	}

	log.Info("assistant ready",
		zap.String("assistant_id", id),
		zap.String("name", cfg.Name),
		zap.String("model", cfg.Model),
		zap.Bool("created", created),
		zap.Int("tools", len(spec.Tools)))
	return id, nil
}
