package annotation

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/lk2023060901/chatai-backend/internal/chat/llm"
	"github.com/lk2023060901/chatai-backend/internal/chat/types"
	"github.com/lk2023060901/chatai-backend/internal/pkg/logger"
	"go.uber.org/zap"
)

// MakeFileURLFunc 将远端文件转存并返回可访问的 URL
type MakeFileURLFunc func(ctx context.Context, fileID, suggestedName string) string

// FileNamer 查询远端文件名
type FileNamer interface {
	GetFileName(ctx context.Context, fileID string) (string, error)
}

var (
	imageExts       = []string{".png", ".jpg", ".jpeg", ".gif", ".webp"}
	unsafeNameChars = regexp.MustCompile(`[^\w\-.]`)
	emptyAnnotation = regexp.MustCompile(`【\d+†.*?】`)
)

// DefaultImageName 图片内容项缺省文件名
const DefaultImageName = "image.png"

// Resolver 将远端消息转换为本地消息, 处理其中的文件与引用注解
type Resolver struct {
	makeFileURL MakeFileURLFunc
	namer       FileNamer
	logger      *logger.Logger
}

// NewResolver 创建解析器, namer 可以为 nil
func NewResolver(makeFileURL MakeFileURLFunc, namer FileNamer, log *logger.Logger) *Resolver {
	if makeFileURL == nil {
		makeFileURL = func(_ context.Context, fileID, _ string) string { return fileID }
	}
	if log == nil {
		log = logger.L()
	}
	return &Resolver{
		makeFileURL: makeFileURL,
		namer:       namer,
		logger:      log.Named("annotation"),
	}
}

// Translate 将一条远端消息转换为本地 Message
func (r *Resolver) Translate(ctx context.Context, msg llm.RemoteMessage) types.Message {
	out := types.Message{
		ID:        msg.ID,
		CreatedAt: msg.CreatedAt,
		Role:      msg.Role,
		Content:   make([]types.ContentItem, 0, len(msg.Content)),
	}

	for _, c := range msg.Content {
		switch c.Type {
		case "text":
			text := c.Text
			if len(c.Annotations) > 0 {
				r.logger.Debug("resolving annotations",
					zap.String("src_id", msg.ID),
					zap.Int("count", len(c.Annotations)))
				text = r.ResolveImages(ctx, text, c.Annotations)
				text = r.ResolveCitations(ctx, text, c.Annotations)
				text = StripEmptyAnnotations(text)
			}
			out.Content = append(out.Content, types.TextItem(text))
		case "image_file":
			out.Content = append(out.Content, types.ImageItem(r.makeFileURL(ctx, c.ImageFileID, DefaultImageName)))
		default:
			out.Content = append(out.Content, types.TextItem(types.UnknownContentPlaceholder))
		}
	}
	return out
}

// IsImage 判断注解是否指向图片文件
func IsImage(a llm.Annotation) bool {
	if a.Type != llm.AnnotationFilePath {
		return false
	}
	lower := strings.ToLower(a.Text)
	for _, ext := range imageExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// SimpleName 取路径最后一段并替换不安全字符
func SimpleName(text string) string {
	name := text
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return unsafeNameChars.ReplaceAllString(name, "_")
}

// ResolveImages 按 start_index 降序把图片路径替换为 URL, 下标以字符计
func (r *Resolver) ResolveImages(ctx context.Context, text string, annotations []llm.Annotation) string {
	sorted := append([]llm.Annotation(nil), annotations...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartIndex > sorted[j].StartIndex
	})

	runes := []rune(text)
	for _, a := range sorted {
		if !IsImage(a) {
			continue
		}
		if a.StartIndex < 0 || a.EndIndex > len(runes) || a.StartIndex > a.EndIndex {
			r.logger.Warn("annotation span out of range",
				zap.String("file_id", a.FileID),
				zap.Int("start", a.StartIndex),
				zap.Int("end", a.EndIndex))
			continue
		}

		url := r.makeFileURL(ctx, a.FileID, SimpleName(a.Text))
		r.logger.Debug("replacing file path", zap.String("path", a.Text), zap.String("url", url))

		replaced := make([]rune, 0, len(runes)+len(url))
		replaced = append(replaced, runes[:a.StartIndex]...)
		replaced = append(replaced, []rune(url)...)
		replaced = append(replaced, runes[a.EndIndex:]...)
		runes = replaced
	}
	return string(runes)
}

// ResolveCitations 将引用注解替换为 " [i]" 并在末尾追加脚注
func (r *Resolver) ResolveCitations(ctx context.Context, text string, annotations []llm.Annotation) string {
	var notes []string
	for i, a := range annotations {
		if IsImage(a) {
			continue
		}
		if a.Text != "" {
			text = strings.ReplaceAll(text, a.Text, fmt.Sprintf(" [%d]", i))
		}

		switch a.Type {
		case llm.AnnotationFileCitation:
			notes = append(notes, fmt.Sprintf("[%d] %s from %s", i, a.Quote, r.fileName(ctx, a.FileID)))
		case llm.AnnotationFilePath:
			notes = append(notes, fmt.Sprintf("[%d] Click <here> to download %s", i, r.fileName(ctx, a.FileID)))
		}
	}

	if len(notes) > 0 {
		text += "\n" + strings.Join(notes, "\n")
	}
	return text
}

func (r *Resolver) fileName(ctx context.Context, fileID string) string {
	if r.namer == nil {
		return fileID
	}
	name, err := r.namer.GetFileName(ctx, fileID)
	if err != nil || name == "" {
		r.logger.Warn("failed to look up file name", zap.String("file_id", fileID), zap.Error(err))
		return fileID
	}
	return name
}

// StripEmptyAnnotations 移除模型偶尔残留的 【n†...】 标记
func StripEmptyAnnotations(text string) string {
	return emptyAnnotation.ReplaceAllString(text, "")
}
