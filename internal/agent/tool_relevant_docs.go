package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"resumind/internal/constants"
	"resumind/internal/logger"
	"resumind/internal/storage"
	"resumind/internal/tracing"
	"resumind/internal/types"
)

// contextualQueryTemplate 检索时在原始问题外包一层检索语境，
// %s 为用户原始问题。
const contextualQueryTemplate = "Carikan contoh resume, CV, dan kriteria kandidat yang paling relevan untuk pertanyaan ini: %s"

// RelevantDocsTool 实现 get_relevant_docs 检索工具：
// 把模型给出的查询和可选的类别过滤条件翻译成一次向量搜索，
// 并把命中的候选人文档格式化为模型可读的文本块。
type RelevantDocsTool struct {
	name              string
	embedder          embedding.Embedder
	searcher          storage.VectorSearcher
	contentPayloadKey string
	topK              int
}

// NewRelevantDocsTool 创建检索工具。contentPayloadKey 是Qdrant payload里
// 存简历全文的字段名，topK<=0 时回退到默认值5。
func NewRelevantDocsTool(embedder embedding.Embedder, searcher storage.VectorSearcher, contentPayloadKey string, topK int) (*RelevantDocsTool, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder不能为nil", types.ErrInitialization)
	}
	if searcher == nil {
		return nil, fmt.Errorf("%w: 向量搜索客户端不能为nil", types.ErrInitialization)
	}

	key := strings.TrimSpace(contentPayloadKey)
	if key == "" {
		key = "resume_text"
	}
	if topK <= 0 {
		topK = constants.DefaultSearchTopK
	}

	return &RelevantDocsTool{
		name:              constants.RelevantDocsToolName,
		embedder:          embedder,
		searcher:          searcher,
		contentPayloadKey: key,
		topK:              topK,
	}, nil
}

// Info 返回工具元信息，符合 tool.BaseTool 接口。
// 描述保持与索引数据同语言，模型据此决定何时调用以及如何填参数。
func (t *RelevantDocsTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: t.name,
		Desc: "Cari contoh resume, CV, dan kriteria kandidat yang relevan dari database. Gunakan category_filter untuk membatasi pencarian ke satu kategori pekerjaan tertentu, atau 'NONE' untuk mencari di semua kategori.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     "string",
				Desc:     "Pertanyaan atau kata kunci pencarian, misalnya: kriteria HR Manager yang baik",
				Required: true,
			},
			"category_filter": {
				Type: "string",
				Desc: "Kategori pekerjaan untuk memfilter hasil, misalnya: HR, ENGINEERING, FINANCE. Isi 'NONE' jika tidak perlu filter.",
			},
		}),
	}, nil
}

// InvokableRun 执行一次检索，符合 tool.InvokableTool 接口。
// 失败时返回的错误包装 types.ErrRetrieval，由编排器决定降级行为。
func (t *RelevantDocsTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	tracer := otel.Tracer("resumind/agent")
	ctx, span := tracer.Start(ctx, "tool.get_relevant_docs")
	defer span.End()

	var args struct {
		Query          string `json:"query"`
		CategoryFilter string `json:"category_filter,omitempty"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		wrapped := fmt.Errorf("%w: 解析工具参数JSON失败: %v", types.ErrRetrieval, err)
		tracing.RecordError(span, wrapped, tracing.ErrorTypeValidation)
		return "", wrapped
	}
	if strings.TrimSpace(args.Query) == "" {
		wrapped := fmt.Errorf("%w: 工具参数query为空", types.ErrRetrieval)
		tracing.RecordError(span, wrapped, tracing.ErrorTypeValidation)
		return "", wrapped
	}

	filterValue, filter := normalizeCategoryFilter(args.CategoryFilter)
	contextualQuery := fmt.Sprintf(contextualQueryTemplate, args.Query)

	span.SetAttributes(
		attribute.String("retrieval.query", tracing.SafeQueryContent(args.Query)),
		attribute.String("retrieval.category_filter", filterValue),
		attribute.Int("retrieval.top_k", t.topK),
	)
	logger.Info().
		Str("query", tracing.TruncateString(args.Query, constants.ToolLogQueryLimit)).
		Str("category_filter", filterValue).
		Msg("执行向量检索")

	vectors, err := t.embedder.EmbedStrings(ctx, []string{contextualQuery})
	if err != nil {
		wrapped := fmt.Errorf("%w: 查询向量化失败: %v", types.ErrRetrieval, err)
		tracing.RecordError(span, wrapped, tracing.ErrorTypeEmbedding)
		return "", wrapped
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		wrapped := fmt.Errorf("%w: embedder返回了空向量", types.ErrRetrieval)
		tracing.RecordError(span, wrapped, tracing.ErrorTypeEmbedding)
		return "", wrapped
	}

	results, err := t.searcher.SearchCandidates(ctx, vectors[0], t.topK, filter)
	if err != nil {
		wrapped := fmt.Errorf("%w: 向量搜索失败: %v", types.ErrRetrieval, err)
		tracing.RecordError(span, wrapped, tracing.ErrorTypeVectorDB)
		return "", wrapped
	}

	span.SetAttributes(attribute.Int("retrieval.hits", len(results)))
	span.SetStatus(codes.Ok, "")

	if len(results) == 0 {
		return "Tidak ada dokumen relevan yang ditemukan di database.", nil
	}

	return t.formatResults(results), nil
}

// formatResults 把搜索命中按固定格式拼接：
//
//	Category: <类别或N/A>
//	Resume: <简历文本>
//
// 各候选人之间用 constants.CandidateDelimiter 分隔。
func (t *RelevantDocsTool) formatResults(results []storage.SearchResult) string {
	blocks := make([]string, 0, len(results))
	for _, res := range results {
		doc := t.toCandidateDoc(res)
		category := doc.Category
		if category == "" {
			category = "N/A"
		}
		blocks = append(blocks, fmt.Sprintf("Category: %s\nResume: %s", category, doc.ResumeText))
	}
	return strings.Join(blocks, constants.CandidateDelimiter)
}

// toCandidateDoc 把Qdrant的payload投影为候选人记录，缺失字段留空
func (t *RelevantDocsTool) toCandidateDoc(res storage.SearchResult) types.CandidateDoc {
	doc := types.CandidateDoc{}
	if v, ok := res.Payload["category"]; ok {
		if s, ok := v.(string); ok {
			doc.Category = strings.TrimSpace(s)
		}
	}
	if v, ok := res.Payload[t.contentPayloadKey]; ok {
		if s, ok := v.(string); ok {
			doc.ResumeText = s
		}
	}
	return doc
}

// normalizeCategoryFilter 把模型给出的类别参数归一化：
// 空串和任意大小写的 "NONE" 都表示不过滤；其余值转为大写后
// 构造成对 category 字段的等值过滤条件。
// 返回值第一项是规整后的参数（用于日志），第二项是Qdrant过滤器。
func normalizeCategoryFilter(raw string) (string, map[string]any) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, constants.CategoryFilterNone) {
		return constants.CategoryFilterNone, nil
	}
	upper := strings.ToUpper(trimmed)
	return upper, storage.EqualityFilter("category", upper)
}

var _ tool.BaseTool = (*RelevantDocsTool)(nil)
var _ tool.InvokableTool = (*RelevantDocsTool)(nil)
