package provider

import (
	"context"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/core"
	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm/protocol/ollama"
)

// ═══════════════════════════════════════════════════════════════════════════
// Ollama Provider
// ═══════════════════════════════════════════════════════════════════════════

// OllamaProvider Ollama 本地服务 Provider
//
// 在对话接口之外提供模型管理：
//
//	p, _ := provider.Ollama()
//	if ok, _ := p.ModelExists(ctx, "qwen3:8b"); !ok {
//	    _ = p.PullModel(ctx, "qwen3:8b")
//	}
type OllamaProvider struct {
	*core.Client
	adapter *ollama.Adapter
}

// Ollama 创建 Ollama Provider（默认 http://localhost:11434）
func Ollama(opts ...Option) (*OllamaProvider, error) {
	s := newSettings(llm.ProviderTypeOllama, opts)
	adapter := ollama.NewAdapter(s.apiKey)
	client, err := core.NewClient(s.clientConfig(), adapter)
	if err != nil {
		return nil, err
	}
	return &OllamaProvider{Client: client, adapter: adapter}, nil
}

// PullModel 拉取模型，阻塞到拉取完成
//
// 大模型的拉取可能远超默认超时，需要时通过 WithTimeout 调大。
func (p *OllamaProvider) PullModel(ctx context.Context, model string) error {
	req, err := p.adapter.PullRequest(model)
	if err != nil {
		return err
	}
	body, err := p.Do(ctx, req)
	if err != nil {
		return err
	}
	return p.adapter.ParseStatus(body)
}

// DeleteModel 删除本地模型
func (p *OllamaProvider) DeleteModel(ctx context.Context, model string) error {
	req, err := p.adapter.DeleteRequest(model)
	if err != nil {
		return err
	}
	_, err = p.Do(ctx, req)
	return err
}

// ShowModel 查询模型信息
func (p *OllamaProvider) ShowModel(ctx context.Context, model string) (*ollama.ModelInfo, error) {
	req, err := p.adapter.ShowRequest(model)
	if err != nil {
		return nil, err
	}
	body, err := p.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return p.adapter.ParseShow(body)
}

// ModelExists 检查模型是否已在本地
//
// 模型不存在时返回 (false, nil)，其他错误原样返回。
func (p *OllamaProvider) ModelExists(ctx context.Context, model string) (bool, error) {
	_, err := p.ShowModel(ctx, model)
	switch {
	case err == nil:
		return true, nil
	case llm.IsKind(err, llm.ErrKindNotFound):
		return false, nil
	default:
		return false, err
	}
}

var _ llm.Provider = (*OllamaProvider)(nil)
