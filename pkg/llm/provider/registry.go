package provider

import (
	"errors"
	"sort"
	"sync"

	"github.com/lwmacct/251218-go-pkg-llm-connector/pkg/llm"
)

// ═══════════════════════════════════════════════════════════════════════════
// Provider 注册表
// ═══════════════════════════════════════════════════════════════════════════

// Registry 按名称管理多个 Provider，可以被多个 goroutine 并发使用
//
//	reg := provider.NewRegistry()
//	reg.Register("fast", deepseek)
//	reg.Register("smart", claude)
//
//	p, err := reg.Get("fast")
type Registry struct {
	mu        sync.RWMutex
	providers map[string]llm.Provider
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]llm.Provider)}
}

// NewRegistryFromConfig 按配置文件内容创建全部 Provider
//
// 任一 Provider 创建失败时，已创建的 Provider 会被关闭。
func NewRegistryFromConfig(fc *FileConfig, opts ...Option) (*Registry, error) {
	if fc == nil {
		return nil, llm.NewConfigError("config is required", nil)
	}
	reg := NewRegistry()
	table := fc.ThinkingTable()
	for _, name := range fc.Names() {
		cfg := fc.Providers[name]
		p, err := New(&cfg, append([]Option{WithThinkingTable(table)}, opts...)...)
		if err != nil {
			_ = reg.Close()
			return nil, llm.NewConfigError("create provider "+name, err)
		}
		reg.Register(name, p)
	}
	return reg, nil
}

// NewRegistryFromFile 读取 YAML 配置文件并创建注册表
func NewRegistryFromFile(name string, opts ...Option) (*Registry, error) {
	fc, err := LoadConfigFile(name)
	if err != nil {
		return nil, err
	}
	return NewRegistryFromConfig(fc, opts...)
}

// Register 注册 Provider，同名时替换并返回旧的 Provider
func (r *Registry) Register(name string, p llm.Provider) llm.Provider {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.providers[name]
	r.providers[name] = p
	return old
}

// Get 按名称获取 Provider
func (r *Registry) Get(name string) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, llm.NewConfigError("provider not registered: "+name, nil)
	}
	return p, nil
}

// MustGet 按名称获取 Provider，不存在时 panic
func (r *Registry) MustGet(name string) llm.Provider {
	p, err := r.Get(name)
	if err != nil {
		panic(err)
	}
	return p
}

// Has 检查名称是否已注册
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

// Names 返回按字母序排列的名称
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len 返回已注册的数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// Remove 移除并返回 Provider（不关闭）
func (r *Registry) Remove(name string) (llm.Provider, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[name]
	delete(r.providers, name)
	return p, ok
}

// Close 关闭并移除全部 Provider
func (r *Registry) Close() error {
	r.mu.Lock()
	providers := r.providers
	r.providers = make(map[string]llm.Provider)
	r.mu.Unlock()

	var errs []error
	for _, p := range providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
