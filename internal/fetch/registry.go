package fetch

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry 保存调用方注册的额外前缀策略（如 "cdn://"），在内置 scheme 都不匹配时查询。
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry 返回空注册表。
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register 登记 prefix → strategy，重复前缀返回错误。
func (r *Registry) Register(prefix string, strategy Strategy) error {
	key := normalizePrefix(prefix)
	if key == "" {
		return fmt.Errorf("strategy prefix is required")
	}
	if strategy == nil {
		return fmt.Errorf("strategy for %s is nil", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.strategies[key]; exists {
		return fmt.Errorf("strategy %s already registered", key)
	}
	r.strategies[key] = strategy
	return nil
}

// MustRegister 在注册失败时 panic，适合启动阶段调用。
func (r *Registry) MustRegister(prefix string, strategy Strategy) {
	if err := r.Register(prefix, strategy); err != nil {
		panic(err)
	}
}

// Lookup 返回与 locator 匹配的最长前缀策略。
func (r *Registry) Lookup(locator string) (Strategy, bool) {
	if r == nil {
		return nil, false
	}
	lowered := strings.ToLower(locator)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best    Strategy
		bestLen int
	)
	for prefix, strategy := range r.strategies {
		if strings.HasPrefix(lowered, prefix) && len(prefix) > bestLen {
			best, bestLen = strategy, len(prefix)
		}
	}
	return best, best != nil
}

// Prefixes 返回排序后的已注册前缀，供诊断接口输出。
func (r *Registry) Prefixes() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.strategies) == 0 {
		return nil
	}
	keys := make([]string, 0, len(r.strategies))
	for key := range r.strategies {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizePrefix(prefix string) string {
	return strings.ToLower(strings.TrimSpace(prefix))
}
