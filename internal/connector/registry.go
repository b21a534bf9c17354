package connector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	xerrors "OpenMCP-Wallet/internal/errors"
	"OpenMCP-Wallet/internal/web3"
	"OpenMCP-Wallet/pkg/logger"
)

// Options 对应 provider 选择机制的初始化参数。
type Options struct {
	// CacheProvider 为 true 时记住上一次选择，下次连接直接复用。
	CacheProvider bool
	// Backends 按展示顺序排列。
	Backends []Backend
	// DisableInjectedProvider 过滤掉进程内自动检测到的 provider。
	DisableInjectedProvider bool
	Cache                   Cache
	Selector                Selector
}

// Selection 是一次成功选择的结果。
type Selection struct {
	Name string
	Raw  web3.Raw
}

// Registry 是进程级的 provider 选择机制，只初始化一次，直到进程退出才释放。
type Registry struct {
	opts Options
	log  *slog.Logger

	mu       sync.RWMutex
	ready    bool
	backends map[string]Backend
	order    []string
}

// NewRegistry 创建尚未初始化的注册表。
func NewRegistry(opts Options) *Registry {
	if opts.Cache == nil {
		opts.Cache = NewMemoryCache()
	}
	if opts.Selector == nil {
		opts.Selector = ContextSelector{}
	}
	return &Registry{opts: opts, log: logger.Named("connector")}
}

// Initialize 校验并登记 backend。成功后再次调用不会重复初始化。
func (r *Registry) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	backends := make(map[string]Backend, len(r.opts.Backends))
	order := make([]string, 0, len(r.opts.Backends))
	for _, b := range r.opts.Backends {
		if b == nil {
			continue
		}
		if b.Injected() && r.opts.DisableInjectedProvider {
			continue
		}
		name := strings.TrimSpace(b.Name())
		if name == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "provider 名称不能为空")
		}
		if _, dup := backends[name]; dup {
			return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("provider %s 重复", name))
		}
		backends[name] = b
		order = append(order, name)
	}
	if len(order) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "未配置任何 provider")
	}

	r.backends = backends
	r.order = order
	r.ready = true
	r.log.Info("connector 已就绪", slog.Any("providers", order), slog.Bool("cache_provider", r.opts.CacheProvider))
	return nil
}

// Ready 表示 Initialize 是否已成功完成。
func (r *Registry) Ready() bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

// Providers 返回可选 provider 名称。
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Connect 选出 provider 并返回其原始句柄。ok 为 false 表示用户取消了选择。
// 选择只有在调用方确认会话建立后通过 Remember 写入缓存。
func (r *Registry) Connect(ctx context.Context) (sel Selection, ok bool, err error) {
	r.mu.RLock()
	ready := r.ready
	backends := r.backends
	order := r.order
	r.mu.RUnlock()
	if !ready {
		return Selection{}, false, xerrors.New(xerrors.CodeNotInitialized, "")
	}

	name := ""
	if r.opts.CacheProvider {
		cached, err := r.opts.Cache.Load(ctx)
		if err != nil {
			return Selection{}, false, xerrors.Wrap(xerrors.CodeCacheFailure, err, "读取已选 provider 失败")
		}
		if _, known := backends[cached]; known {
			name = cached
		} else if cached != "" {
			r.log.Warn("忽略未知的缓存 provider", slog.String("provider", cached))
		}
	}

	if name == "" {
		name, err = r.opts.Selector.Select(ctx, order)
		if err != nil {
			return Selection{}, false, err
		}
		if name == "" {
			return Selection{}, false, nil
		}
	}

	backend, known := backends[name]
	if !known {
		return Selection{}, false, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的 provider: %s", name))
	}
	raw, err := backend.Connect(ctx)
	if err != nil {
		return Selection{}, false, xerrors.Wrap(xerrors.CodeProviderUnavailable, err, "", xerrors.WithMetadata("provider", name))
	}
	if raw.IsZero() {
		return Selection{}, false, nil
	}
	return Selection{Name: name, Raw: raw}, true, nil
}

// Remember 在会话成功建立后记录选择。未开启缓存时不做任何事。
// Connect 本身不写缓存，失败的连接不会留下选择。
func (r *Registry) Remember(ctx context.Context, name string) error {
	if !r.opts.CacheProvider || name == "" {
		return nil
	}
	if err := r.opts.Cache.Store(ctx, name); err != nil {
		return xerrors.Wrap(xerrors.CodeCacheFailure, err, "记录已选 provider 失败")
	}
	return nil
}

// ClearCachedProvider 清除已缓存的选择，可重复调用。
func (r *Registry) ClearCachedProvider(ctx context.Context) error {
	if err := r.opts.Cache.Clear(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeCacheFailure, err, "清除已选 provider 失败")
	}
	return nil
}

// Close 在进程退出时释放缓存连接。
func (r *Registry) Close() error {
	if closer, ok := r.opts.Cache.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
