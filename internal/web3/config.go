package web3

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Backend types understood by the connector.
const (
	BackendTypeRPC      = "rpc"
	BackendTypeInjected = "injected"
)

// ProviderDefinitions models the structure of configs/providers.yaml.
type ProviderDefinitions struct {
	Providers map[string]ProviderDefinition `yaml:"providers"`
}

// ProviderDefinition describes a single provider backend.
type ProviderDefinition struct {
	Type        string `yaml:"type"`
	URL         string `yaml:"url"`
	Order       int    `yaml:"order"`
	Description string `yaml:"description"`
}

// LoadProviderDefinitions parses the YAML file listing provider backends.
func LoadProviderDefinitions(path string) (ProviderDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ProviderDefinitions{Providers: map[string]ProviderDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ProviderDefinitions{}, fmt.Errorf("读取 provider 配置失败: %w", err)
	}

	var defs ProviderDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ProviderDefinitions{}, fmt.Errorf("解析 provider 配置失败: %w", err)
	}
	if defs.Providers == nil {
		defs.Providers = map[string]ProviderDefinition{}
	}
	for name, def := range defs.Providers {
		def.Type = strings.ToLower(strings.TrimSpace(def.Type))
		if def.Type == "" {
			def.Type = BackendTypeRPC
		}
		switch def.Type {
		case BackendTypeRPC:
			if strings.TrimSpace(def.URL) == "" {
				return ProviderDefinitions{}, fmt.Errorf("provider %s 缺少 url", name)
			}
		case BackendTypeInjected:
		default:
			return ProviderDefinitions{}, fmt.Errorf("provider %s 使用了不支持的类型 %s", name, def.Type)
		}
		defs.Providers[name] = def
	}
	return defs, nil
}

// Names returns provider names by Order, then name.
func (d ProviderDefinitions) Names() []string {
	names := make([]string, 0, len(d.Providers))
	for name := range d.Providers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := d.Providers[names[i]], d.Providers[names[j]]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return names[i] < names[j]
	})
	return names
}
