package repository

import (
	"fmt"
	"sort"

	"github.com/any-hub/resource-cache/internal/config"
)

// Registry 以名称索引所有仓库。
type Registry struct {
	repos map[string]*Repository
}

// NewRegistry 为每个仓库配置构造 Repository，名称重复时返回错误。
func NewRegistry(repos []config.RepositoryConfig, deps Deps) (*Registry, error) {
	registry := &Registry{repos: make(map[string]*Repository, len(repos))}
	for _, cfg := range repos {
		repo, err := New(cfg, deps)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(repo); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Register 加入一个仓库。
func (r *Registry) Register(repo *Repository) error {
	if r.repos == nil {
		r.repos = make(map[string]*Repository)
	}
	if _, exists := r.repos[repo.Name()]; exists {
		return fmt.Errorf("repository %s already registered", repo.Name())
	}
	r.repos[repo.Name()] = repo
	return nil
}

// Lookup 按名称查找仓库。
func (r *Registry) Lookup(name string) (*Repository, bool) {
	repo, ok := r.repos[name]
	return repo, ok
}

// Names 返回排序后的仓库名。
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.repos))
	for name := range r.repos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
