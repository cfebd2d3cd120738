// Package filter applies the user's inclusion/exclusion rules to raw
// descriptors before they are diffed.
package filter

import (
	"fmt"
	"strings"

	"github.com/Hara602/usbwatch/internal/model"
	"github.com/gobwas/glob"
)

// Rules 用户声明的过滤规则，一个监控会话内不可变
type Rules struct {
	NamePatterns    []string          `json:"name_patterns,omitempty"`
	IgnoredVendors  []model.ID        `json:"ignored_vendors,omitempty"`
	IgnoredProducts []model.ID        `json:"ignored_products,omitempty"`
	AllowedClasses  []model.ClassCode `json:"allowed_classes"` // nil 表示允许所有 class
}

// PatternError 名称模式无法编译
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid name pattern %q: %v", e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }

type matcher func(s string) bool

// Pipeline 编译后的规则
type Pipeline struct {
	vendors  map[model.ID]struct{}
	products map[model.ID]struct{}
	classes  map[model.ClassCode]struct{} // nil = allow all
	patterns []matcher
}

// New 编译规则。不含通配符的模式按子串匹配 ("camera" 匹配 "Integrated Camera")，
// 含通配符的模式需要匹配整个字符串。所有比较忽略大小写。
func New(rules Rules) (*Pipeline, error) {
	p := &Pipeline{
		vendors:  make(map[model.ID]struct{}, len(rules.IgnoredVendors)),
		products: make(map[model.ID]struct{}, len(rules.IgnoredProducts)),
	}
	for _, v := range rules.IgnoredVendors {
		p.vendors[v] = struct{}{}
	}
	for _, v := range rules.IgnoredProducts {
		p.products[v] = struct{}{}
	}
	if rules.AllowedClasses != nil {
		p.classes = make(map[model.ClassCode]struct{}, len(rules.AllowedClasses))
		for _, c := range rules.AllowedClasses {
			p.classes[c] = struct{}{}
		}
	}

	for _, raw := range rules.NamePatterns {
		pattern := strings.ToLower(strings.TrimSpace(raw))
		if pattern == "" {
			return nil, &PatternError{Pattern: raw, Err: fmt.Errorf("empty pattern")}
		}
		if !strings.ContainsAny(pattern, `*?[]{}\`) {
			p.patterns = append(p.patterns, func(s string) bool {
				return strings.Contains(s, pattern)
			})
			continue
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, &PatternError{Pattern: raw, Err: err}
		}
		p.patterns = append(p.patterns, g.Match)
	}
	return p, nil
}

// Apply 返回满足规则的描述符，保持原顺序，不修改输入
func (p *Pipeline) Apply(descs []model.DeviceDescriptor) []model.DeviceDescriptor {
	out := make([]model.DeviceDescriptor, 0, len(descs))
	for _, d := range descs {
		if p.Retain(d) {
			out = append(out, d)
		}
	}
	return out
}

// Retain 单个描述符是否保留
func (p *Pipeline) Retain(d model.DeviceDescriptor) bool {
	if _, ok := p.vendors[d.VendorID]; ok {
		return false
	}
	if _, ok := p.products[d.ProductID]; ok {
		return false
	}
	if p.classes != nil {
		if _, ok := p.classes[d.Class]; !ok {
			return false
		}
	}
	if len(p.patterns) == 0 {
		return true
	}

	// 厂商和产品名都没有时算不匹配
	names := make([]string, 0, 2)
	if d.Manufacturer != "" {
		names = append(names, strings.ToLower(d.Manufacturer))
	}
	if d.Product != "" {
		names = append(names, strings.ToLower(d.Product))
	}
	for _, match := range p.patterns {
		for _, n := range names {
			if match(n) {
				return true
			}
		}
	}
	return false
}

// Apply 一次性编译并应用规则
func Apply(descs []model.DeviceDescriptor, rules Rules) ([]model.DeviceDescriptor, error) {
	p, err := New(rules)
	if err != nil {
		return nil, err
	}
	return p.Apply(descs), nil
}
