package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider 定义参考资料检索的通用接口。
// agentKey 用于按智能体过滤，task 用于关键词匹配。
type Provider interface {
	Query(agentKey, task string) []Snippet
}

// Snippet 描述可供大模型引用的一段财务参考资料。
type Snippet struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Agents   []string `json:"agents"`
	Keywords []string `json:"keywords"`
}

// StaticProvider 通过加载 JSON 文件提供静态检索能力。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态资料库实例。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{
		items:      items,
		maxResults: maxResults,
	}
}

// LoadStaticProvider 从 JSON 文件加载资料条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("资料库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析资料库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取资料库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Snippet
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析资料库文件失败: %w", err)
	}

	return NewStaticProvider(entries, maxResults), nil
}

// Query 按智能体与任务关键词做简单匹配，命中数量受 maxResults 限制。
func (p *StaticProvider) Query(agentKey, task string) []Snippet {
	if p == nil {
		return nil
	}

	agentKey = strings.ToLower(strings.TrimSpace(agentKey))
	task = strings.ToLower(strings.TrimSpace(task))

	results := make([]Snippet, 0, p.maxResults)
	for _, item := range p.items {
		if matches(item, agentKey, task) {
			results = append(results, item)
			if len(results) >= p.maxResults {
				break
			}
		}
	}
	return results
}

func matches(snippet Snippet, agentKey, task string) bool {
	if len(snippet.Agents) > 0 {
		found := false
		for _, agent := range snippet.Agents {
			if strings.ToLower(strings.TrimSpace(agent)) == agentKey {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(snippet.Keywords) == 0 {
		return true
	}
	for _, keyword := range snippet.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		if strings.Contains(task, normalized) {
			return true
		}
	}
	return false
}

var _ Provider = (*StaticProvider)(nil)
