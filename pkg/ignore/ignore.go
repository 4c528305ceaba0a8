package ignore

import (
	"os"

	gitignore "github.com/sabhiram/go-gitignore"
)

// Matcher 封装抽取过滤逻辑
// 它负责判断恢复树里的某条路径是否应该跳过物化
type Matcher struct {
	ignorer *gitignore.GitIgnore
}

// NewMatcher 初始化过滤匹配器
// rulePath: .ubrignore 规则文件 (gitignore 语法)，可以为空
//
// 规则只影响落盘，不影响扫描和建树：被过滤的对象仍然出现在
// 树视图和清单里，只是不写进输出目录。大镜像排查时常用它
// 只抽 /etc 或 /home 这类关心的子树。
func NewMatcher(rulePath string) (*Matcher, error) {
	// 默认规则：恢复树里这些名字几乎一定是巨大的噪音
	defaultRules := []string{
		// --- 运行期产物 ---
		"proc/", // procfs 挂载点残留
		"sys/",
		"dev/",
	}

	var ignorer *gitignore.GitIgnore
	var err error

	if rulePath != "" {
		if _, errStat := os.Stat(rulePath); errStat == nil {
			// 用户规则和默认规则合并编译
			ignorer, err = gitignore.CompileIgnoreFileAndLines(rulePath, defaultRules...)
		} else {
			return nil, errStat
		}
	} else {
		ignorer = gitignore.CompileIgnoreLines(defaultRules...)
	}

	if err != nil {
		return nil, err
	}

	return &Matcher{ignorer: ignorer}, nil
}

// Matches 检查给定的路径是否匹配过滤规则
// path: 相对于恢复树根的相对路径 (例如 "var/log/messages")
// 返回: true 表示跳过 (Skip), false 表示物化 (Keep)
func (m *Matcher) Matches(path string) bool {
	if m.ignorer == nil {
		return false
	}
	return m.ignorer.MatchesPath(path)
}
