// pkg/registry/registry.go
package registry

import (
	"sort"
	"sync"

	"ubirescue/pkg/node"
	"ubirescue/pkg/types"
)

// Registry 把无序的节点日志折叠成“当前可见状态”
//
// 介质上的追加顺序是无关的：对每个逻辑键，只有 sqnum 最大的版本是权威的。
// 这正是日志重放 (journal replay) 的语义——新日志条目覆盖旧数据，
// 物理位置在前还是在后完全不影响结果。
//
// 更新规则对所有节点统一：
//   - 键不存在 -> 插入
//   - 已有条目的 sqnum 严格更小 -> 替换
//   - 否则 -> 当作陈旧版本丢弃
type Registry struct {
	mu sync.RWMutex

	inodes    map[types.InodeNum]*node.Inode
	fragments map[types.FragmentKey]*node.Data
	entries   map[types.EntryKey]*node.Dent
	xattrs    map[types.EntryKey]*node.Dent
	truncs    map[types.InodeNum]*node.Trunc
	orphans   map[types.InodeNum]struct{}

	super  *node.Superblock
	master *node.Master

	stale  int // 被更高 sqnum 淘汰的节点数
	opaque int // 未识别类型，仅保留计数
	frozen bool
}

func New() *Registry {
	return &Registry{
		inodes:    make(map[types.InodeNum]*node.Inode),
		fragments: make(map[types.FragmentKey]*node.Data),
		entries:   make(map[types.EntryKey]*node.Dent),
		xattrs:    make(map[types.EntryKey]*node.Dent),
		truncs:    make(map[types.InodeNum]*node.Trunc),
		orphans:   make(map[types.InodeNum]struct{}),
	}
}

// Replay 对解码后的节点序列做一次显式左折叠，返回最终状态
// 折叠完成后 Registry 即冻结：建树和内容拼装阶段只读，可以并发。
func Replay(nodes []node.Node) *Registry {
	r := New()
	for _, n := range nodes {
		r.Apply(n)
	}
	r.Freeze()
	return r
}

// Apply 把一个节点折叠进状态；返回它是否被保留 (false = 陈旧丢弃)
// 冻结之后调用会 panic：重放结束后的注册表是只读的。
func (r *Registry) Apply(n node.Node) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		panic("registry: Apply after Freeze")
	}

	switch v := n.(type) {
	case *node.Inode:
		return fold(r, r.inodes, v.Ino, v)
	case *node.Data:
		return fold(r, r.fragments, v.Key(), v)
	case *node.Dent:
		if v.Xattr {
			return fold(r, r.xattrs, v.Key(), v)
		}
		return fold(r, r.entries, v.Key(), v)
	case *node.Trunc:
		return fold(r, r.truncs, v.Ino, v)
	case *node.Orphan:
		// 孤儿列表是累积的取证证据，不参与版本归并
		for _, ino := range v.Inos {
			r.orphans[ino] = struct{}{}
		}
		return true
	case *node.Superblock:
		if r.super == nil || v.Seq().Newer(r.super.Seq()) {
			if r.super != nil {
				r.stale++
			}
			r.super = v
			return true
		}
		r.stale++
		return false
	case *node.Master:
		if r.master == nil || v.Seq().Newer(r.master.Seq()) {
			if r.master != nil {
				r.stale++
			}
			r.master = v
			return true
		}
		r.stale++
		return false
	case *node.Opaque:
		r.opaque++
		return true
	default:
		// PAD/REF/IDX/CS：对可见状态没有贡献
		return true
	}
}

// fold 是统一的 “sqnum 严格更大才替换” 规则
// stale 数的是被淘汰的版本，无论新旧哪个先被扫到：
// 输家是刚到的节点还是已有的条目，淘汰都发生了一次。
func fold[K comparable, N node.Node](r *Registry, m map[K]N, key K, incoming N) bool {
	if existing, ok := m[key]; ok {
		if !incoming.Seq().Newer(existing.Seq()) {
			r.stale++
			return false
		}
		r.stale++
	}
	m[key] = incoming
	return true
}

// Freeze 宣告重放结束
// 之后注册表进入只读模式，读侧不再需要担心写竞争。
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// -----------------------------------------------------------------------------
// 只读访问 (重放结束后使用)
// -----------------------------------------------------------------------------

// Inode 返回某个 inode 编号的权威版本；不存在时返回 nil
func (r *Registry) Inode(ino types.InodeNum) *node.Inode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inodes[ino]
}

// Inodes 返回所有已知 inode 编号，升序
func (r *Registry) Inodes() []types.InodeNum {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.InodeNum, 0, len(r.inodes))
	for ino := range r.inodes {
		out = append(out, ino)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Fragments 返回某个文件的全部权威数据片段，按块序号升序
func (r *Registry) Fragments(ino types.InodeNum) []*node.Data {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*node.Data
	for key, frag := range r.fragments {
		if key.Ino == ino {
			out = append(out, frag)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Block < out[j].Block })
	return out
}

// Children 返回 parent 目录下的权威目录项，按名字升序
// Ino 为 0 的删除标记仍会返回——排除它们是建树阶段的语义决策。
func (r *Registry) Children(parent types.InodeNum) []*node.Dent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*node.Dent
	for key, d := range r.entries {
		if key.Parent == parent {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Entries 返回全部权威目录项 (不含 xattr)，按 (父, 名字) 升序
func (r *Registry) Entries() []*node.Dent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*node.Dent, 0, len(r.entries))
	for _, d := range r.entries {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Parent != out[j].Parent {
			return out[i].Parent < out[j].Parent
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Trunc 返回某个 inode 最新的截断记录；没有则为 nil
func (r *Registry) Trunc(ino types.InodeNum) *node.Trunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.truncs[ino]
}

// Orphans 返回孤儿 inode 编号，升序
// 这只是证据：出现在这里不代表数据一定没了，也不代表一定能恢复。
func (r *Registry) Orphans() []types.InodeNum {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.InodeNum, 0, len(r.orphans))
	for ino := range r.orphans {
		out = append(out, ino)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsOrphan 检查某个 inode 是否出现在孤儿列表里
func (r *Registry) IsOrphan(ino types.InodeNum) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.orphans[ino]
	return ok
}

// Superblock 返回最新的超级块 (可能为 nil)
func (r *Registry) Superblock() *node.Superblock {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.super
}

// Master 返回最新的主节点 (可能为 nil)
func (r *Registry) Master() *node.Master {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.master
}

// Counts 返回重放统计：各映射的条目数和陈旧丢弃数
type Counts struct {
	Inodes    int
	Fragments int
	Entries   int
	Xattrs    int
	Truncs    int
	Orphans   int
	Stale     int
	Opaque    int
}

func (r *Registry) Counts() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Counts{
		Inodes:    len(r.inodes),
		Fragments: len(r.fragments),
		Entries:   len(r.entries),
		Xattrs:    len(r.xattrs),
		Truncs:    len(r.truncs),
		Orphans:   len(r.orphans),
		Stale:     r.stale,
		Opaque:    r.opaque,
	}
}
