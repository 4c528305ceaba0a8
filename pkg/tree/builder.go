package tree

import (
	"sort"

	"ubirescue/pkg/node"
	"ubirescue/pkg/registry"
	"ubirescue/pkg/types"
)

// 目录结构在健康的镜像上是一棵树，但恢复时必须按“可能损坏的图”对待：
// 硬链接让它变成 DAG，损坏的目录项甚至能造出环。
// 所以对象放在以 inode 为索引的 arena 里，名字绑定作为独立的边存储，
// 而不是用嵌套的所有权结构——多重绑定和环都表达得出来，也不会产生所有权环。

// Object 是一个恢复出的文件系统对象 (inode 粒度，与名字无关)
// 同一个对象可以有多条名字绑定 (硬链接)，内容只有一份。
type Object struct {
	Ino    types.InodeNum
	Inode  *node.Inode
	Kind   node.Kind
	Status types.Status

	// Orphan: inode 出现在孤儿列表里 (只读取证线索，不影响物化)
	Orphan bool

	// Bindings 是指向该对象的所有名字绑定，发现顺序
	Bindings []*Binding
}

// Binding 是一条 “父目录 + 名字 -> 子 inode” 的边
type Binding struct {
	Parent types.InodeNum
	Name   string
	Child  types.InodeNum
	Status types.Status
}

// Tree 是建好的目录图加诊断信息
type Tree struct {
	objects  map[types.InodeNum]*Object
	children map[types.InodeNum][]*Binding

	Dangling []*Binding // 指向缺失 inode 的目录项：排除在树外，保留在统计里
	Cycles   []*Binding // 指回祖先的目录项：该分支不再下降
	Orphans  []types.InodeNum
}

// Root 返回根对象
func (t *Tree) Root() *Object { return t.objects[types.RootInode] }

// Object 按 inode 查对象；不可达或缺失时返回 nil
func (t *Tree) Object(ino types.InodeNum) *Object { return t.objects[ino] }

// Children 返回某目录下纳入树的绑定，按名字升序
func (t *Tree) Children(ino types.InodeNum) []*Binding { return t.children[ino] }

// Objects 返回所有可达对象，inode 升序
func (t *Tree) Objects() []*Object {
	out := make([]*Object, 0, len(t.objects))
	for _, obj := range t.objects {
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ino < out[j].Ino })
	return out
}

// Build 从众所周知的根 inode 出发，把注册表里的目录项织成可导航的名字图
//
// 语义决策都在这里：
//   - 删除标记 (目标 inode 为 0) 和 "."/".." 不进树
//   - 子 inode 在注册表里没有元数据 -> Dangling，树外但计数
//   - 子目录是当前路径上的祖先 -> CycleDetected，停止下降而不是死循环
//   - 同一个子 inode 被多条边指到 -> 硬链接：单个对象、多条绑定，内容不复制
func Build(reg *registry.Registry) *Tree {
	b := &builder{
		reg: reg,
		t: &Tree{
			objects:  make(map[types.InodeNum]*Object),
			children: make(map[types.InodeNum][]*Binding),
		},
		onPath: make(map[types.InodeNum]bool),
	}

	b.t.Orphans = reg.Orphans()

	// 根对象：就算根 inode 的元数据本身丢了，也要给恢复出的孩子一个挂载点
	rootIno := reg.Inode(types.RootInode)
	root := &Object{Ino: types.RootInode, Inode: rootIno, Kind: node.KindDir}
	if rootIno != nil {
		root.Kind = rootIno.Kind()
	}
	root.Orphan = reg.IsOrphan(types.RootInode)
	b.t.objects[types.RootInode] = root

	b.descend(types.RootInode)
	return b.t
}

type builder struct {
	reg    *registry.Registry
	t      *Tree
	onPath map[types.InodeNum]bool // 当前 DFS 路径上的目录 (环检测)
}

func (b *builder) descend(dir types.InodeNum) {
	b.onPath[dir] = true
	defer delete(b.onPath, dir)

	for _, dent := range b.reg.Children(dir) {
		if dent.Ino == 0 || dent.Name == "." || dent.Name == ".." {
			continue
		}

		binding := &Binding{Parent: dir, Name: dent.Name, Child: dent.Ino}

		// 环：子节点已经在当前路径上，标记后停在这里
		if b.onPath[dent.Ino] {
			binding.Status = types.StatusCycleDetected
			b.t.Cycles = append(b.t.Cycles, binding)
			if obj := b.t.objects[dent.Ino]; obj != nil {
				obj.Status |= types.StatusCycleDetected
			}
			continue
		}

		ino := b.reg.Inode(dent.Ino)
		if ino == nil {
			// 元数据缺失 ≠ 已删除：这是证据不足，不是结论
			binding.Status = types.StatusDangling
			b.t.Dangling = append(b.t.Dangling, binding)
			continue
		}

		obj, seen := b.t.objects[dent.Ino]
		if !seen {
			obj = &Object{
				Ino:    dent.Ino,
				Inode:  ino,
				Kind:   ino.Kind(),
				Orphan: b.reg.IsOrphan(dent.Ino),
			}
			b.t.objects[dent.Ino] = obj
		}
		obj.Bindings = append(obj.Bindings, binding)
		b.t.children[dir] = append(b.t.children[dir], binding)

		// 目录只在第一次遇到时展开：
		// 第二条指向同一目录的边是共享 (硬链接)，孩子已经建好，不重复下降。
		if obj.Kind == node.KindDir && !seen {
			b.descend(dent.Ino)
		}
	}

	sort.Slice(b.t.children[dir], func(i, j int) bool {
		return b.t.children[dir][i].Name < b.t.children[dir][j].Name
	})
}

// Stats 汇总树的构成，report 输出用
type Stats struct {
	Objects   int
	Files     int
	Dirs      int
	Symlinks  int
	Hardlinks int // 拥有多于一条绑定的对象数
	Dangling  int
	Cycles    int
	Orphans   int
}

func (t *Tree) Stats() Stats {
	s := Stats{
		Objects:  len(t.objects),
		Dangling: len(t.Dangling),
		Cycles:   len(t.Cycles),
		Orphans:  len(t.Orphans),
	}
	for _, obj := range t.objects {
		switch obj.Kind {
		case node.KindFile:
			s.Files++
		case node.KindDir:
			s.Dirs++
		case node.KindSymlink:
			s.Symlinks++
		}
		if len(obj.Bindings) > 1 {
			s.Hardlinks++
		}
	}
	return s
}
