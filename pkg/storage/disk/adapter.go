package disk

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"ubirescue/pkg/storage"
)

// Adapter 把恢复出的树写到本地目录，实现 storage.Destination
type Adapter struct {
	rootPath string
}

func NewAdapter(root string) *Adapter {
	return &Adapter{rootPath: root}
}

// resolve 把树内的斜杠路径翻译成输出根下的物理路径
func (a *Adapter) resolve(path string) string {
	return filepath.Join(a.rootPath, filepath.FromSlash(path))
}

// Prepare 保证幂等语义：
// 非空目标 + 非 force -> 拒绝；force -> 清空重建。
func (a *Adapter) Prepare(ctx context.Context, force bool) error {
	entries, err := os.ReadDir(a.rootPath)
	switch {
	case os.IsNotExist(err):
		// 不存在就直接建
	case err != nil:
		return fmt.Errorf("inspect destination: %w", err)
	case len(entries) > 0:
		if !force {
			return storage.ErrNotEmpty
		}
		if err := os.RemoveAll(a.rootPath); err != nil {
			return fmt.Errorf("reset destination: %w", err)
		}
	}
	return os.MkdirAll(a.rootPath, 0o755)
}

func (a *Adapter) MkdirAll(ctx context.Context, path string) error {
	return os.MkdirAll(a.resolve(path), 0o755)
}

func (a *Adapter) WriteFile(ctx context.Context, path string, content []byte, mode uint32, mtime time.Time) error {
	target := a.resolve(path)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	// 原子写：先写临时文件再 Rename，目标上要么没有文件，要么是完整的
	tmp, err := os.CreateTemp(filepath.Dir(target), "ubr-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return err
	}

	// 能救回多少元数据就恢复多少；设不上权限/时间不算失败
	perm := os.FileMode(mode & 0o7777)
	if perm != 0 {
		_ = os.Chmod(target, perm)
	}
	if !mtime.IsZero() {
		_ = os.Chtimes(target, mtime, mtime)
	}
	return nil
}

func (a *Adapter) Symlink(ctx context.Context, path, target string) error {
	link := a.resolve(path)
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return err
	}
	// 重放 force 重建时链接可能残留，先移除
	if _, err := os.Lstat(link); err == nil {
		_ = os.Remove(link)
	}
	return os.Symlink(target, link)
}

func (a *Adapter) Link(ctx context.Context, path, existing string) error {
	target := a.resolve(path)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if err := os.Link(a.resolve(existing), target); err != nil {
		// 某些文件系统 (FAT 导出等) 没有硬链接，退化为复制
		return copyFile(a.resolve(existing), target)
	}
	return nil
}

func (a *Adapter) PutManifest(ctx context.Context, name string, data []byte) error {
	return os.WriteFile(filepath.Join(a.rootPath, name), data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
