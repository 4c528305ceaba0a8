package commands

import (
	"context"
	"errors"
	"fmt"

	"ubirescue/pkg/node"
	"ubirescue/pkg/registry"
	"ubirescue/pkg/scanner"
	"ubirescue/pkg/tree"
)

// nodesOf 摊平扫描结果里的解码节点
func nodesOf(res *scanner.Result) []node.Node {
	out := make([]node.Node, 0, len(res.Nodes))
	for _, a := range res.Nodes {
		out = append(out, a.Node)
	}
	return out
}

// loadTree 是 extract/tree/cat 共享的前半段流水线：
// 扫描 -> 重放 -> 建树。被取消的扫描在这里直接报错，
// 残缺的状态不适合做任何写出或浏览。
func loadTree(ctx context.Context, image string) (*scanner.Result, *registry.Registry, *tree.Tree, error) {
	res, err := scanner.ScanFile(ctx, image, UBR.ScanCfg)
	if err != nil {
		if errors.Is(err, scanner.ErrPartialScan) {
			return nil, nil, nil, fmt.Errorf("scan was cancelled, refusing to continue with partial state: %w", err)
		}
		return nil, nil, nil, fmt.Errorf("scan failed: %w", err)
	}

	reg := registry.Replay(nodesOf(res))
	t := tree.Build(reg)
	return res, reg, t, nil
}
