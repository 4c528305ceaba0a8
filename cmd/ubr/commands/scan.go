package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ubirescue/pkg/registry"
	"ubirescue/pkg/scanner"
)

var scanCmd = &cobra.Command{
	Use:   "scan [image]",
	Short: "Scan a raw image and list every recoverable node",
	Long: `Walk the image byte by byte and print one line per accepted node:
offset, node type, declared length and sequence number.

A scan that finds zero nodes is still a successful scan — the only
fatal error is failing to open the input.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		image := args[0]
		startedAt := time.Now()

		res, err := scanner.ScanFile(cmd.Context(), image, UBR.ScanCfg)
		if err != nil && !errors.Is(err, scanner.ErrPartialScan) {
			return fmt.Errorf("scan failed: %w", err)
		}

		for _, a := range res.Nodes {
			marker := ""
			if a.Truncated {
				marker = "  [truncated]"
			}
			fmt.Printf("%#010x  %-7s len=%-6d sqnum=%d%s\n",
				a.Offset, a.Header.NodeType, a.Header.Len, a.Header.Sqnum, marker)
		}

		fmt.Printf("\n📊 %d nodes accepted in %d bytes (crc failures: %d, decode failures: %d)\n",
			len(res.Nodes), res.Stats.ImageSize, res.Stats.CRCFailures, res.Stats.DecodeFailures)
		if res.Stats.TruncatedTail {
			fmt.Println("⚠️  image ends mid-node; tail node accepted as truncated")
		}

		// 可选编目：把这轮扫描和节点投影进数据库
		if UBR.Catalog != nil {
			reg := registry.Replay(nodesOf(res))
			if _, err := UBR.Catalog.RecordScan(cmd.Context(), image, res, UBR.ScanCfg, reg.Counts().Stale, startedAt); err != nil {
				return fmt.Errorf("failed to catalog scan: %w", err)
			}
			if err := UBR.Catalog.IndexNodes(cmd.Context(), image, res.Nodes); err != nil {
				return fmt.Errorf("failed to catalog nodes: %w", err)
			}
			fmt.Println("🗃️  scan recorded in catalog")
		}

		// 被取消的扫描要如实报告，但结果仍然打印了
		if err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
