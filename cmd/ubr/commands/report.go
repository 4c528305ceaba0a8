package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ubirescue/pkg/manifest"
)

var reportFromCatalog string

var reportCmd = &cobra.Command{
	Use:   "report [output-dir]",
	Short: "Summarize a previous extraction from its manifest",
	Long: `Read the recovery manifest written by 'ubr extract' and print what
was recovered, what was damaged, and what was left behind. The image
itself is not needed.

With --image and an enabled catalog, history for that image is queried
from the catalog database instead of a manifest file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if reportFromCatalog != "" {
			return reportCatalog(cmd, reportFromCatalog)
		}
		if len(args) != 1 {
			return fmt.Errorf("either an output directory or --image is required")
		}

		data, err := os.ReadFile(filepath.Join(args[0], manifest.FileName))
		if err != nil {
			return fmt.Errorf("no manifest found (was this directory written by 'ubr extract'?): %w", err)
		}

		m, err := manifest.Decode(data)
		if err != nil {
			return fmt.Errorf("manifest is corrupted: %w", err)
		}

		fmt.Printf("image:     %s\n", m.Image)
		fmt.Printf("extracted: %s\n", time.Unix(m.CreatedAt, 0).Format(time.RFC1123))
		fmt.Printf("geometry:  min_io=%d leb=%d\n\n", m.Geometry.MinIOSize, m.Geometry.LebSize)

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintf(tw, "scan\taccepted=%d crc_fail=%d decode_fail=%d\n",
			m.Scan.Accepted, m.Scan.CRCFailures, m.Scan.DecodeFailures)
		fmt.Fprintf(tw, "recovered\t%d objects\n", m.Summary.Materialized)
		fmt.Fprintf(tw, "damaged\t%d partial, %d size mismatch\n",
			m.Summary.PartiallyRecovered, m.Summary.SizeMismatch)
		fmt.Fprintf(tw, "left behind\t%d dangling, %d cycles, %d write failures\n",
			m.Summary.Dangling, m.Summary.Cycles, m.Summary.WriteFailures)
		tw.Flush()

		// 有问题的对象逐个点名，这是报告存在的意义
		problems := 0
		for _, obj := range m.Objects {
			if obj.Status == "" || obj.Status == "ok" {
				continue
			}
			if problems == 0 {
				fmt.Println("\n⚠️  objects needing attention:")
			}
			problems++
			fmt.Printf("  inode %-6d %-8s %s  [%s]\n", obj.Ino, obj.Kind, firstPath(obj.Paths), obj.Status)
		}
		if len(m.Orphans) > 0 {
			fmt.Printf("\n🔍 %d orphan inodes noted (unlinked but not yet erased)\n", len(m.Orphans))
		}
		return nil
	},
}

// reportCatalog 从编目数据库出报告：最近一轮扫描 + 节点构成 + 问题对象
func reportCatalog(cmd *cobra.Command, image string) error {
	if UBR.Catalog == nil {
		return fmt.Errorf("catalog is not enabled (set catalog.enabled: true)")
	}
	ctx := cmd.Context()

	scan, err := UBR.Catalog.LatestScan(ctx, image)
	if err != nil {
		return err
	}

	fmt.Printf("image:     %s\n", scan.Image)
	fmt.Printf("scanned:   %s\n", scan.StartedAt.Format(time.RFC1123))
	fmt.Printf("accepted:  %d (crc failures: %d, decode failures: %d, stale: %d)\n\n",
		scan.Accepted, scan.CRCFailures, scan.DecodeFailures, scan.StaleDropped)

	counts, err := UBR.Catalog.NodeTypeCounts(ctx, image)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	for typ, n := range counts {
		fmt.Fprintf(tw, "%s\t%d\n", typ, n)
	}
	tw.Flush()

	partial, err := UBR.Catalog.FindObjectsByStatus(ctx, image, "partial")
	if err != nil {
		return err
	}
	if len(partial) > 0 {
		fmt.Printf("\n⚠️  %d partially recovered objects:\n", len(partial))
		for _, obj := range partial {
			fmt.Printf("  inode %-6d %-8s size=%d  [%s]\n", obj.Ino, obj.Kind, obj.Size, obj.Status)
		}
	}
	return nil
}

func firstPath(paths []string) string {
	if len(paths) == 0 {
		return "(no path)"
	}
	return paths[0]
}

func init() {
	reportCmd.Flags().StringVar(&reportFromCatalog, "image", "", "query catalog history for this image instead of reading a manifest")
	rootCmd.AddCommand(reportCmd)
}
