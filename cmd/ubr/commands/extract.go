package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ubirescue/pkg/assembler"
	"ubirescue/pkg/exporter"
	"ubirescue/pkg/manifest"
	"ubirescue/pkg/scanner"
	"ubirescue/pkg/storage"
	"ubirescue/pkg/tree"
)

var extractForce bool

var extractCmd = &cobra.Command{
	Use:   "extract [image]",
	Short: "Recover the whole tree into the output destination",
	Long: `Run the full pipeline: scan, replay, build the tree, assemble file
contents and write everything out. A non-empty destination is refused
unless --force is given, in which case it is cleared first.

A machine-readable recovery manifest is placed next to the output;
'ubr report' reads it without rescanning the image.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		image := args[0]
		ctx := cmd.Context()
		startedAt := time.Now()

		res, reg, t, err := loadTree(ctx, image)
		if err != nil {
			return err
		}

		dest, err := UBR.NewDestination(ctx)
		if err != nil {
			return err
		}
		filter, err := UBR.NewFilter()
		if err != nil {
			return fmt.Errorf("failed to compile ignore rules: %w", err)
		}

		mat := exporter.NewMaterializer(dest, assembler.New(reg)).WithFilter(filter)
		sum, err := mat.Materialize(ctx, t, extractForce)
		if errors.Is(err, storage.ErrNotEmpty) {
			return fmt.Errorf("destination is not empty (use --force to clear it): %w", err)
		}
		if err != nil {
			return err
		}

		// 恢复清单跟着输出走
		m := buildManifest(image, res, t, sum, reg.Counts().Stale)
		data, err := m.Encode()
		if err != nil {
			return err
		}
		if err := dest.PutManifest(ctx, manifest.FileName, data); err != nil {
			return fmt.Errorf("failed to write manifest: %w", err)
		}

		fmt.Printf("✅ extracted %s\n\n", image)
		exporter.PrintSummary(os.Stdout, sum)

		if UBR.Catalog != nil {
			if _, err := UBR.Catalog.RecordScan(ctx, image, res, UBR.ScanCfg, reg.Counts().Stale, startedAt); err != nil {
				return fmt.Errorf("failed to catalog scan: %w", err)
			}
			if err := UBR.Catalog.IndexNodes(ctx, image, res.Nodes); err != nil {
				return fmt.Errorf("failed to catalog nodes: %w", err)
			}
			if err := UBR.Catalog.RecordObjects(ctx, image, sum.Objects); err != nil {
				return fmt.Errorf("failed to catalog objects: %w", err)
			}
		}
		return nil
	},
}

// buildManifest 把三个阶段的产物折叠成一份清单
func buildManifest(image string, res *scanner.Result, t *tree.Tree, sum *exporter.Summary, stale int) *manifest.Manifest {
	m := &manifest.Manifest{
		Image:     image,
		CreatedAt: time.Now().Unix(),
		Geometry: manifest.Geometry{
			MinIOSize: UBR.ScanCfg.MinIOSize,
			LebSize:   UBR.ScanCfg.LebSize,
		},
		Scan: manifest.ScanStats{
			ImageSize:      res.Stats.ImageSize,
			Accepted:       len(res.Nodes),
			CRCFailures:    res.Stats.CRCFailures,
			DecodeFailures: res.Stats.DecodeFailures,
			StaleDropped:   stale,
			TruncatedTail:  res.Stats.TruncatedTail,
			Partial:        res.Stats.Partial,
		},
		Summary: manifest.Summary{
			Materialized:       sum.Materialized,
			Dangling:           sum.Dangling,
			PartiallyRecovered: sum.PartiallyRecovered,
			SizeMismatch:       sum.SizeMismatch,
			WriteFailures:      sum.WriteFailures,
			Cycles:             sum.Cycles,
			Orphans:            sum.Orphans,
		},
	}

	for _, rep := range sum.Objects {
		m.Objects = append(m.Objects, manifest.Object{
			Ino:    uint64(rep.Ino),
			Paths:  rep.Paths,
			Kind:   rep.Kind.String(),
			Size:   rep.Size,
			Status: rep.Status.String(),
			Orphan: rep.Orphan,
		})
	}
	for _, d := range t.Dangling {
		m.Dangling = append(m.Dangling, manifest.Dangling{
			Parent: uint64(d.Parent),
			Name:   d.Name,
			Child:  uint64(d.Child),
		})
	}
	for _, ino := range t.Orphans {
		m.Orphans = append(m.Orphans, uint64(ino))
	}
	return m
}

func init() {
	extractCmd.Flags().BoolVarP(&extractForce, "force", "f", false, "clear a non-empty destination before writing")
	extractCmd.Flags().String("to", "disk", "destination kind: disk or s3")
	extractCmd.Flags().String("ignore-file", "", "gitignore-style rules for paths to skip")

	_ = viper.BindPFlag("output.destination", extractCmd.Flags().Lookup("to"))
	_ = viper.BindPFlag("output.ignore_file", extractCmd.Flags().Lookup("ignore-file"))

	rootCmd.AddCommand(extractCmd)
}
