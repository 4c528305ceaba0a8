package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ubirescue/pkg/exporter"
	"ubirescue/pkg/node"
	"ubirescue/pkg/scanner"
)

var (
	ErrScanNotFound = errors.New("no scan recorded for image")
)

// Repository 封装所有对编目数据库的操作
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// -----------------------------------------------------------------------------
// 1. 扫描记录 (Scan Runs)
// -----------------------------------------------------------------------------

// RecordScan 落盘一轮扫描的计数快照
func (r *Repository) RecordScan(ctx context.Context, image string, res *scanner.Result, cfg scanner.Config, stale int, startedAt time.Time) (*ScanModel, error) {
	geo, err := json.Marshal(map[string]int{
		"min_io_size": cfg.MinIOSize,
		"leb_size":    cfg.LebSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal geometry: %w", err)
	}

	model := ScanModel{
		Image:          image,
		ImageSize:      res.Stats.ImageSize,
		Accepted:       len(res.Nodes),
		CRCFailures:    res.Stats.CRCFailures,
		DecodeFailures: res.Stats.DecodeFailures,
		StaleDropped:   stale,
		TruncatedTail:  res.Stats.TruncatedTail,
		Partial:        res.Stats.Partial,
		Geometry:       datatypes.JSON(geo),
		StartedAt:      startedAt,
		FinishedAt:     time.Now(),
	}

	if err := r.db.GetConn().WithContext(ctx).Create(&model).Error; err != nil {
		return nil, fmt.Errorf("failed to record scan: %w", err)
	}
	return &model, nil
}

// LatestScan 取镜像最近一轮扫描
func (r *Repository) LatestScan(ctx context.Context, image string) (*ScanModel, error) {
	var scan ScanModel
	err := r.db.GetConn().WithContext(ctx).
		Where("image = ?", image).
		Order("started_at DESC").
		First(&scan).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrScanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &scan, nil
}

// -----------------------------------------------------------------------------
// 2. 节点索引 (Node Indexing)
// -----------------------------------------------------------------------------

// IndexNodes 把接受的节点批量投影到数据库
//
// 幂等写入：(image, offset) 冲突时什么都不做——重扫同一块镜像
// 在同样的偏移上必然解出同样的节点。
func (r *Repository) IndexNodes(ctx context.Context, image string, accepted []scanner.Accepted) error {
	if len(accepted) == 0 {
		return nil
	}

	models := make([]NodeModel, 0, len(accepted))
	for _, a := range accepted {
		detail, err := json.Marshal(nodeDetail(a.Node))
		if err != nil {
			return fmt.Errorf("failed to marshal node detail: %w", err)
		}
		models = append(models, NodeModel{
			Image:     image,
			Offset:    a.Offset,
			NodeType:  a.Header.NodeType.String(),
			Sqnum:     uint64(a.Header.Sqnum),
			Length:    a.Header.Len,
			Truncated: a.Truncated,
			Detail:    datatypes.JSON(detail),
		})
	}

	err := r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "image"}, {Name: "offset"}},
			DoNothing: true,
		}).
		CreateInBatches(models, 200).Error

	if err != nil {
		return fmt.Errorf("failed to index nodes: %w", err)
	}
	return nil
}

// nodeDetail 抽取各类型节点对定位有用的字段；没有就留空
func nodeDetail(n node.Node) map[string]any {
	d := map[string]any{}
	switch v := n.(type) {
	case *node.Inode:
		d["ino"] = v.Ino
		d["size"] = v.Size
		d["mode"] = v.Mode
		d["nlink"] = v.Nlink
	case *node.Data:
		d["ino"] = v.Ino
		d["block"] = v.Block
		d["usize"] = v.USize
	case *node.Dent:
		d["parent"] = v.Parent
		d["ino"] = v.Ino
		d["name"] = v.Name
	case *node.Trunc:
		d["ino"] = v.Ino
		d["new_size"] = v.NewSize
	case *node.Orphan:
		d["inos"] = v.Inos
	case *node.Superblock:
		d["min_io_size"] = v.MinIOSize
		d["leb_size"] = v.LebSize
	case *node.Opaque:
		d["raw_type"] = v.RawType
	}
	return d
}

// NodeTypeCounts 按类型统计镜像里的节点 (report 用)
func (r *Repository) NodeTypeCounts(ctx context.Context, image string) (map[string]int64, error) {
	type row struct {
		NodeType string
		N        int64
	}
	var rows []row
	err := r.db.GetConn().WithContext(ctx).
		Model(&NodeModel{}).
		Select("node_type, count(*) as n").
		Where("image = ?", image).
		Group("node_type").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.NodeType] = r.N
	}
	return counts, nil
}

// FindNodesByIno 查某个 inode 在镜像里留下的所有节点痕迹 (取证定位)
func (r *Repository) FindNodesByIno(ctx context.Context, image string, ino uint64) ([]NodeModel, error) {
	var nodes []NodeModel
	err := r.db.GetConn().WithContext(ctx).
		Where("image = ?", image).
		Where(datatypes.JSONQuery("detail").Equals(ino, "ino")).
		Order("sqnum ASC").
		Find(&nodes).Error
	return nodes, err
}

// -----------------------------------------------------------------------------
// 3. 对象记录 (Recovered Objects)
// -----------------------------------------------------------------------------

// RecordObjects 落盘物化结果；(image, ino) 冲突时整行更新——
// 换了 --force 重抽的结果以最新一轮为准。
func (r *Repository) RecordObjects(ctx context.Context, image string, reports []exporter.ObjectReport) error {
	if len(reports) == 0 {
		return nil
	}

	models := make([]ObjectModel, 0, len(reports))
	for _, rep := range reports {
		paths, err := json.Marshal(rep.Paths)
		if err != nil {
			return fmt.Errorf("failed to marshal paths: %w", err)
		}
		models = append(models, ObjectModel{
			Image:  image,
			Ino:    uint64(rep.Ino),
			Kind:   rep.Kind.String(),
			Size:   rep.Size,
			Status: rep.Status.String(),
			Orphan: rep.Orphan,
			Paths:  datatypes.JSON(paths),
		})
	}

	err := r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "image"}, {Name: "ino"}},
			UpdateAll: true,
		}).
		CreateInBatches(models, 200).Error

	if err != nil {
		return fmt.Errorf("failed to record objects: %w", err)
	}
	return nil
}

// FindObjectsByStatus 查带某个状态标记的对象 (例如排查所有 partially-recovered)
func (r *Repository) FindObjectsByStatus(ctx context.Context, image, status string) ([]ObjectModel, error) {
	var objs []ObjectModel
	err := r.db.GetConn().WithContext(ctx).
		Where("image = ? AND status LIKE ?", image, "%"+status+"%").
		Order("ino ASC").
		Find(&objs).Error
	return objs, err
}
