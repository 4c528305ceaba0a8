package catalog

import (
	"time"

	"gorm.io/datatypes"
)

// ScanModel 记录一次镜像扫描。Image + StartedAt 能区分同一镜像的多轮扫描，
// 但对账时通常只关心最新一轮，所以按 Image 建索引。
type ScanModel struct {
	ID uint `gorm:"primaryKey"`

	// Image 是被扫描镜像的路径 (或调用方给的标识符)
	Image     string `gorm:"index;type:varchar(512);not null"`
	ImageSize int64

	// 扫描计数快照
	Accepted       int
	CRCFailures    int
	DecodeFailures int
	StaleDropped   int
	TruncatedTail  bool
	Partial        bool

	// Geometry: 扫描时生效的几何配置 (min_io_size / leb_size)
	Geometry datatypes.JSON

	StartedAt  time.Time `gorm:"index"`
	FinishedAt time.Time
}

func (ScanModel) TableName() string {
	return "scans"
}

// NodeModel 是一个被接受节点在数据库中的投影
// (Image, Offset) 唯一确定一个节点：同一镜像重扫会落到同样的键上，写入因此幂等。
type NodeModel struct {
	ID uint `gorm:"primaryKey"`

	Image  string `gorm:"uniqueIndex:idx_node_pos;type:varchar(512);not null"`
	Offset int64  `gorm:"uniqueIndex:idx_node_pos;not null"`

	NodeType  string `gorm:"index;type:varchar(16)"`
	Sqnum     uint64 `gorm:"index"`
	Length    uint32
	Truncated bool

	// Detail: 各类型节点的关键字段 (ino/block/name 等)，结构松散，存 JSON
	Detail datatypes.JSON

	CreatedAt time.Time
}

func (NodeModel) TableName() string {
	return "nodes"
}

// ObjectModel 是一个恢复对象的最终状态 (extract 之后写入)
type ObjectModel struct {
	ID uint `gorm:"primaryKey"`

	Image string `gorm:"uniqueIndex:idx_obj_ino;type:varchar(512);not null"`
	Ino   uint64 `gorm:"uniqueIndex:idx_obj_ino;not null"`

	Kind   string `gorm:"type:varchar(16)"`
	Size   uint64
	Status string `gorm:"index;type:varchar(128)"`
	Orphan bool

	// Paths: 该对象物化出的所有路径 (硬链接会有多条)
	Paths datatypes.JSON

	CreatedAt time.Time
}

func (ObjectModel) TableName() string {
	return "objects"
}
