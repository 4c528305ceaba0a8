// pkg/manifest/manifest.go
package manifest

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// 恢复清单是 extract 的附属产物：一份机器可读的“这块镜像里救出了什么”。
// 放在输出树旁边，`ubr report` 直接读它，不需要重新扫描镜像。

// FileName 是清单在输出根下的固定名字
const FileName = "recovery-manifest.cbor"

// 编码选项沿用 DAG-CBOR 的规范子集：
// Map Key 强制排序 + 禁止不定长编码，同一份恢复结果永远编码出同一串字节，
// 清单本身因此可以做哈希比对 (两次恢复是否一致)。
var encOptions = cbor.EncOptions{
	Sort:          cbor.SortCanonical,
	ShortestFloat: cbor.ShortestFloatNone,
	Time:          cbor.TimeUnix,
	TimeTag:       cbor.EncTagNone,
	IndefLength:   cbor.IndefLengthForbidden,
	BigIntConvert: cbor.BigIntConvertShortest,
}

var em, _ = encOptions.EncMode()

// 解码侧做防御性限制，清单再大也大不过这个量级
var decOptions = cbor.DecOptions{
	MaxArrayElements: 1 << 20,
	MaxMapPairs:      1 << 20,
	MaxNestedLevels:  32,
	IndefLength:      cbor.IndefLengthForbidden,
	DupMapKey:        cbor.DupMapKeyEnforcedAPF,
}

var dm, _ = decOptions.DecMode()

// Object 是清单里的一个恢复对象
type Object struct {
	Ino    uint64   `cbor:"i"`
	Paths  []string `cbor:"p"` // 多条路径 = 硬链接
	Kind   string   `cbor:"k"`
	Size   uint64   `cbor:"s"`
	Status string   `cbor:"st"`
	Orphan bool     `cbor:"o,omitempty"`
}

// Dangling 是一条指向缺失 inode 的目录项
type Dangling struct {
	Parent uint64 `cbor:"p"`
	Name   string `cbor:"n"`
	Child  uint64 `cbor:"c"`
}

// Geometry 记录扫描时使用的几何配置 (配置输入，不是从镜像探测的)
type Geometry struct {
	MinIOSize int `cbor:"mio"`
	LebSize   int `cbor:"leb"`
}

// ScanStats 是扫描阶段的计数快照
type ScanStats struct {
	ImageSize      int64 `cbor:"sz"`
	Accepted       int   `cbor:"ok"`
	CRCFailures    int   `cbor:"crc"`
	DecodeFailures int   `cbor:"dec"`
	StaleDropped   int   `cbor:"stale"`
	TruncatedTail  bool  `cbor:"trunc,omitempty"`
	Partial        bool  `cbor:"part,omitempty"`
}

// Summary 是物化结果的计数
type Summary struct {
	Materialized       int `cbor:"m"`
	Dangling           int `cbor:"d"`
	PartiallyRecovered int `cbor:"pr"`
	SizeMismatch       int `cbor:"sm"`
	WriteFailures      int `cbor:"wf"`
	Cycles             int `cbor:"cy"`
	Orphans            int `cbor:"or"`
}

// Manifest 是一次恢复的完整描述
type Manifest struct {
	Image     string    `cbor:"img"`
	CreatedAt int64     `cbor:"at"`
	Geometry  Geometry  `cbor:"geo"`
	Scan      ScanStats `cbor:"scan"`
	Summary   Summary   `cbor:"sum"`

	Objects  []Object   `cbor:"objs"`
	Dangling []Dangling `cbor:"dang,omitempty"`
	Orphans  []uint64   `cbor:"orph,omitempty"` // 取证注记：已 unlink 待清除的 inode
}

// Encode 规范化编码清单
func (m *Manifest) Encode() ([]byte, error) {
	data, err := em.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return data, nil
}

// Decode 解出一份清单
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := dm.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}
