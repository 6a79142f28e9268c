package domain

import (
	"fmt"
	"time"
)

// IDs

type SnapshotNum uint32

// Snapshot types

type SnapshotType int

const (
	SnapshotSingle SnapshotType = iota
	SnapshotPre
	SnapshotPost
)

func (t SnapshotType) String() string {
	switch t {
	case SnapshotSingle:
		return "SINGLE"
	case SnapshotPre:
		return "PRE"
	case SnapshotPost:
		return "POST"
	default:
		return fmt.Sprintf("SnapshotType(%d)", int(t))
	}
}

// ParseSnapshotType maps the raw wire value used by snapper to a SnapshotType.
func ParseSnapshotType(raw uint16) (SnapshotType, error) {
	t := SnapshotType(raw)
	switch t {
	case SnapshotSingle, SnapshotPre, SnapshotPost:
		return t, nil
	}
	return 0, fmt.Errorf("unknown snapshot type %d", raw)
}

func (t SnapshotType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Well-known snapshot metadata.

const (
	// CurrentDescription marks the live, unsnapshotted root.
	CurrentDescription = "current"

	UserdataBootable   = "bootable"
	UserdataCopyImages = "copy_images"
)

// SourceConfig is one config exposed by the snapshot source, e.g. a snapper
// config backing up a single subvolume.

type SourceConfig struct {
	Name      string            `json:"name" yaml:"name"`
	MountPath string            `json:"mount_path" yaml:"mount_path"`
	Raw       map[string]string `json:"raw_config,omitempty" yaml:"raw_config,omitempty"`
}

// Snapshot is a read-only view of one snapshot as reported by the source.

type Snapshot struct {
	Num         SnapshotNum       `json:"num" yaml:"num"`
	Type        SnapshotType      `json:"type" yaml:"type"`
	PreNum      SnapshotNum       `json:"pre_num" yaml:"pre_num"`
	Timestamp   time.Time         `json:"timestamp" yaml:"timestamp"`
	UID         uint32            `json:"uid" yaml:"uid"`
	Description string            `json:"description" yaml:"description"`
	Cleanup     string            `json:"cleanup" yaml:"cleanup"`
	Userdata    map[string]string `json:"userdata" yaml:"userdata"`
	MountPoint  string            `json:"mount_point" yaml:"mount_point"`
}

// ISOTimestampLayout matches the local, zone-less timestamps shown in boot menus.
const ISOTimestampLayout = "2006-01-02T15:04:05"

// ISOTimestamp renders the creation time in local time without a zone suffix.
func (s Snapshot) ISOTimestamp() string {
	return s.Timestamp.Local().Format(ISOTimestampLayout)
}

// Lookup returns a userdata value, tolerating a nil map.
func (s Snapshot) Lookup(key string) (string, bool) {
	if s.Userdata == nil {
		return "", false
	}
	v, ok := s.Userdata[key]
	return v, ok
}
