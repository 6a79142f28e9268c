package elysium

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tartarus-sandbox/elysium/pkg/domain"
)

const (
	descriptionWidth = 80
	userdataWidth    = 70
)

// SnapshotView is a snapshot formatted for listing.
type SnapshotView struct {
	Num         string `yaml:"num"`
	Description string `yaml:"description"`
	Created     string `yaml:"created"`
	Type        string `yaml:"type"`
	Userdata    string `yaml:"user_data"`
	MountPoint  string `yaml:"mount_point"`
}

// FormatSnapshot builds the listing view of s.
func FormatSnapshot(s domain.Snapshot) SnapshotView {
	return SnapshotView{
		Num:         fmt.Sprintf("%04d", s.Num),
		Description: Shorten(s.Description, descriptionWidth, "..."),
		Created:     s.ISOTimestamp(),
		Type:        s.Type.String(),
		Userdata:    Shorten(compactUserdata(s.Userdata), userdataWidth, "...}"),
		MountPoint:  s.MountPoint,
	}
}

func (v SnapshotView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", v.Num, v.Description)
	fmt.Fprintf(&b, "    created: %s\n", v.Created)
	fmt.Fprintf(&b, "    type: %s\n", v.Type)
	fmt.Fprintf(&b, "    user_data: %s\n", v.Userdata)
	fmt.Fprintf(&b, "    mount_point: %s\n", v.MountPoint)
	return b.String()
}

// Shorten collapses runs of whitespace and, if the result is wider than
// width, drops whole words from the end until the kept words plus
// placeholder fit. When not even the first word fits, only the placeholder
// is returned.
func Shorten(text string, width int, placeholder string) string {
	words := strings.Fields(text)
	joined := strings.Join(words, " ")
	if len([]rune(joined)) <= width {
		return joined
	}

	budget := width - len([]rune(placeholder))
	n := 0
	for i, w := range words {
		l := len([]rune(w))
		if i > 0 {
			l++
		}
		if n+l > budget {
			return strings.Join(words[:i], " ") + placeholder
		}
		n += l
	}
	return joined
}

// compactUserdata renders userdata as one-line JSON with sorted keys,
// e.g. {"bootable": "true", "important": "yes"}.
func compactUserdata(ud map[string]string) string {
	keys := make([]string, 0, len(ud))
	for k := range ud {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = strconv.Quote(k) + ": " + strconv.Quote(ud[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
