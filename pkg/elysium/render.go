package elysium

import (
	"bytes"
	"fmt"
	"regexp"
	"text/template"
	"time"

	"github.com/tartarus-sandbox/elysium/pkg/config"
	"github.com/tartarus-sandbox/elysium/pkg/domain"
)

const (
	maxTitleDescription = 20
	titleEllipsis       = "..."
	snappedImagesMarker = "[snapped images]"
)

// EntryContext is everything an entry template may reference, e.g.
// {{.Num}} or {{.TitleSuffix}}. Referencing anything else is an error.
type EntryContext struct {
	Num          domain.SnapshotNum
	Type         string
	PreNum       domain.SnapshotNum
	Timestamp    time.Time
	ISOTimestamp string
	UID          uint32
	Description  string
	Cleanup      string
	Userdata     map[string]string
	MountPoint   string

	CopyImages         bool
	KernelImageName    string
	InitramfsImageName string
	KernelImagePath    string
	InitramfsImagePath string
	ImageDir           string
	Subvolume          string
	TitleSuffix        string
}

// NewEntryContext assembles the template context of an entry.
func NewEntryContext(e BootEntry) EntryContext {
	s := e.Snapshot
	return EntryContext{
		Num:                s.Num,
		Type:               s.Type.String(),
		PreNum:             s.PreNum,
		Timestamp:          s.Timestamp,
		ISOTimestamp:       s.ISOTimestamp(),
		UID:                s.UID,
		Description:        s.Description,
		Cleanup:            s.Cleanup,
		Userdata:           s.Userdata,
		MountPoint:         s.MountPoint,
		CopyImages:         e.CopyImages,
		KernelImageName:    e.KernelImageName,
		InitramfsImageName: e.InitramfsImageName,
		KernelImagePath:    e.KernelImagePath,
		InitramfsImagePath: e.InitramfsImagePath,
		ImageDir:           e.ImageDir,
		Subvolume:          e.Subvolume,
		TitleSuffix:        TitleSuffix(s, e.CopyImages),
	}
}

// TitleSuffix is a short "description (timestamp)" fragment for entry
// titles. Descriptions over 20 characters are cut to 17 plus "...".
func TitleSuffix(s domain.Snapshot, copyImages bool) string {
	desc := []rune(s.Description)
	short := s.Description
	if len(desc) > maxTitleDescription {
		short = string(desc[:maxTitleDescription-len(titleEllipsis)]) + titleEllipsis
	}

	marker := ""
	if copyImages {
		marker = snappedImagesMarker
	}
	return fmt.Sprintf("%s (%s)%s", short, s.ISOTimestamp(), marker)
}

var fieldErrorPattern = regexp.MustCompile(`can't evaluate field (\w+)|no entry for key "([^"]*)"`)

// Renderer renders entry files from the configured template.
type Renderer struct {
	tpl *template.Template
}

// NewRenderer parses text and renders it once against a sample entry, so
// that unknown placeholders are reported before anything is written.
func NewRenderer(text string) (*Renderer, error) {
	tpl, err := template.New("entry").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, config.NewValidationError(config.KeyEntryTemplate, "failed to parse template", err)
	}

	r := &Renderer{tpl: tpl}
	sample := BootEntry{
		Snapshot: domain.Snapshot{
			Num:         1,
			Timestamp:   time.Unix(0, 0),
			Description: "sample",
			Userdata:    map[string]string{},
		},
		Path: "sample.conf",
	}
	if _, err := r.Render(sample); err != nil {
		// Only fields missing from EntryContext are fatal here. Data-dependent
		// failures, such as a userdata key absent from the sample, surface per
		// entry at render time instead.
		if field := unknownField(err); field != "" {
			return nil, config.NewValidationError(config.KeyEntryTemplate, fmt.Sprintf("unknown field %q", field), err)
		}
	}
	return r, nil
}

// Render produces the entry file content for e.
func (r *Renderer) Render(e BootEntry) (string, error) {
	var buf bytes.Buffer
	if err := r.tpl.Execute(&buf, NewEntryContext(e)); err != nil {
		return "", &TemplateError{Entry: e.Path, Field: missingField(err), Err: err}
	}
	return buf.String(), nil
}

func unknownField(err error) string {
	m := fieldErrorPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return ""
	}
	return m[1]
}

func missingField(err error) string {
	m := fieldErrorPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}
