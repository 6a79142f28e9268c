package elysium

import (
	"errors"
	"fmt"
)

// ErrInsufficientSpace indicates the boot partition cannot hold an image copy.
var ErrInsufficientSpace = errors.New("insufficient space on boot partition")

// ArtifactKind names the side effect that failed.
type ArtifactKind string

const (
	KindEntryFile ArtifactKind = "entry-file"
	KindSubvolume ArtifactKind = "subvolume"
	KindImagesDir ArtifactKind = "images-dir"
	KindKernel    ArtifactKind = "kernel"
	KindInitramfs ArtifactKind = "initramfs"
	KindArchive   ArtifactKind = "archive"
)

// ArtifactError reports a failed filesystem side effect of an entry.
type ArtifactError struct {
	Entry string // entry file path, empty during teardown
	Kind  ArtifactKind
	Path  string
	Err   error
}

func (e *ArtifactError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("artifact %s for %s at %s: %v", e.Kind, e.Entry, e.Path, e.Err)
	}
	return fmt.Sprintf("artifact %s at %s: %v", e.Kind, e.Path, e.Err)
}

func (e *ArtifactError) Unwrap() error {
	return e.Err
}

// TemplateError reports a template placeholder that could not be resolved.
type TemplateError struct {
	Entry string
	Field string // unresolved placeholder, when it could be determined
	Err   error
}

func (e *TemplateError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("rendering %s: unknown field %q: %v", e.Entry, e.Field, e.Err)
	}
	return fmt.Sprintf("rendering %s: %v", e.Entry, e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}
