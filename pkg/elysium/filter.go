package elysium

import (
	"fmt"
	"iter"

	"github.com/tartarus-sandbox/elysium/pkg/config"
	"github.com/tartarus-sandbox/elysium/pkg/domain"
	"github.com/tartarus-sandbox/elysium/pkg/themis"
)

// Filter decides which snapshots become boot entries. The live root
// ("current") and snapshots flagged bootable=false are always dropped; an
// optional rule can narrow the set further.
type Filter struct {
	rule *themis.Rule
}

// NewFilter compiles the optional eligibility rule. An empty expr means no rule.
func NewFilter(expr string) (*Filter, error) {
	if expr == "" {
		return &Filter{}, nil
	}
	rule, err := themis.Compile(expr)
	if err != nil {
		return nil, config.NewValidationError(config.KeySnapshotFilter, "invalid expression", err)
	}
	return &Filter{rule: rule}, nil
}

// Eligible reports whether s should get a boot entry.
func (f *Filter) Eligible(s domain.Snapshot) (bool, error) {
	if s.Description == domain.CurrentDescription {
		return false, nil
	}

	bootable, err := domain.FlagOr(s.Userdata, domain.UserdataBootable, true)
	if err != nil {
		return false, config.NewValidationError(
			fmt.Sprintf("snapshot %d userdata %s", s.Num, domain.UserdataBootable), "not a boolean", err)
	}
	if !bootable {
		return false, nil
	}

	if f.rule != nil {
		ok, err := f.rule.Allows(s)
		if err != nil {
			return false, config.NewValidationError(config.KeySnapshotFilter, "evaluation failed", err)
		}
		return ok, nil
	}
	return true, nil
}

// Select yields the eligible snapshots in source order. The first error is
// yielded once and ends the sequence. Ranging again restarts from the top.
func (f *Filter) Select(snaps []domain.Snapshot) iter.Seq2[domain.Snapshot, error] {
	return func(yield func(domain.Snapshot, error) bool) {
		for _, s := range snaps {
			ok, err := f.Eligible(s)
			if err != nil {
				yield(domain.Snapshot{}, err)
				return
			}
			if !ok {
				continue
			}
			if !yield(s, nil) {
				return
			}
		}
	}
}
