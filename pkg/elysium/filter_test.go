package elysium

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tartarus-sandbox/elysium/pkg/config"
	"github.com/tartarus-sandbox/elysium/pkg/domain"
)

func collectNums(t *testing.T, f *Filter, snaps []domain.Snapshot) []domain.SnapshotNum {
	t.Helper()
	var nums []domain.SnapshotNum
	for s, err := range f.Select(snaps) {
		require.NoError(t, err)
		nums = append(nums, s.Num)
	}
	return nums
}

func TestFilter_Eligible(t *testing.T) {
	f, err := NewFilter("")
	require.NoError(t, err)

	tests := []struct {
		name string
		snap domain.Snapshot
		want bool
	}{
		{"current", domain.Snapshot{Num: 0, Description: "current"}, false},
		{"current even if bootable", domain.Snapshot{Num: 3, Description: "current", Userdata: map[string]string{"bootable": "true"}}, false},
		{"plain", domain.Snapshot{Num: 1, Description: "nightly"}, true},
		{"bootable absent", domain.Snapshot{Num: 2, Userdata: map[string]string{"important": "yes"}}, true},
		{"bootable false", domain.Snapshot{Num: 3, Userdata: map[string]string{"bootable": "false"}}, false},
		{"bootable no", domain.Snapshot{Num: 4, Userdata: map[string]string{"bootable": "No"}}, false},
		{"bootable true", domain.Snapshot{Num: 5, Userdata: map[string]string{"bootable": "TRUE"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := f.Eligible(tt.snap)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestFilter_MalformedBootable(t *testing.T) {
	f, err := NewFilter("")
	require.NoError(t, err)

	_, err = f.Eligible(domain.Snapshot{Num: 8, Userdata: map[string]string{"bootable": "sometimes"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.ErrorIs(t, err, domain.ErrInvalidBool)
}

func TestFilter_Select(t *testing.T) {
	f, err := NewFilter("")
	require.NoError(t, err)

	snaps := []domain.Snapshot{
		{Num: 0, Description: "current"},
		{Num: 5, Description: "timeline"},
		{Num: 3, Description: "pre", Userdata: map[string]string{"bootable": "false"}},
		{Num: 4, Description: "post"},
	}

	// Source order is kept, and ranging twice gives the same result.
	assert.Equal(t, []domain.SnapshotNum{5, 4}, collectNums(t, f, snaps))
	assert.Equal(t, []domain.SnapshotNum{5, 4}, collectNums(t, f, snaps))
}

func TestFilter_SelectStopsOnError(t *testing.T) {
	f, err := NewFilter("")
	require.NoError(t, err)

	snaps := []domain.Snapshot{
		{Num: 1},
		{Num: 2, Userdata: map[string]string{"bootable": "?"}},
		{Num: 3},
	}

	var seen []domain.SnapshotNum
	var errs int
	for s, err := range f.Select(snaps) {
		if err != nil {
			errs++
			continue
		}
		seen = append(seen, s.Num)
	}
	assert.Equal(t, []domain.SnapshotNum{1}, seen)
	assert.Equal(t, 1, errs)
}

func TestFilter_Rule(t *testing.T) {
	f, err := NewFilter(`snapshot_type != "PRE" && num > 2`)
	require.NoError(t, err)

	snaps := []domain.Snapshot{
		{Num: 1, Type: domain.SnapshotSingle},
		{Num: 3, Type: domain.SnapshotPre},
		{Num: 4, Type: domain.SnapshotPost, PreNum: 3},
		{Num: 5, Type: domain.SnapshotSingle, Description: "current"},
	}
	assert.Equal(t, []domain.SnapshotNum{4}, collectNums(t, f, snaps))
}

func TestNewFilter_Invalid(t *testing.T) {
	_, err := NewFilter(`num +`)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	var verr *config.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, config.KeySnapshotFilter, verr.Field)
}
