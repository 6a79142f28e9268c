package elysium

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tartarus-sandbox/elysium/pkg/config"
	"github.com/tartarus-sandbox/elysium/pkg/domain"
)

func TestTitleSuffix(t *testing.T) {
	s := domain.Snapshot{Num: 1, Timestamp: testTime, Description: "nightly"}
	assert.Equal(t, "nightly (2024-03-09T21:04:05)", TitleSuffix(s, false))
	assert.Equal(t, "nightly (2024-03-09T21:04:05)[snapped images]", TitleSuffix(s, true))

	s.Description = "abcdefghijklmnopqrstuvwxyz0123"
	require.Len(t, s.Description, 30)
	assert.Equal(t, "abcdefghijklmnopq... (2024-03-09T21:04:05)", TitleSuffix(s, false))

	// Exactly twenty characters are kept as is.
	s.Description = "abcdefghijklmnopqrst"
	assert.Equal(t, "abcdefghijklmnopqrst (2024-03-09T21:04:05)", TitleSuffix(s, false))

	// Counting is by character, not byte.
	s.Description = strings.Repeat("ü", 25)
	assert.Equal(t, strings.Repeat("ü", 17)+"... (2024-03-09T21:04:05)", TitleSuffix(s, false))
}

func TestRenderer_Render(t *testing.T) {
	env := newTestEnv(t)
	r, err := NewRenderer(testTemplate)
	require.NoError(t, err)

	e, err := NewBootEntry(env.snapshot(t, 42, "nightly", map[string]string{"copy_images": "true"}), env.cfg)
	require.NoError(t, err)

	out, err := r.Render(e)
	require.NoError(t, err)
	assert.Equal(t, `title Arch Linux nightly (2024-03-09T21:04:05)[snapped images]
linux /snapper/vmlinuz-linux-42
initrd /snapper/initramfs-linux-42.img
options root=LABEL=arch rootflags=subvol=@/.snapper_systemd_boot/42
`, out)
}

func TestRenderer_Userdata(t *testing.T) {
	env := newTestEnv(t)
	r, err := NewRenderer("title {{.Description}} {{index .Userdata \"release\"}}\n")
	require.NoError(t, err)

	e, err := NewBootEntry(env.snapshot(t, 3, "upgrade", map[string]string{"release": "6.8"}), env.cfg)
	require.NoError(t, err)
	out, err := r.Render(e)
	require.NoError(t, err)
	assert.Equal(t, "title upgrade 6.8\n", out)
}

func TestRenderer_MissingUserdataKey(t *testing.T) {
	env := newTestEnv(t)
	r, err := NewRenderer("title {{.Userdata.release}}\n")
	require.NoError(t, err)

	e, err := NewBootEntry(env.snapshot(t, 3, "upgrade", nil), env.cfg)
	require.NoError(t, err)

	_, err = r.Render(e)
	require.Error(t, err)

	var terr *TemplateError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "release", terr.Field)
	assert.Equal(t, e.Path, terr.Entry)
}

func TestNewRenderer_UnknownField(t *testing.T) {
	_, err := NewRenderer("title {{.KernelVersion}}\n")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "KernelVersion")
}

func TestNewRenderer_ParseError(t *testing.T) {
	_, err := NewRenderer("title {{.Num\n")
	require.Error(t, err)

	var verr *config.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, config.KeyEntryTemplate, verr.Field)
}
