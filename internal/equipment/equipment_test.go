package equipment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makePNETree(t *testing.T, channels ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, ch := range channels {
		require.NoError(t, os.MkdirAll(filepath.Join(root, ch, RestoreDirName), 0o755))
	}
	return root
}

func makeToyoTree(t *testing.T, channels ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, ch := range channels {
		dir := filepath.Join(root, ch)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, CapacityLogName), []byte("Date,Voltage\n"), 0o644))
	}
	return root
}

func TestDetectTypePNE(t *testing.T) {
	root := makePNETree(t, "M01Ch045[045]", "M01Ch046[046]")

	equip, err := DetectType(root)
	require.NoError(t, err)
	assert.Equal(t, TypePNE, equip)
}

func TestDetectTypeToyo(t *testing.T) {
	root := makeToyoTree(t, "86", "87")

	equip, err := DetectType(root)
	require.NoError(t, err)
	assert.Equal(t, TypeToyo, equip)
}

func TestDetectTypePNEWinsOverToyo(t *testing.T) {
	root := makePNETree(t, "M01Ch001[001]")
	dir := filepath.Join(root, "86")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, CapacityLogName), nil, 0o644))

	equip, err := DetectType(root)
	require.NoError(t, err)
	assert.Equal(t, TypePNE, equip)
}

func TestDetectTypeRequiresSignatureDirs(t *testing.T) {
	root := t.TempDir()

	// PNE-looking folder without Restore is not a signature.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "M01Ch001[001]"), 0o755))
	// Numeric folder without CAPACITY.LOG is not a signature.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "86"), 0o755))

	equip, err := DetectType(root)
	require.NoError(t, err)
	assert.Equal(t, TypeUnknown, equip)
}

func TestDetectTypeInvalidPath(t *testing.T) {
	_, err := DetectType(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrInvalidPath)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = DetectType(file)
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestChannelFoldersPNE(t *testing.T) {
	root := makePNETree(t, "M01Ch046[046]", "M01Ch045[045]")
	// Pattern match without Restore is skipped.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "M01Ch047[047]"), 0o755))
	// Non-matching directories are ignored.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Pattern"), 0o755))

	folders, err := ChannelFolders(root, TypePNE)
	require.NoError(t, err)
	require.Len(t, folders, 2)
	assert.Equal(t, "M01Ch045[045]", filepath.Base(folders[0]))
	assert.Equal(t, "M01Ch046[046]", filepath.Base(folders[1]))
}

func TestChannelFoldersToyo(t *testing.T) {
	root := makeToyoTree(t, "87", "86")
	// Toyo enumeration does not require CAPACITY.LOG.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "88"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "notdigits"), 0o755))

	folders, err := ChannelFolders(root, TypeToyo)
	require.NoError(t, err)
	require.Len(t, folders, 3)
	assert.Equal(t, "86", filepath.Base(folders[0]))
	assert.Equal(t, "88", filepath.Base(folders[2]))
}

func TestChannelFoldersUnknownType(t *testing.T) {
	_, err := ChannelFolders(t.TempDir(), TypeUnknown)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestValidatePath(t *testing.T) {
	root := makePNETree(t, "M01Ch045[045]")
	equip, err := ValidatePath(root)
	require.NoError(t, err)
	assert.Equal(t, TypePNE, equip)

	_, err = ValidatePath(t.TempDir())
	assert.ErrorIs(t, err, ErrInvalidPath)
}
