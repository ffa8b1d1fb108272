package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fly-io/poolimport/internal/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestartArgv_Configured(t *testing.T) {
	cfg := &config.Config{RestartCommand: []string{"/usr/bin/app", "--serve"}}

	argv, err := restartArgv(cfg, &cobra.Command{})
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/bin/app", "--serve"}, argv)
}

func TestRestartArgv_DefaultsToBoot(t *testing.T) {
	argv, err := restartArgv(&config.Config{}, &cobra.Command{})
	require.NoError(t, err)
	require.Len(t, argv, 2)
	assert.True(t, filepath.IsAbs(argv[0]))
	assert.Equal(t, "boot", argv[1])
}

func TestRestartArgv_ForwardsExplicitGlobalFlags(t *testing.T) {
	var argv []string
	child := &cobra.Command{
		Use: "stage-only",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			argv, err = restartArgv(&config.Config{}, cmd)
			return err
		},
	}
	child.Flags().Bool("no-restart", false, "")
	rootCmd.AddCommand(child)
	t.Cleanup(func() {
		rootCmd.RemoveCommand(child)
		rootCmd.SetArgs(nil)
	})

	rootCmd.SetArgs([]string{
		"stage-only",
		"--storage-root=/srv/root",
		"--intent-path", "/srv/intent.yaml",
		"--no-restart",
	})
	require.NoError(t, rootCmd.Execute())

	require.Len(t, argv, 4)
	assert.Equal(t, "boot", argv[1])
	assert.Contains(t, argv[2:], "--storage-root=/srv/root")
	assert.Contains(t, argv[2:], "--intent-path=/srv/intent.yaml")
	assert.NotContains(t, argv, "--no-restart=true", "subcommand flags belong to the staging run only")
}

func TestCleanupOrphanedDownloads(t *testing.T) {
	workDir := t.TempDir()
	require.NoError(t, cleanupOrphanedDownloads(workDir), "missing download dir is not an error")

	downloads := filepath.Join(workDir, "downloads")
	require.NoError(t, ensureDirectories(&config.Config{
		SQLitePath:  filepath.Join(workDir, "state", "db.sqlite"),
		IntentPath:  filepath.Join(downloads, "x"),
		StorageRoot: filepath.Join(workDir, "root"),
	}))
	for _, name := range []string{"a.db", "b.sqlite"} {
		require.NoError(t, writeFile(filepath.Join(downloads, name)))
	}

	require.NoError(t, cleanupOrphanedDownloads(workDir))

	entries, err := filepath.Glob(filepath.Join(downloads, "*"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func writeFile(p string) error {
	return os.WriteFile(p, []byte("partial"), 0644)
}
