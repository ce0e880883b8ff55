package main

import (
	"fmt"
	"os"

	"github.com/mbme/arhiv-sub000/pkg/arhivlog"
	"github.com/mbme/arhiv-sub000/pkg/manager"
	"github.com/mbme/arhiv-sub000/pkg/migrations"
	"github.com/mbme/arhiv-sub000/pkg/schema/testschema"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "arhiv",
	Short: "Arhiv - local-first encrypted multi-instance document store",
	Long: `Arhiv is a local-first document store that stays encrypted at rest,
tracks every edit as an immutable revision, and merges cleanly when
the same archive is edited from more than one instance.

This binary drives one archive directly through its storage and
state directories; there is no server to connect to.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"arhiv version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("storage-dir", "./arhiv-storage", "Storage directory (committed db + blobs)")
	rootCmd.PersistentFlags().String("state-dir", "./arhiv-state", "State directory (staged edits, locks, staged BLOBs)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(passwdCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(stageCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(eraseCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(unlockDocCmd)
	rootCmd.AddCommand(assetCmd)
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	arhivlog.Init(arhivlog.Config{
		Level:      arhivlog.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// newManager builds a Manager over the persistent --storage-dir/--state-dir
// flags, wired to the reference test schema. A real deployment would plug
// in its own schema.DataSchema here instead.
func newManager(cmd *cobra.Command) *manager.Manager {
	storageDir, _ := cmd.Flags().GetString("storage-dir")
	stateDir, _ := cmd.Flags().GetString("state-dir")

	engine := migrations.NewEngine(testschema.DataVersion)

	return manager.New(storageDir, stateDir, testschema.New(), engine)
}

// readPassword returns the archive password from --password, falling back
// to ARHIV_PASSWORD so scripts don't have to put it on the command line.
func readPassword(cmd *cobra.Command) (string, error) {
	password, _ := cmd.Flags().GetString("password")
	if password != "" {
		return password, nil
	}
	if env := os.Getenv("ARHIV_PASSWORD"); env != "" {
		return env, nil
	}
	return "", fmt.Errorf("password required: pass --password or set ARHIV_PASSWORD")
}

func addPasswordFlag(cmd *cobra.Command) {
	cmd.Flags().String("password", "", "Archive password (or set ARHIV_PASSWORD)")
}

// openRead unlocks mgr and opens a ReadGuard; callers must Close() it.
func openRead(cmd *cobra.Command, mgr *manager.Manager) (*manager.ReadGuard, error) {
	password, err := readPassword(cmd)
	if err != nil {
		return nil, err
	}
	if err := mgr.Unlock(password); err != nil {
		return nil, fmt.Errorf("failed to unlock archive: %v", err)
	}
	return mgr.Open()
}

// openWrite unlocks mgr and opens a WriteGuard; callers must Close() it.
func openWrite(cmd *cobra.Command, mgr *manager.Manager) (*manager.WriteGuard, error) {
	password, err := readPassword(cmd)
	if err != nil {
		return nil, err
	}
	if err := mgr.Unlock(password); err != nil {
		return nil, fmt.Errorf("failed to unlock archive: %v", err)
	}
	return mgr.OpenMut()
}
