package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a brand-new archive",
	Long: `Create a brand-new archive protected by password.

Fails if a keyfile already exists at --storage-dir.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword(cmd)
		if err != nil {
			return err
		}

		mgr := newManager(cmd)
		if err := mgr.Create(password); err != nil {
			return fmt.Errorf("failed to create archive: %v", err)
		}

		fmt.Println("✓ Archive created")
		fmt.Printf("  Storage: %s\n", mustFlag(cmd, "storage-dir"))
		fmt.Printf("  State:   %s\n", mustFlag(cmd, "state-dir"))

		return nil
	},
}

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Re-encrypt the data key under a new password",
	RunE: func(cmd *cobra.Command, args []string) error {
		oldPassword, _ := cmd.Flags().GetString("old-password")
		newPassword, _ := cmd.Flags().GetString("new-password")
		if oldPassword == "" || newPassword == "" {
			return fmt.Errorf("--old-password and --new-password are both required")
		}

		mgr := newManager(cmd)
		if err := mgr.ChangeKeyfilePassword(oldPassword, newPassword); err != nil {
			return fmt.Errorf("failed to change password: %v", err)
		}

		fmt.Println("✓ Password changed")
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the archive's compatibility record and replica identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := newManager(cmd)
		rg, err := openRead(cmd, mgr)
		if err != nil {
			return err
		}
		defer rg.Close()

		info := rg.GetInfo()
		fmt.Printf("Instance:        %s\n", info.SelfInstance)
		fmt.Printf("Data version:    %d\n", info.DataVersion)
		fmt.Printf("Storage version: %d\n", info.StorageVersion)
		fmt.Printf("Staged edits:    %t\n", rg.HasStagedDocuments())
		fmt.Printf("Conflicts:       %d\n", len(rg.IterConflicts()))

		return nil
	},
}

func init() {
	addPasswordFlag(initCmd)

	passwdCmd.Flags().String("old-password", "", "Current archive password")
	passwdCmd.Flags().String("new-password", "", "New archive password")

	addPasswordFlag(infoCmd)
}

func mustFlag(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}
