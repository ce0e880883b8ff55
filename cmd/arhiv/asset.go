package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mbme/arhiv-sub000/pkg/arhivid"
	"github.com/spf13/cobra"
)

var assetCmd = &cobra.Command{
	Use:   "asset",
	Short: "Manage BLOB-bearing asset documents",
}

var assetPutCmd = &cobra.Command{
	Use:   "put FILE",
	Short: "Stage a new asset document wrapping FILE",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filePath := args[0]
		mediaType, _ := cmd.Flags().GetString("media-type")
		lockKey, _ := cmd.Flags().GetString("lock-key")

		mgr := newManager(cmd)
		wg, err := openWrite(cmd, mgr)
		if err != nil {
			return err
		}
		defer wg.Close()

		doc, err := wg.CreateAsset(filePath, mediaType, lockKey)
		if err != nil {
			return fmt.Errorf("failed to create asset: %v", err)
		}
		if err := wg.SaveChanges(); err != nil {
			return fmt.Errorf("failed to save staged changes: %v", err)
		}

		fmt.Printf("✓ Staged asset %s\n", doc.Id)
		return nil
	},
}

var assetGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Decrypt an asset's BLOB to --out, or stdout if unset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := arhivid.Id(args[0])
		outPath, _ := cmd.Flags().GetString("out")

		mgr := newManager(cmd)
		rg, err := openRead(cmd, mgr)
		if err != nil {
			return err
		}
		defer rg.Close()

		data, err := rg.GetAssetData(id)
		if err != nil {
			return fmt.Errorf("failed to read asset data: %v", err)
		}
		defer data.Close()

		var dest io.Writer = os.Stdout
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("failed to create %s: %v", outPath, err)
			}
			defer f.Close()
			dest = f
		}

		if _, err := io.Copy(dest, data); err != nil {
			return fmt.Errorf("failed to write asset data: %v", err)
		}

		if outPath != "" {
			fmt.Printf("✓ Wrote %s\n", outPath)
		}

		return nil
	},
}

func init() {
	assetPutCmd.Flags().String("media-type", "application/octet-stream", "Asset media type")
	assetPutCmd.Flags().String("lock-key", "", "Lock key, required if the asset document is locked")
	addPasswordFlag(assetPutCmd)

	assetGetCmd.Flags().String("out", "", "Output file path (defaults to stdout)")
	addPasswordFlag(assetGetCmd)

	assetCmd.AddCommand(assetPutCmd)
	assetCmd.AddCommand(assetGetCmd)
}
