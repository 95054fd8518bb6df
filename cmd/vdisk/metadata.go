package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jbweber/vdisk/internal/naming"
	"github.com/jbweber/vdisk/internal/output"
	"github.com/jbweber/vdisk/internal/vdisk"
)

var metadataCmd = &cobra.Command{
	Use:     "metadata",
	Aliases: []string{"meta"},
	Short:   "Manage the metadata attached to a disk",
	Long: `Manage the GUID-keyed metadata blobs attached to a virtual disk.

A key is either a GUID or a name. Names map to the same GUID every time,
so "owner" always addresses the same entry.`,
}

func init() {
	metadataCmd.AddCommand(metadataSetCmd)
	metadataCmd.AddCommand(metadataGetCmd)
	metadataCmd.AddCommand(metadataDeleteCmd)
	metadataCmd.AddCommand(metadataListCmd)
}

// metadataKey parses key as a GUID, or derives one from it.
func metadataKey(key string) uuid.UUID {
	if id, err := uuid.Parse(key); err == nil {
		return id
	}
	return naming.MetadataID(key)
}

// withDisk opens path, runs fn and closes everything again.
func withDisk(path string, access vdisk.AccessMask, fn func(ctx context.Context, d *vdisk.Disk) error) error {
	ctx := context.Background()
	b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	d, err := openDisk(ctx, b, path, access)
	if err != nil {
		return err
	}
	defer d.Close()

	return fn(ctx, d)
}

var metadataSetCmd = &cobra.Command{
	Use:   "set <path> <key> <value>",
	Short: "Attach a metadata entry",
	Long: `Attach a metadata entry to a disk, replacing any entry with the same key.

Example:
  vdisk metadata set data.vhdx owner storage-team
  vdisk metadata set data.vhdx 0b6a1f52-5c3e-4a8d-8f21-7e9d4c3b2a10 raw`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := metadataKey(args[1])
		return withDisk(args[0], vdisk.AccessAll, func(ctx context.Context, d *vdisk.Disk) error {
			if err := d.Metadata().Set(ctx, key, []byte(args[2])); err != nil {
				return fmt.Errorf("failed to set metadata: %w", err)
			}
			fmt.Printf("✓ Metadata %s set on %s\n", key, d.Path())
			return nil
		})
	},
}

var metadataGetCmd = &cobra.Command{
	Use:   "get <path> <key>",
	Short: "Print a metadata entry",
	Long: `Print the raw content of a metadata entry to stdout.

Example:
  vdisk metadata get data.vhdx owner`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := metadataKey(args[1])
		return withDisk(args[0], vdisk.AccessRead, func(ctx context.Context, d *vdisk.Disk) error {
			data, err := d.Metadata().Lookup(ctx, key)
			if err != nil {
				return fmt.Errorf("failed to get metadata: %w", err)
			}
			_, err = os.Stdout.Write(data)
			return err
		})
	},
}

var metadataDeleteCmd = &cobra.Command{
	Use:   "delete <path> <key>",
	Short: "Remove a metadata entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := metadataKey(args[1])
		return withDisk(args[0], vdisk.AccessAll, func(ctx context.Context, d *vdisk.Disk) error {
			if err := d.Metadata().Delete(ctx, key); err != nil {
				return fmt.Errorf("failed to delete metadata: %w", err)
			}
			fmt.Printf("✓ Metadata %s deleted from %s\n", key, d.Path())
			return nil
		})
	},
}

var metadataListCmd = &cobra.Command{
	Use:   "list <path>",
	Short: "List the metadata entries of a disk",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, err := newFormatter(cmd)
		if err != nil {
			return err
		}
		return withDisk(args[0], vdisk.AccessRead, func(ctx context.Context, d *vdisk.Disk) error {
			store := d.Metadata()
			keys, err := store.Keys(ctx)
			if err != nil {
				return fmt.Errorf("failed to list metadata: %w", err)
			}

			items := make([]output.MetadataItem, 0, len(keys))
			for _, key := range keys {
				size, err := store.Size(ctx, key)
				if err != nil {
					return fmt.Errorf("failed to size metadata %s: %w", key, err)
				}
				items = append(items, output.MetadataItem{ID: key, Size: size})
			}
			return printFormatted(formatter.FormatMetadata(items))
		})
	},
}
