package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jbweber/vdisk/internal/libvirt"
	"github.com/jbweber/vdisk/internal/output"
)

// Pool management commands
var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Manage the storage pool of the libvirt backend",
	Long: `Manage the libvirt storage pool that holds every image.

The pool is named by libvirt.pool in the configuration and is created in
libvirt.pool_path the first time vdisk connects.`,
}

func init() {
	poolCmd.AddCommand(poolEnsureCmd)
	poolCmd.AddCommand(poolInfoCmd)
	poolCmd.AddCommand(poolRefreshCmd)
}

// withPool opens the libvirt backend and runs fn against it.
func withPool(what string, fn func(ctx context.Context, b *backend) error) error {
	ctx := context.Background()
	b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.requireLibvirt(what); err != nil {
		return err
	}
	return fn(ctx, b)
}

var poolEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Create the storage pool if it does not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPool("pool ensure", func(ctx context.Context, b *backend) error {
			// openBackend already ensured the pool.
			fmt.Printf("✓ Pool %s is ready at %s\n", b.manager.Pool(), cfg.Libvirt.PoolPath)
			return nil
		})
	},
}

var poolInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show information about the storage pool",
	Long: `Display the storage pool name, type, path, state, UUID, and
capacity/allocation details.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, err := newFormatter(cmd)
		if err != nil {
			return err
		}
		return withPool("pool info", func(ctx context.Context, b *backend) error {
			info, err := b.manager.GetPoolInfo(ctx, b.manager.Pool())
			if err != nil {
				return fmt.Errorf("failed to get pool info: %w", err)
			}
			return printFormatted(formatter.FormatPool(output.PoolFrom(info)))
		})
	},
}

var poolRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the storage pool",
	Long: `Refresh the storage pool to detect external changes.

Useful after manually adding or removing image files in the pool
directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPool("pool refresh", func(ctx context.Context, b *backend) error {
			if err := b.manager.RefreshPool(ctx, b.manager.Pool()); err != nil {
				return fmt.Errorf("failed to refresh pool: %w", err)
			}
			fmt.Printf("✓ Pool %s refreshed successfully\n", b.manager.Pool())
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import <source-path> [name]",
	Short: "Import an existing image into the storage pool",
	Long: `Import an image file into the storage pool of the libvirt backend.

The file content must match the format named by its extension. The name
defaults to the base name of the file and must keep its extension.

Example:
  vdisk import /srv/images/fedora-43.qcow2
  vdisk import /srv/images/fedora-43.qcow2 base.qcow2`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		source := args[0]
		name := filepath.Base(source)
		if len(args) == 2 {
			name = args[1]
		}

		return withPool("import", func(ctx context.Context, b *backend) error {
			fmt.Printf("Importing image from %s as %s...\n", source, name)
			vol, err := b.manager.ImportImage(ctx, source, name)
			if err != nil {
				return fmt.Errorf("failed to import image: %w", err)
			}
			fmt.Printf("✓ Image %s imported to %s\n", vol.Name, vol.Path)
			return nil
		})
	},
}

var testConnCmd = &cobra.Command{
	Use:   "test-conn",
	Short: "Test libvirt connection",
	Long:  `Test connectivity to the libvirt daemon and display version information.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Testing libvirt connection...")

		opts := cfg.Libvirt.Options()
		opts.Log = log
		client, err := libvirt.Connect(opts)
		if err != nil {
			return fmt.Errorf("failed to connect to libvirt: %w", err)
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				log.Warnf("Failed to close libvirt connection: %v", closeErr)
			}
		}()

		fmt.Println("✓ Connected to libvirt daemon")

		if err := client.Ping(); err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}

		version, err := client.Version()
		if err != nil {
			return fmt.Errorf("failed to get libvirt version: %w", err)
		}
		fmt.Printf("✓ Libvirt version: %s\n", version)

		hostname, err := client.Libvirt().ConnectGetHostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		fmt.Printf("✓ Hypervisor hostname: %s\n", hostname)

		fmt.Println("\nConnection test successful!")
		return nil
	},
}
