package main

import (
	"context"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/jbweber/vdisk/api/v1alpha1"
	"github.com/jbweber/vdisk/internal/naming"
	"github.com/jbweber/vdisk/internal/vdisk"
)

var createCmd = &cobra.Command{
	Use:   "create <path>",
	Short: "Create a virtual disk image",
	Long: `Create a new virtual disk image.

The file extension selects the image format. Differencing disks need
--parent and inherit the parent's size when --size is omitted.

Example:
  vdisk create data.vhdx --size 20Gi
  vdisk create child.vhdx --type differencing --parent base.vhdx`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		flags := cmd.Flags()
		typeName, _ := flags.GetString("type")
		sizeStr, _ := flags.GetString("size")
		parent, _ := flags.GetString("parent")

		if typeName == "" {
			typeName = cfg.Defaults.DiskType
		}
		diskType, err := vdisk.ParseDiskType(typeName)
		if err != nil {
			return err
		}

		var size uint64
		if sizeStr != "" {
			if size, err = v1alpha1.ParseSize(sizeStr); err != nil {
				return err
			}
		}

		spec := vdisk.CreateSpec{
			Path:               path,
			ParentPath:         parent,
			Size:               size,
			BlockSize:          cfg.Defaults.BlockSize,
			LogicalSectorSize:  cfg.Defaults.LogicalSectorSize,
			PhysicalSectorSize: cfg.Defaults.PhysicalSectorSize,
		}
		if flags.Changed("block-size") {
			spec.BlockSize, _ = flags.GetUint32("block-size")
		}
		if flags.Changed("logical-sector-size") {
			spec.LogicalSectorSize, _ = flags.GetUint32("logical-sector-size")
		}
		if flags.Changed("physical-sector-size") {
			spec.PhysicalSectorSize, _ = flags.GetUint32("physical-sector-size")
		}

		ctx := context.Background()
		b, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		d, err := vdisk.New(b.platform, diskType, diskOptions()...)
		if err != nil {
			return err
		}
		defer d.Close()

		fmt.Printf("Creating %s virtual disk %s...\n", diskType, path)
		if err := d.Create(ctx, spec); err != nil {
			return fmt.Errorf("failed to create virtual disk: %w", err)
		}

		fmt.Printf("✓ Virtual disk %s created\n", d.Path())
		return nil
	},
}

func init() {
	flags := createCmd.Flags()
	flags.StringP("type", "t", "", "disk type: fixed, dynamic or differencing (default from config)")
	flags.StringP("size", "s", "", "virtual size, e.g. 20Gi")
	flags.StringP("parent", "p", "", "parent image of a differencing disk")
	flags.Uint32("block-size", 0, "block size in bytes (0 selects the host default)")
	flags.Uint32("logical-sector-size", 0, "logical sector size: 512 or 4096")
	flags.Uint32("physical-sector-size", 0, "physical sector size: 512 or 4096")
}

// openDisk opens path as a Disk of the type the host reports for it.
// Hosts that cannot report a type get a dynamic Disk.
func openDisk(ctx context.Context, b *backend, path string, access vdisk.AccessMask, extra ...vdisk.Option) (*vdisk.Disk, error) {
	opts := append(diskOptions(), extra...)
	d, err := vdisk.New(b.platform, vdisk.DiskTypeDynamic, opts...)
	if err != nil {
		return nil, err
	}
	if err := d.Open(ctx, path, access, vdisk.OpenFlagNone); err != nil {
		return nil, fmt.Errorf("failed to open virtual disk: %w", err)
	}

	info, err := d.DiskInfo(ctx, vdisk.InfoProviderSubtype)
	if err != nil {
		if vdisk.IsPlatformCode(err, vdisk.StatusNotSupported) {
			return d, nil
		}
		d.Close()
		return nil, err
	}
	t, err := vdisk.DiskTypeForSubtype(info.ProviderSubtype)
	if err != nil || t == vdisk.DiskTypeDynamic {
		return d, nil
	}

	d.Close()
	typed, err := vdisk.New(b.platform, t, opts...)
	if err != nil {
		return nil, err
	}
	if err := typed.Open(ctx, path, access, vdisk.OpenFlagNone); err != nil {
		return nil, fmt.Errorf("failed to open virtual disk: %w", err)
	}
	return typed, nil
}

var infoCmd = &cobra.Command{
	Use:   "info <path>",
	Short: "Show information about a virtual disk",
	Long: `Query one piece of information about a virtual disk image.

Versions: size, identifier, parent-location, parent-identifier,
parent-timestamp, storage-type, provider-subtype, 4k-aligned,
physical-disk, physical-sector-size, smallest-safe-size, fragmentation,
is-loaded, virtual-disk-id.

Use --chain to list the ancestors of a differencing disk instead.

Example:
  vdisk info data.vhdx
  vdisk info child.vhdx --version parent-location -o yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		versionName, _ := cmd.Flags().GetString("version")
		chain, _ := cmd.Flags().GetBool("chain")
		ver, err := vdisk.ParseInfoVersion(versionName)
		if err != nil {
			return err
		}
		formatter, err := newFormatter(cmd)
		if err != nil {
			return err
		}

		ctx := context.Background()
		b, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		d, err := openDisk(ctx, b, args[0], vdisk.AccessRead)
		if err != nil {
			return err
		}
		defer d.Close()

		if chain {
			parents, err := d.ParentChain(ctx)
			if err != nil {
				return fmt.Errorf("failed to walk parent chain: %w", err)
			}
			if len(parents) == 0 {
				fmt.Printf("%s has no parents\n", d.Path())
			}
			for i, p := range parents {
				fmt.Printf("%d  %s\n", i+1, p)
			}
			return nil
		}

		info, err := d.DiskInfo(ctx, ver)
		if err != nil {
			return fmt.Errorf("failed to query %s: %w", ver, err)
		}
		return printFormatted(formatter.FormatInfo(info))
	},
}

func init() {
	infoCmd.Flags().String("version", vdisk.InfoSize.String(), "information to query")
	infoCmd.Flags().Bool("chain", false, "list the parent chain")
}

var resizeCmd = &cobra.Command{
	Use:   "resize <path> <size>",
	Short: "Change the virtual size of a disk",
	Long: `Change the virtual size of a virtual disk image.

Fixed disks cannot be resized; the command reports this and leaves the
image unchanged.

Example:
  vdisk resize data.vhdx 40Gi`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, err := v1alpha1.ParseSize(args[1])
		if err != nil {
			return err
		}

		ctx := context.Background()
		b, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		d, err := openDisk(ctx, b, args[0], vdisk.AccessAll)
		if err != nil {
			return err
		}
		defer d.Close()

		resized, err := d.Resize(ctx, size)
		if err != nil {
			return fmt.Errorf("failed to resize virtual disk: %w", err)
		}
		if !resized {
			fmt.Printf("%s disks cannot be resized, %s left unchanged\n", d.Type(), d.Path())
			return nil
		}

		fmt.Printf("✓ Virtual disk %s resized to %s\n", d.Path(), v1alpha1.FormatSize(size))
		return nil
	},
}

var mirrorCmd = &cobra.Command{
	Use:   "mirror <path> [destination]",
	Short: "Mirror a virtual disk to a new image",
	Long: `Copy a virtual disk to a new image and switch to it.

The destination defaults to <name>-mirror<ext> next to the source. Once
every block is copied the mirror is broken and the destination becomes
the active image.

Example:
  vdisk mirror data.vhdx D:\backup\data.vhdx`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest := naming.MirrorPath(args[0])
		if len(args) == 2 {
			dest = args[1]
		}

		ctx := context.Background()
		b, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		progress := vdisk.WithProgress(func(op string, p vdisk.Progress) {
			fmt.Fprintf(os.Stderr, "\r%s: %5.1f%%", op, p.Percent())
		})
		d, err := openDisk(ctx, b, args[0], vdisk.AccessAll, progress)
		if err != nil {
			return err
		}
		defer d.Close()

		fmt.Printf("Mirroring %s to %s...\n", args[0], dest)
		err = d.Mirror(ctx, dest)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to mirror virtual disk: %w", err)
		}

		fmt.Printf("✓ Virtual disk mirrored, active image is now %s\n", d.Path())
		return nil
	},
}

var depsCmd = &cobra.Command{
	Use:   "deps [drive]",
	Short: "List the storage dependencies of a drive",
	Long: `List the virtual disks a mounted drive depends on.

A letter selects a volume and a digit selects a physical drive. The
default is drive E.

Example:
  vdisk deps F
  vdisk deps 1 -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		drive := rune(vdisk.DefaultDependencyDrive)
		if len(args) == 1 {
			if utf8.RuneCountInString(args[0]) != 1 {
				return fmt.Errorf("drive must be a single letter or digit, got %q", args[0])
			}
			drive, _ = utf8.DecodeRuneInString(args[0])
		}
		formatter, err := newFormatter(cmd)
		if err != nil {
			return err
		}

		ctx := context.Background()
		b, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		entries, err := vdisk.NewResolver(b.platform, vdisk.WithLogger(log)).Resolve(ctx, drive)
		if err != nil {
			return fmt.Errorf("failed to resolve dependencies: %w", err)
		}
		return printFormatted(formatter.FormatDependencies(entries))
	},
}
