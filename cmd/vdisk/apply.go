package main

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/jbweber/vdisk/api/v1alpha1"
	"github.com/jbweber/vdisk/internal/image"
	"github.com/jbweber/vdisk/internal/loader"
)

var applyCmd = &cobra.Command{
	Use:   "apply -f <disk.yaml>...",
	Short: "Apply VirtualDisk manifests",
	Long: `Create or update virtual disks from VirtualDisk YAML manifests.

For each manifest the image is opened, or created when it does not exist,
grown to spec.size, given its metadata entries and optionally mirrored.
Existing images are never shrunk or deleted.

With --save the observed status is written back into each manifest, so
that a completed mirror is not repeated on the next apply.

Example:
  vdisk apply -f data.yaml
  vdisk apply -f base.yaml -f child.yaml --save`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		files, _ := cmd.Flags().GetStringSlice("filename")
		save, _ := cmd.Flags().GetBool("save")
		if len(files) == 0 {
			return fmt.Errorf("at least one manifest is required (-f)")
		}
		formatter, err := newFormatter(cmd)
		if err != nil {
			return err
		}

		disks := make([]*v1alpha1.VirtualDisk, 0, len(files))
		for _, f := range files {
			vd, err := loader.LoadFromFile(f)
			if err != nil {
				return err
			}
			disks = append(disks, vd)
		}

		ctx := context.Background()
		b, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		var result *multierror.Error
		for i, vd := range disks {
			err := image.Apply(ctx, vd, b.platform,
				image.WithLogger(log),
				image.WithDiskOptions(diskOptions()...),
			)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", files[i], err))
			}
			if save {
				if err := loader.SaveToFile(vd, files[i]); err != nil {
					result = multierror.Append(result, err)
				}
			}
		}

		if err := printFormatted(formatter.FormatDiskList(disks)); err != nil {
			result = multierror.Append(result, err)
		}
		return result.ErrorOrNil()
	},
}

func init() {
	applyCmd.Flags().StringSliceP("filename", "f", nil, "VirtualDisk manifest to apply (repeatable)")
	applyCmd.Flags().Bool("save", false, "write the observed status back into each manifest")
}
