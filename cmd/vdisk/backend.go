package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/jbweber/vdisk/internal/config"
	"github.com/jbweber/vdisk/internal/libvirt"
	"github.com/jbweber/vdisk/internal/metastore"
	"github.com/jbweber/vdisk/internal/output"
	"github.com/jbweber/vdisk/internal/storage"
	"github.com/jbweber/vdisk/internal/vdisk"
	"github.com/jbweber/vdisk/internal/virtdisk"
)

// backend is an open connection to the host virtual disk service.
type backend struct {
	platform vdisk.Platform

	// Set for the libvirt backend only.
	client  *libvirt.Client
	manager *storage.Manager
	meta    *metastore.Store
}

// openBackend connects to the backend selected by the configuration.
func openBackend(ctx context.Context) (*backend, error) {
	if cfg.ResolvedBackend() == config.BackendVirtDisk {
		p, err := virtdisk.New(log)
		if err != nil {
			return nil, err
		}
		return &backend{platform: p}, nil
	}
	return openLibvirt(ctx)
}

func openLibvirt(ctx context.Context) (*backend, error) {
	opts := cfg.Libvirt.Options()
	opts.Log = log

	log.Debugf("Connecting to libvirt at %s...", opts.Socket)
	client, err := libvirt.ConnectWithContext(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt: %w", err)
	}

	meta, err := metastore.Open(ctx, metastore.Config{
		Path:     cfg.Metadata.Path,
		InMemory: cfg.Metadata.InMemory,
	}, log)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	mgr := storage.NewManager(client.Libvirt(),
		storage.WithPool(cfg.Libvirt.Pool),
		storage.WithMetadataStore(meta),
		storage.WithLogger(log),
	)
	b := &backend{platform: mgr, client: client, manager: mgr, meta: meta}

	if err := mgr.EnsureDefaultPool(ctx, cfg.Libvirt.PoolPath); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to ensure storage pool: %w", err)
	}
	return b, nil
}

// Close releases the backend, warning about anything that fails to close.
func (b *backend) Close() {
	var result *multierror.Error
	if b.meta != nil {
		result = multierror.Append(result, b.meta.Close())
	}
	if b.client != nil {
		result = multierror.Append(result, b.client.Close())
	}
	if err := result.ErrorOrNil(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close backend: %v\n", err)
	}
}

// requireLibvirt fails for commands that only exist on the libvirt backend.
func (b *backend) requireLibvirt(what string) error {
	if b.manager == nil {
		return fmt.Errorf("%s requires the libvirt backend", what)
	}
	return nil
}

// diskOptions returns the options shared by every Disk the CLI creates.
func diskOptions() []vdisk.Option {
	return []vdisk.Option{
		vdisk.WithLogger(log),
		vdisk.WithPollInterval(cfg.Operations.PollInterval),
	}
}

// newFormatter returns the formatter selected by --output.
func newFormatter(cmd *cobra.Command) (output.Formatter, error) {
	noHeaders, _ := cmd.Flags().GetBool("no-headers")
	if err := output.ValidateFormat(cfg.Defaults.Output); err != nil {
		return nil, err
	}
	return output.NewFormatter(output.Options{
		Format:    output.Format(cfg.Defaults.Output),
		NoHeaders: noHeaders,
	})
}

func printFormatted(s string, err error) error {
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	fmt.Print(s)
	return nil
}
