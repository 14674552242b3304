package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cgast/dsverify/pkg/checkpoint"
)

func (c *cli) checkpoints() (*checkpoint.Manager, error) {
	return checkpoint.NewManager(c.path(c.cfg.Checkpoint.Dir))
}

// saveCheckpoint snapshots the configured paths and returns the checkpoint name.
func (c *cli) saveCheckpoint() (string, error) {
	sb, err := c.sandbox()
	if err != nil {
		return "", err
	}
	snap, err := checkpoint.Capture(sb, c.cfg.Checkpoint.Paths)
	if err != nil {
		return "", err
	}
	mgr, err := c.checkpoints()
	if err != nil {
		return "", err
	}
	name := checkpoint.NewName(time.Now())
	if err := mgr.Save(name, snap); err != nil {
		return "", err
	}
	c.log.Info("checkpoint saved", zap.String("name", name), zap.Int("files", len(snap.Files)))
	return name, nil
}

func newCheckpointCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Save, inspect and restore source snapshots",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "save",
		Short: "Snapshot the configured source files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, err := c.saveCheckpoint()
			if err != nil {
				return err
			}
			cmd.Println(name)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved checkpoints, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := c.checkpoints()
			if err != nil {
				return err
			}
			infos, err := mgr.List()
			if err != nil {
				return err
			}
			for _, info := range infos {
				cmd.Printf("%s  %3d files  %s\n", info.Name, info.Files, mutedStyle.Render(info.Timestamp.Format(time.RFC3339)))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "diff <name>",
		Short: "Show files changed since a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := c.checkpoints()
			if err != nil {
				return err
			}
			snap, err := mgr.Load(args[0])
			if err != nil {
				return err
			}
			sb, err := c.sandbox()
			if err != nil {
				return err
			}
			current, err := checkpoint.Capture(sb, snap.Patterns)
			if err != nil {
				return err
			}
			for _, ch := range checkpoint.Diff(snap, current) {
				cmd.Printf("%-8s %s\n", ch.Type, ch.Path)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore <name>",
		Short: "Write the files of a checkpoint back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := c.checkpoints()
			if err != nil {
				return err
			}
			snap, err := mgr.Load(args[0])
			if err != nil {
				return err
			}
			sb, err := c.sandbox()
			if err != nil {
				return err
			}
			restored, err := checkpoint.Restore(sb, snap)
			for _, p := range restored {
				cmd.Printf("restored %s\n", p)
			}
			return err
		},
	})
	return cmd
}
