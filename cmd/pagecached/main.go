// Command pagecached is a small operational surface over the buffer
// manager: open a page file and report on it, or open one and flush it.
// It exists to give the buffer manager a CLI collaborator the way the
// teacher's server has one, not to be a database of its own.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jobala/pagecache/buffer"
	"github.com/jobala/pagecache/storage/diskio"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func newLogger(env environment) buffer.Logger {
	if env == envDev {
		return must(zap.NewDevelopment()).Sugar()
	}
	return must(zap.NewProduction()).Sugar()
}

func newManager(env envVars) *buffer.Manager {
	logger := newLogger(env.Environment)
	ops := diskio.NewAferoFileOps(afero.NewOsFs())
	cfg := buffer.Config{PageSizeBits: env.PageSizeBits, PageCapacity: env.PageCapacity}
	return buffer.New(ops, cfg, buffer.WithLogger(logger))
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pagecached",
		Short: "Inspect and flush pagecache-backed page files",
	}

	root.AddCommand(newOpenCmd())
	root.AddCommand(newFlushCmd())
	return root
}

func newOpenCmd() *cobra.Command {
	var index int64
	cmd := &cobra.Command{
		Use:   "open [path]",
		Short: "Open a page file and print its resident-frame state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env := mustLoadEnv()
			m := newManager(env)

			fh, err := m.OpenFile(args[0])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[0], err)
			}
			defer fh.Close()

			ph, err := fh.FixPage(index, false)
			if err != nil {
				return fmt.Errorf("fixing page %d: %w", index, err)
			}
			defer ph.Release()

			fmt.Printf("file_id=%d page=%d bytes=%d\n", fh.FileID(), index, len(ph.Data()))
			for _, fr := range m.GetFrames() {
				fmt.Printf("  frame=%d page=%+v pinned=%d dirty=%t\n", fr.FrameID, fr.PageID, fr.PinCount, fr.Dirty)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&index, "page", 0, "page index to fix")
	return cmd
}

func newFlushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flush [path]",
		Short: "Open a page file and flush every dirty resident page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env := mustLoadEnv()
			m := newManager(env)

			fh, err := m.OpenFile(args[0])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[0], err)
			}
			defer fh.Close()

			before := m.Stats().Writes
			if err := fh.Flush(); err != nil {
				return fmt.Errorf("flushing %s: %w", args[0], err)
			}
			fmt.Printf("flushed %s: %d page(s) written\n", args[0], m.Stats().Writes-before)
			return nil
		},
	}
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
