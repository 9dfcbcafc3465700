package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/meigma/bunpatch"
)

// RootCmd builds the bunpatch command tree.
func RootCmd() *cobra.Command {
	opts := defaultOptions()
	var logger *slog.Logger

	rootCmd := &cobra.Command{
		Use:           "bunpatch",
		Short:         "Extract and repack the entrypoint of compiled Bun executables",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger = opts.logger()
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&opts.Debug, "debug", "d", opts.Debug, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&opts.BackupDir, "backup-dir", opts.BackupDir, "directory holding backups")

	lib := func() []bunpatch.Option { return opts.libraryOptions(logger) }

	rootCmd.AddCommand(
		extractCmd(lib),
		repackCmd(&opts, lib),
		listCmd(lib),
		backupCmd(&opts, lib),
		restoreCmd(&opts, lib),
	)
	return rootCmd
}

func extractCmd(lib func() []bunpatch.Option) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "extract <executable>",
		Short: "Write the entrypoint source to a file or stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := bunpatch.Extract(args[0], lib()...)
			if err != nil {
				return err
			}
			if output == "" {
				_, err = cmd.OutOrStdout().Write(src)
				return err
			}
			return os.WriteFile(output, src, 0o644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func repackCmd(opts *options, lib func() []bunpatch.Option) *cobra.Command {
	var output string
	var noBackup bool
	cmd := &cobra.Command{
		Use:   "repack <executable> <source-file>",
		Short: "Replace the entrypoint source and rewrite the executable",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			libOpts := lib()
			if !noBackup && opts.BackupDir != "" {
				libOpts = append(libOpts, bunpatch.WithBackupDir(opts.BackupDir))
			}
			return bunpatch.Repack(cmd.Context(), args[0], content, output, libOpts...)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output executable (default: rewrite in place)")
	cmd.Flags().BoolVar(&noBackup, "no-backup", false, "do not back up the original executable")
	cmd.Flags().StringVar(&opts.Codesign, "codesign", opts.Codesign, "codesign tool used to re-sign Mach-O output")
	cmd.Flags().BoolVar(&opts.NoSign, "no-sign", opts.NoSign, "leave Mach-O output unsigned")
	return cmd
}

func listCmd(lib func() []bunpatch.Option) *cobra.Command {
	return &cobra.Command{
		Use:   "list <executable>",
		Short: "List the modules embedded in an executable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := bunpatch.Inspect(args[0], lib()...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "format: %s\n", info.Format)
			fmt.Fprintf(out, "section header: %d bytes\n", info.SectionHeaderSize)
			fmt.Fprintf(out, "module record: %d bytes\n", info.ModuleStructSize)
			fmt.Fprintf(out, "payload: %d bytes\n", info.PayloadSize)
			fmt.Fprintf(out, "entry point id: %d\n", info.EntryPointID)
			fmt.Fprintf(out, "flags: %#x\n", info.Flags)
			fmt.Fprintf(out, "exec argv: %q\n\n", info.CompileExecArgv)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tNAME\tSIZE\tLOADER\tFORMAT\tENCODING\tSIDE\tDIGEST")
			for _, m := range info.Modules {
				name := m.Name
				if m.Entrypoint {
					name += " *"
				}
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
					m.Index, name, m.Size, m.Loader, m.ModuleFormat, m.Encoding, m.Side, m.Digest.Encoded()[:12])
			}
			return tw.Flush()
		},
	}
}

func backupCmd(opts *options, lib func() []bunpatch.Option) *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "backup <executable>",
		Short: "Store a compressed copy of an executable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				info *bunpatch.BackupInfo
				err  error
			)
			if status {
				info, err = bunpatch.BackupStatus(args[0], opts.BackupDir)
			} else {
				info, err = bunpatch.Backup(args[0], opts.BackupDir, lib()...)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "source:   %s\n", info.SourcePath)
			fmt.Fprintf(out, "image:    %s\n", info.ImagePath)
			fmt.Fprintf(out, "format:   %s\n", info.Format)
			fmt.Fprintf(out, "size:     %d\n", info.Size)
			fmt.Fprintf(out, "digest:   %s\n", info.Digest)
			fmt.Fprintf(out, "created:  %s\n", info.Created.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "show the existing backup instead of creating one")
	return cmd
}

func restoreCmd(opts *options, lib func() []bunpatch.Option) *cobra.Command {
	var discard bool
	cmd := &cobra.Command{
		Use:   "restore <executable>",
		Short: "Restore an executable from its backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bunpatch.Restore(opts.BackupDir, args[0], lib()...); err != nil {
				return err
			}
			if discard {
				return bunpatch.DiscardBackup(args[0], opts.BackupDir, lib()...)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&discard, "discard", false, "delete the backup after a successful restore")
	return cmd
}
