package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/SiriusScan/host-diff/sirius"
	"github.com/SiriusScan/host-diff/sirius/hostdiff"
	"github.com/SiriusScan/host-diff/sirius/queue"
)

var uploadCmd = &cobra.Command{
	Use:   "upload FILE...",
	Short: "store scan files, or publish them to the ingest queue with --queue",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doUpload,
}

var historyCmd = &cobra.Command{
	Use:   "history IP",
	Short: "list the snapshots of a host, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  doHistory,
}

var showCmd = &cobra.Command{
	Use:   "show ID",
	Short: "print a stored snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  doShow,
}

var compareCmd = &cobra.Command{
	Use:   "compare OLD_ID NEW_ID",
	Short: "report what changed between two snapshots",
	Args:  cobra.ExactArgs(2),
	RunE:  doCompare,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "verify the configured store is reachable",
	Args:  cobra.NoArgs,
	RunE:  doCheck,
}

func doCheck(cmd *cobra.Command, _ []string) error {
	b, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	if b.db != nil {
		var result int
		if err := b.db.WithContext(cmd.Context()).Raw("SELECT 1").Scan(&result).Error; err != nil {
			return fmt.Errorf("%w: %v", sirius.ErrUnavailable, err)
		}
	}
	// A read of an address nothing is stored under exercises the store round trip.
	if _, err := b.store.ListByIP(cmd.Context(), "0.0.0.0"); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s store is reachable\n", cfg.Backend())
	return nil
}

func doUpload(cmd *cobra.Command, args []string) error {
	toQueue, err := cmd.Flags().GetBool("queue")
	if err != nil {
		return err
	}

	if toQueue {
		for _, path := range args {
			content, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			body, err := hostdiff.EncodeUploadMessage(filepath.Base(path), content)
			if err != nil {
				return err
			}
			if err := queue.Send(cfg.Queue.URL, cfg.Queue.Name, body); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", path)
		}
		return nil
	}

	b, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	svc := b.service(cfg)

	var failed int
	for _, path := range args {
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		summary, err := svc.UploadSnapshot(cmd.Context(), content, filepath.Base(path))
		if err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", summary.ID, summary.IPAddress, summary.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(args))
	}
	return nil
}

func doHistory(cmd *cobra.Command, args []string) error {
	b, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	history, err := b.service(cfg).GetHostHistory(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), history)
}

func doShow(cmd *cobra.Command, args []string) error {
	b, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	snap, err := b.service(cfg).GetSnapshot(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), snap)
}

func doCompare(cmd *cobra.Command, args []string) error {
	summaryOnly, err := cmd.Flags().GetBool("summary")
	if err != nil {
		return err
	}

	b, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	report, err := b.service(cfg).CompareSnapshots(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	if summaryOnly {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), report.Summary)
		return err
	}
	return printJSON(cmd.OutOrStdout(), report)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
