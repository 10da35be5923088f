// Command journalctl is an operational CLI for the cassandra-journal
// library: inspect a PID's highest sequence number, replay its
// events, or issue a delete_to against a live cluster. Grounded on the
// cobra root-command wiring in the pack's bd CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/osakka/cassandra-journal/internal/config"
	"github.com/osakka/cassandra-journal/internal/cqlsession"
	"github.com/osakka/cassandra-journal/internal/journal"
	"github.com/osakka/cassandra-journal/internal/logger"
)

var cfgFromEnv *config.Config

// textCodec treats every event payload as opaque text, adequate for a CLI
// that only needs to report sequence numbers and byte lengths, not decode
// application-specific event types.
type textCodec struct{}

func (textCodec) Encode(event interface{}) ([]byte, int, string, error) {
	return []byte(fmt.Sprintf("%v", event)), 0, "text/plain", nil
}

func (textCodec) Decode(payload []byte, serID int, manifest string) (interface{}, error) {
	return string(payload), nil
}

func openJournal(ctx context.Context) (*journal.Journal, error) {
	session, err := cqlsession.Dial(cfgFromEnv)
	if err != nil {
		return nil, fmt.Errorf("dial cluster: %w", err)
	}
	return journal.Open(ctx, cfgFromEnv, session, textCodec{}, nil)
}

func main() {
	var err error
	cfgFromEnv, err = config.FromEnvironment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "journalctl:", err)
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:   "journalctl",
		Short: "Inspect and administer a cassandra-journal event journal",
	}

	root.AddCommand(highestSeqCmd())
	root.AddCommand(replayCmd())
	root.AddCommand(deleteToCmd())

	if err := root.Execute(); err != nil {
		logger.Error("journalctl: %v", err)
		os.Exit(1)
	}
}

func highestSeqCmd() *cobra.Command {
	var fromSeq int64

	cmd := &cobra.Command{
		Use:   "highest-seq <persistence-id>",
		Short: "Print the highest sequence number stored for a persistence id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			j, err := openJournal(ctx)
			if err != nil {
				return err
			}
			defer j.Close()

			seq, err := j.HighestSequenceNr(ctx, journal.PersistenceID(args[0]), fromSeq)
			if err != nil {
				return err
			}
			fmt.Println(seq)
			return nil
		},
	}
	cmd.Flags().Int64Var(&fromSeq, "from", 0, "sequence number to start probing from")
	return cmd
}

func replayCmd() *cobra.Command {
	var fromSeq, toSeq, maxEvents int64

	cmd := &cobra.Command{
		Use:   "replay <persistence-id>",
		Short: "Replay and print events for a persistence id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			j, err := openJournal(ctx)
			if err != nil {
				return err
			}
			defer j.Close()

			effectiveTo := toSeq
			if effectiveTo == 0 {
				effectiveTo = journal.AllSequenceNrs
			}

			return j.ReplayMessages(ctx, journal.PersistenceID(args[0]), fromSeq, effectiveTo, maxEvents, func(row journal.SerializedRow) error {
				fmt.Printf("seq=%d writer=%s bytes=%d tags=%v\n", row.SequenceNr, row.WriterUUID, len(row.EventPayload), row.Tags)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&fromSeq, "from", 1, "lowest sequence number to replay")
	cmd.Flags().Int64Var(&toSeq, "to", 0, "highest sequence number to replay (0 means unbounded)")
	cmd.Flags().Int64Var(&maxEvents, "max", 0, "maximum number of events to deliver (0 means unbounded)")
	return cmd
}

func deleteToCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "delete-to <persistence-id> [sequence-nr]",
		Short: "Logically and physically delete events up to a sequence number",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			j, err := openJournal(ctx)
			if err != nil {
				return err
			}
			defer j.Close()

			toSeq := journal.AllSequenceNrs
			if !all {
				if len(args) != 2 {
					return fmt.Errorf("sequence-nr is required unless --all is set")
				}
				if _, err := fmt.Sscanf(args[1], "%d", &toSeq); err != nil {
					return fmt.Errorf("invalid sequence-nr %q: %w", args[1], err)
				}
			}

			return j.DeleteTo(ctx, journal.PersistenceID(args[0]), toSeq)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "delete every event currently stored for this persistence id")
	return cmd
}
