package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/marcus/possync/internal/output"
	"github.com/marcus/possync/internal/syncer"
	"github.com/spf13/cobra"
)

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	Short:   "List and resolve sync conflicts",
	GroupID: "maintenance",
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show FAILED entries that hit a remote conflict",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer app.Close()

		qs, err := app.queuedSync()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		conflicts, err := qs.ListConflicts()
		if err != nil {
			output.Error("list conflicts: %v", err)
			return err
		}
		if jsonOut {
			return output.JSON(conflicts)
		}
		if len(conflicts) == 0 {
			output.Info("no unresolved conflicts")
			return nil
		}
		for _, e := range conflicts {
			output.Info("%s", output.QueueEntry(e))
			output.Info("  id: %s", e.ID)
		}
		return nil
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <entry-id>",
	Short: "Apply a resolution to a conflicted entry",
	Long: `Apply a per-entry resolution:

  --use-server  abandon the local mutation and restore the server's row
  --use-local   re-enqueue the local mutation and push it again
  --merge FILE  enqueue a merged payload read from FILE (or - for stdin)

Without a decision an entry stays FAILED; nothing is dropped silently.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		useServer, _ := cmd.Flags().GetBool("use-server")
		useLocal, _ := cmd.Flags().GetBool("use-local")
		mergeFile, _ := cmd.Flags().GetString("merge")

		var decision syncer.Decision
		var merged json.RawMessage
		switch {
		case useServer && !useLocal && mergeFile == "":
			decision = syncer.DecisionUseServer
		case useLocal && !useServer && mergeFile == "":
			decision = syncer.DecisionUseLocal
		case mergeFile != "" && !useServer && !useLocal:
			decision = syncer.DecisionMerge
			data, err := readPayload(mergeFile)
			if err != nil {
				output.Error("read merge payload: %v", err)
				return err
			}
			merged = data
		default:
			return fmt.Errorf("exactly one of --use-server, --use-local, --merge is required")
		}

		app, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer app.Close()

		qs, err := app.queuedSync()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if err := qs.Resolve(cmd.Context(), args[0], decision, merged); err != nil {
			output.Error("resolve: %v", err)
			return err
		}
		output.Success("entry %s resolved (%s)", args[0], decision)
		return nil
	},
}

func readPayload(path string) (json.RawMessage, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}

func init() {
	conflictsResolveCmd.Flags().Bool("use-server", false, "accept the server's version")
	conflictsResolveCmd.Flags().Bool("use-local", false, "re-push the local version")
	conflictsResolveCmd.Flags().String("merge", "", "path to a merged JSON payload (- for stdin)")

	conflictsCmd.AddCommand(conflictsListCmd, conflictsResolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}
