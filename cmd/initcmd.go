package cmd

import (
	"github.com/marcus/possync/internal/output"
	"github.com/marcus/possync/internal/store"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Create the local store in the current directory",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Initialize(getBaseDir())
		if err != nil {
			output.Error("initialize local store: %v", err)
			return err
		}
		defer st.Close()
		output.Success("local store ready in %s/.possync", getBaseDir())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
