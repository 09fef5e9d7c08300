package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "record [context...] <token>",
		Short: "Record a symbol selection",
		Long:  "Record that the last argument was selected after the preceding ones. Every sequence the selection completes, up to the configured maximum order, is counted.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runRecord,
	}

	RootCmd.AddCommand(cmd)
}

func runRecord(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	svc, s := newService(cfg, nil)
	defer s.Close()

	selected, token := args[:len(args)-1], args[len(args)-1]
	res, err := svc.RecordSelection(cmd.Context(), scopeFlag, selected, token)
	if err != nil {
		exitErr("record", err)
	}

	if formatFlag == "text" {
		for _, rec := range res.Records {
			fmt.Printf("%v x%d\n", rec.Sequence, rec.Frequency)
		}
		for _, w := range res.Warnings {
			fmt.Printf("warning: %s\n", w)
		}
		return
	}

	b, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(b))
}
