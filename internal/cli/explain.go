package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "explain [context...]",
		Short: "Explain a prediction",
		Long:  "Show the stored sequences extending the context, the transitions from its last symbol, and a readable summary.",
		Run:   runExplain,
	}

	RootCmd.AddCommand(cmd)
}

func runExplain(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	svc, s := newService(cfg, nil)
	defer s.Close()

	exp, err := svc.Explain(cmd.Context(), scopeFlag, args)
	if err != nil {
		exitErr("explain", err)
	}

	if formatFlag == "text" {
		fmt.Println(exp.Narrative)
		if exp.Note != "" {
			fmt.Printf("note: %s\n", exp.Note)
		}
		return
	}

	b, _ := json.MarshalIndent(exp, "", "  ")
	fmt.Println(string(b))
}
