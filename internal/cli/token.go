package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rcliao/symbol-predict/internal/model"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the symbols of a scope",
	}

	add := &cobra.Command{
		Use:   "add <id>",
		Short: "Add or relabel a symbol",
		Args:  cobra.ExactArgs(1),
		Run:   runTokenAdd,
	}
	add.Flags().StringP("label", "l", "", "Display label (required)")
	add.Flags().String("meta", "", "Opaque metadata, e.g. an image reference")
	add.MarkFlagRequired("label")

	list := &cobra.Command{
		Use:   "list",
		Short: "List the symbols of a scope",
		Run:   runTokenList,
	}

	cmd.AddCommand(add, list)
	RootCmd.AddCommand(cmd)
}

func runTokenAdd(cmd *cobra.Command, args []string) {
	label, _ := cmd.Flags().GetString("label")
	meta, _ := cmd.Flags().GetString("meta")

	cfg := loadConfig()
	s, err := openStore(cfg, newLogger(cfg))
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	tok := model.Token{ID: args[0], Label: label, Meta: meta}
	if err := s.PutToken(cmd.Context(), scopeFlag, tok); err != nil {
		exitErr("add token", err)
	}

	b, _ := json.MarshalIndent(tok, "", "  ")
	fmt.Println(string(b))
}

func runTokenList(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	s, err := openStore(cfg, newLogger(cfg))
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	tokens, err := s.LoadTokens(cmd.Context(), scopeFlag)
	if err != nil {
		exitErr("list tokens", err)
	}

	out := make([]model.Token, 0, len(tokens))
	for _, tok := range tokens {
		out = append(out, tok)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if formatFlag == "text" {
		for _, tok := range out {
			fmt.Printf("%s\t%s\n", tok.ID, tok.Label)
		}
		return
	}

	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}
