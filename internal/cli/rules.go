package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hydroloop/gateway/internal/daemon"
	"github.com/hydroloop/gateway/internal/domain"
)

func init() {
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesValidateCmd)
	rootCmd.AddCommand(rulesCmd)
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and validate the rules file",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured rules",
	RunE:  runRulesList,
}

func runRulesList(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	list := d.Rules.List()
	if len(list) == 0 {
		fmt.Println("No rules configured.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFIELD\tCONDITION\tTHRESHOLD\tENABLED\tACTION")
	for _, r := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%g\t%t\t%s\n", r.ID, r.SensorField, r.Condition, r.Threshold, r.Enabled, r.Action.Kind)
	}
	return w.Flush()
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Validate a rules JSON file without loading it into the daemon",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesValidate,
}

func runRulesValidate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read rules file: %w", err)
	}
	var list []domain.Rule
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("parse rules file: %w", err)
	}
	for _, r := range list {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule %q: %w", r.ID, err)
		}
	}
	fmt.Printf("%d rules valid\n", len(list))
	return nil
}
