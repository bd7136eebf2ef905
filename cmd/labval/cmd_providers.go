package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"labvalidate/internal/backend"
)

// providersCmd checks every reasoning backend
var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Check availability of the reasoning backends",
	Args:  cobra.NoArgs,
	RunE:  runProviders,
}

// equipmentCmd lists the simulated equipment
var equipmentCmd = &cobra.Command{
	Use:   "equipment",
	Short: "List the simulated equipment",
	Args:  cobra.NoArgs,
	RunE:  runEquipment,
}

func runProviders(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(commandContext(cmd), 30*time.Second)
	defer cancel()

	t := &table{
		title:   "Reasoning backends",
		headers: []string{"Provider", "Backend", "Status", "Detail"},
	}
	for _, st := range backend.CheckAll(ctx, cfg) {
		status := outcomeStyle("PASS").Render("available")
		if !st.Available {
			status = outcomeStyle("FAIL").Render("unavailable")
		}
		name := st.Name
		if st.Provider == cfg.LLM.Provider {
			name += " *"
		}
		t.addRow(st.Provider, name, status, truncate(st.Error, 60))
	}
	fmt.Fprint(cmd.OutOrStdout(), t.String())
	fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("* configured provider"))
	return nil
}

func runEquipment(cmd *cobra.Command, args []string) error {
	a := newApp(cfg)
	if err := a.initSimulator(); err != nil {
		return err
	}
	t := &table{
		title:   "Simulated equipment",
		headers: []string{"Equipment", "Vendor", "Model", "Type"},
	}
	for _, eq := range a.sim.List() {
		t.addRow(eq.ID, eq.Vendor, eq.Model, eq.Type)
	}
	fmt.Fprint(cmd.OutOrStdout(), t.String())
	fmt.Fprintf(cmd.OutOrStdout(), "Success rate %.0f%%, command %q, tools %v\n",
		a.sim.SuccessRate()*100, cfg.Execution.Command, a.tools.Names())
	return nil
}
