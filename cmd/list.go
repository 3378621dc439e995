package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/netlens/netlens/capture"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources",
}

var listInterfacesCmd = &cobra.Command{
	Use:     "interfaces",
	Short:   "List capturable network interfaces",
	Example: `  netlens list interfaces`,
	RunE:    runListInterfaces,
}

func init() {
	listCmd.AddCommand(listInterfacesCmd)
}

func runListInterfaces(cmd *cobra.Command, args []string) error {
	ifaces, err := capture.ListInterfaces()
	if err != nil {
		return err
	}
	if len(ifaces) == 0 {
		fmt.Println("No capturable interfaces found (insufficient privileges?)")
		return nil
	}

	for _, iface := range ifaces {
		fmt.Printf("%s", iface.Name)
		if iface.Description != "" {
			fmt.Printf("  (%s)", iface.Description)
		}
		fmt.Println()
		for _, addr := range iface.Addresses {
			fmt.Printf("    %s\n", addr.IP)
		}
	}
	return nil
}
