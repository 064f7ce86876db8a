package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/rashmirrout/pilotdesk/internal/config"
	"github.com/rashmirrout/pilotdesk/internal/copilot"
	"github.com/rashmirrout/pilotdesk/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("pilotdesk doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Settings: %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Settings load error: %s\n", err)
		return
	}

	fmt.Printf("  State:    %s (%s backend)\n", cfg.StateDir, cfg.Storage)
	fmt.Printf("  Gateway:  %s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	if cfg.Gateway.Token == "" {
		fmt.Println(" (no token, auth disabled)")
	} else {
		fmt.Println(" (token set)")
	}
	fmt.Printf("  Approval: %s\n", cfg.Approval.UIMode)

	// Chat API reachability.
	fmt.Printf("  Chat API: %s", cfg.ChatAPI.BaseURL)
	if cfg.ChatAPI.APIKey == "" {
		fmt.Println(" (NO API KEY)")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client := copilot.NewHTTPClient(cfg.ChatAPI)
	models, err := client.ListModels(ctx)
	if err != nil {
		fmt.Printf(" (UNREACHABLE: %s)\n", err)
		return
	}
	fmt.Printf(" (OK, %d models)\n", len(models))
}
