package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/vela-systems/gatewire/internal/config"
	"github.com/vela-systems/gatewire/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("gatewire doctor")
	fmt.Printf("  Version:  0.1.0 (protocol %d)\n", protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (using defaults, file not found)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Gateway:")
	fmt.Printf("    %-16s %s\n", "Bind address:", cfg.BindAddr())
	fmt.Printf("    %-16s %s\n", "Auth mode:", cfg.AuthMode)
	fmt.Printf("    %-16s %s\n", "Cron enabled:", boolLabel(cfg.CronEnabled))
	fmt.Printf("    %-16s %d\n", "Cron runs kept:", cfg.CronRunsLimit)

	fmt.Println()
	fmt.Println("  Storage:")
	dbPath := cfg.DBPath
	fmt.Printf("    %-16s %s", "Database:", dbPath)
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Println(" (not yet created)")
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Println()
	fmt.Println("  External Tools:")
	checkBinary("docker")
	checkBinary("curl")
	checkBinary("git")

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func boolLabel(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
