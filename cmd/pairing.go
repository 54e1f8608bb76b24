package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/vela-systems/gatewire/internal/config"
	"github.com/vela-systems/gatewire/internal/pairing"
	"github.com/vela-systems/gatewire/internal/store"
)

func pairCmd() *cobra.Command {
	var clientID, platform, accountID string

	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Request a device pairing code and render it as a terminal QR code",
		Run: func(cmd *cobra.Command, args []string) {
			runPair(clientID, platform, accountID)
		},
	}
	cmd.Flags().StringVar(&clientID, "client-id", "", "client identifier requesting pairing (required)")
	cmd.Flags().StringVar(&platform, "platform", "", "chat platform the device will be approved over (telegram, slack, discord)")
	cmd.Flags().StringVar(&accountID, "account-id", "", "account identifier the pairing code is scoped to")
	cmd.MarkFlagRequired("client-id")
	return cmd
}

func runPair(clientID, platform, accountID string) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "store error:", err)
		os.Exit(1)
	}
	defer st.Close()

	req, err := pairing.NewService(st).RequestPairing(context.Background(), clientID, platform, accountID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pairing request failed:", err)
		os.Exit(1)
	}

	fmt.Printf("Pairing code: %s\n", req.Code)
	fmt.Printf("Expires:      %d ms since epoch\n", req.ExpiresAt)
	fmt.Println()

	if err := printQRCode(req.Code); err != nil {
		fmt.Fprintln(os.Stderr, "qr render failed:", err)
	}

	fmt.Println("\nHave an operator run device.pair.approve with this code to finish pairing.")
}

// printQRCode renders content as a QR code directly to the terminal using
// half-block characters, two modules per printed row, so the code stays
// legible at normal terminal font sizes without needing an image viewer.
func printQRCode(content string) error {
	qr, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return err
	}
	bitmap := qr.Bitmap()

	quiet := 2
	width := len(bitmap) + quiet*2

	padded := make([][]bool, width)
	for y := range padded {
		padded[y] = make([]bool, width)
	}
	for y, row := range bitmap {
		for x, dark := range row {
			padded[y+quiet][x+quiet] = dark
		}
	}

	for y := 0; y < width; y += 2 {
		for x := 0; x < width; x++ {
			top := padded[y][x]
			bottom := y+1 < width && padded[y+1][x]
			fmt.Print(blockFor(top, bottom))
		}
		fmt.Println()
	}
	return nil
}

// blockFor returns the half-block character representing a 1x2 pair of QR
// modules (dark = module set).
func blockFor(top, bottom bool) string {
	switch {
	case top && bottom:
		return "█"
	case top && !bottom:
		return "▀"
	case !top && bottom:
		return "▄"
	default:
		return " "
	}
}
