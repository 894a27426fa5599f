package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "segrun",
	Short: "Generate a batch of video and image segments from a TOML file",
	Long: `segrun runs a batch file through the Gemini generation pipeline without
the API server or database. Segments are generated one at a time in file
order and results are written to the batch's output directory.`,
	SilenceUsage: true,
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
