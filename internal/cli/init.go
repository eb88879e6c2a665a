package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/configs"
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Initialize a new configuration",
	Long:  `Creates a starter configuration file in the target directory.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInit,
}

const initTemplate = `terrane {
  # backend "s3" {
  #   bucket         = "my-state-bucket"
  #   key            = "prod/terrane.json"
  #   region         = "us-east-1"
  #   dynamodb_table = "terrane-locks"
  # }
}

variable "environment" {
  default = "dev"
}

resource "null_resource" "example" {
  triggers = {
    environment = var.environment
  }
}

output "environment" {
  value = var.environment
}
`

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	path := filepath.Join(dir, configs.DefaultFilename)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := os.WriteFile(path, []byte(initTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	fmt.Printf("Created %s\n", path)
	fmt.Println("Edit it and run 'terrane plan' to see what would change.")
	return nil
}
