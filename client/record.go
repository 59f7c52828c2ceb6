package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Record identifies the workload an agent reconciles. It is written once by register and read by
// every other command.
type Record struct {
	Name string `yaml:"name" json:"name"`
	ID   int64  `yaml:"id" json:"id"`
}

func writeRecord(path string, record Record) error {
	data, err := yaml.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode workload record: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write workload record: %w", err)
	}
	return nil
}

// readRecord also reads records written as JSON, which YAML parses as flow mappings.
func readRecord(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("failed to read workload record (run 'workload register' first): %w", err)
	}

	var record Record
	if err := yaml.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("failed to decode workload record '%s': %w", path, err)
	}
	if record.ID == 0 || record.Name == "" {
		return Record{}, fmt.Errorf("workload record '%s' is incomplete", path)
	}
	return record, nil
}

func recordOf(cmd *cobra.Command) (Record, error) {
	path, err := cmd.Flags().GetString("record")
	if err != nil {
		return Record{}, err
	}
	return readRecord(path)
}
