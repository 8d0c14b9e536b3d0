// Package main contains the cli implementation of the tool. It uses cobra
// package for cli tool implementation.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"edl/internal/checker"
	"edl/internal/config"
	"edl/internal/parsecontract"
)

type checkFlags struct {
	manifest      string
	replacements  string
	outFile       string
	sqliteDump    string
	dumpParsed    string
	datalog       bool
	sqlImageToken string
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "edldb",
		Short: "EDL semantic analyzer and constraint checker",
	}

	rootCmd.AddCommand(checkCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func checkCmd() *cobra.Command {
	flags := &checkFlags{}
	cmd := &cobra.Command{
		Use:   "check <parsed-program.json>",
		Short: "Run the full semantic check pipeline against a parsed program",
		Long: `Check loads a parser-produced program contract (JSON), runs metadata
resolution, data insertion, generated-column computation, relational
resolution, and proofs against it, then writes the serialized database and
any scheduled source-file replacements back to disk.

Parsing EDL source text into the program contract is out of scope for this
tool; the positional argument is that contract's JSON form.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runCheck(args[0], flags)
		},
	}

	cmd.Flags().StringVarP(&flags.manifest, "manifest", "m", "edldb.toml", "Project manifest path")
	cmd.Flags().StringVar(&flags.replacements, "replacements", "", "Path to a source-value replacements JSON file")
	cmd.Flags().StringVarP(&flags.outFile, "output", "o", "", "Output file for the serialized database (stdout if omitted)")
	cmd.Flags().StringVar(&flags.sqliteDump, "sqlite-dump", "", "Dump the SQL image to this SQLite file")
	cmd.Flags().StringVar(&flags.dumpParsed, "dump-parsed", "", "Re-dump the decoded program contract to this file, for driver debugging")
	cmd.Flags().BoolVar(&flags.datalog, "datalog", false, "Enable Datalog-kind proofs")
	cmd.Flags().StringVar(&flags.sqlImageToken, "sql-image-token", "edldb", "Unique token seeding the in-memory SQL image name")

	return cmd
}

func runCheck(programPath string, flags *checkFlags) error {
	program, err := loadProgram(programPath)
	if err != nil {
		return err
	}

	datalogEnabled := flags.datalog
	if m, err := config.Load(flags.manifest); err == nil {
		datalogEnabled = datalogEnabled || m.DatalogEnabled
	}

	var replacementsJSON []byte
	if flags.replacements != "" {
		replacementsJSON, err = os.ReadFile(flags.replacements)
		if err != nil {
			return fmt.Errorf("failed to read replacements file: %w", err)
		}
	}

	if flags.dumpParsed != "" {
		raw, err := json.MarshalIndent(program, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to dump parsed program: %w", err)
		}
		if err := os.WriteFile(flags.dumpParsed, raw, 0o644); err != nil {
			return fmt.Errorf("failed to write dumped program: %w", err)
		}
	}

	result, err := checker.Run(program, checker.Options{
		ReplacementsJSON: replacementsJSON,
		DatalogEnabled:   datalogEnabled,
		SQLImageToken:    flags.sqlImageToken,
		SQLiteDumpPath:   flags.sqliteDump,
		ForceSQLImage:    flags.sqliteDump != "",
	})
	if err != nil {
		return fmt.Errorf("check failed: %w", err)
	}

	for id, content := range result.RewrittenFiles {
		src, ok := program.SourceFiles[id]
		if !ok {
			continue
		}
		if err := os.WriteFile(src.Path, content, 0o644); err != nil {
			return fmt.Errorf("failed to write back replaced source %s: %w", src.Path, err)
		}
		printInfo(fmt.Sprintf("replacements applied to %s", src.Path))
	}

	return writeOutput(result.Serialized, flags.outFile)
}

func loadProgram(path string) (*parsecontract.Program, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read program contract: %w", err)
	}
	var program parsecontract.Program
	if err := json.Unmarshal(raw, &program); err != nil {
		return nil, fmt.Errorf("failed to decode program contract: %w", err)
	}
	return &program, nil
}

func printInfo(msg string) {
	fmt.Println(msg)
}

func writeOutput(content []byte, outFile string) error {
	if outFile == "" {
		_, err := os.Stdout.Write(content)
		return err
	}

	_ = os.MkdirAll(filepath.Dir(outFile), 0o755)
	if err := os.WriteFile(outFile, content, 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	printInfo(fmt.Sprintf("output saved to %s", outFile))
	return nil
}
