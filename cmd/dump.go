/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hitzhangjie/dwarfaccel/pkg/dwarf/accel"
	"github.com/hitzhangjie/dwarfaccel/pkg/objfile"
	"github.com/hitzhangjie/dwarfaccel/pkg/printer"
)

var dumpFormat string

// appleSections lists the four section names the Apple format can
// appear under; godbg-style debuggers probe all of them since a given
// object only ever carries the subset its compiler emitted.
var appleSections = []string{".apple_names", ".apple_types", ".apple_namespaces", ".apple_objc"}

// dumpCmd represents the dump command
var dumpCmd = &cobra.Command{
	Use:   "dump <object-file>",
	Short: "Dump an object file's DWARF accelerator tables",
	Long: `dump reads whichever accelerator tables the named object file carries
-- the legacy Apple tables or the standardised DWARF v5 .debug_names
section -- and prints a structured tree of their contents.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		little := viper.GetBool("little-endian")
		return runDump(args[0], dumpFormat, little)
	},
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().StringVar(&dumpFormat, "format", "auto", `which table to dump: "apple", "names", or "auto" to try both`)
}

func runDump(path, format string, little bool) error {
	p := printer.New(os.Stdout)

	dumpedAny := false
	if format == "apple" || format == "auto" {
		for _, sec := range appleSections {
			if err := dumpApple(p, path, sec, little); err != nil {
				if format == "apple" {
					return err
				}
				continue
			}
			dumpedAny = true
		}
	}
	if format == "names" || format == "auto" {
		if err := dumpNames(p, path, little); err != nil {
			if format == "names" {
				return err
			}
		} else {
			dumpedAny = true
		}
	}

	if !dumpedAny {
		return fmt.Errorf("dump: %s carries no recognised accelerator table", path)
	}
	return nil
}

func dumpApple(p *printer.Printer, path, sectionName string, little bool) error {
	secs, err := objfile.Load(path, sectionName, ".debug_str")
	if err != nil {
		return err
	}
	table, err := accel.ExtractApple(secs.Data, secs.Relocs, secs.StrtabData, little)
	if err != nil {
		return fmt.Errorf("dump: %s: %w", sectionName, err)
	}
	func() {
		defer printer.DictScope(p, sectionName)()
		table.Dump(p)
	}()
	return nil
}

func dumpNames(p *printer.Printer, path string, little bool) error {
	secs, err := objfile.Load(path, ".debug_names", ".debug_str")
	if err != nil {
		return err
	}
	dn, err := accel.ExtractDebugNames(secs.Data, secs.Relocs, secs.StrtabData, little)
	if err != nil {
		return fmt.Errorf("dump: .debug_names: %w", err)
	}
	func() {
		defer printer.DictScope(p, ".debug_names")()
		dn.Dump(p)
	}()
	return nil
}
