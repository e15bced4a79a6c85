/*
Copyright © 2026 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/machoreloc/internal/commands/bundle"
	"github.com/blacktop/machoreloc/internal/commands/macho"
	"github.com/blacktop/machoreloc/pkg/relocate"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(depsCmd)

	depsCmd.Flags().StringSliceP("search-dir", "s", []string{}, "Extra directories to look for dependencies in")
	depsCmd.Flags().Bool("system", false, "Include system libraries")
	depsCmd.Flags().Bool("dot", false, "Output the graph in Graphviz DOT format")
	depsCmd.Flags().Bool("missing", false, "Only list dependencies that cannot be found")
	depsCmd.Flags().StringP("lib-dir", "l", "", "Summarize what bundling into this directory would copy")
	depsCmd.Flags().Int("cache-size", 256, "Number of parsed MachOs to keep in memory")
	depsCmd.MarkFlagDirname("search-dir")
	depsCmd.MarkFlagDirname("lib-dir")
	viper.BindPFlag("deps.search-dirs", depsCmd.Flags().Lookup("search-dir"))
	viper.BindPFlag("deps.system", depsCmd.Flags().Lookup("system"))
	viper.BindPFlag("deps.dot", depsCmd.Flags().Lookup("dot"))
	viper.BindPFlag("deps.missing", depsCmd.Flags().Lookup("missing"))
	viper.BindPFlag("deps.lib-dir", depsCmd.Flags().Lookup("lib-dir"))
	viper.BindPFlag("deps.cache-size", depsCmd.Flags().Lookup("cache-size"))
}

// depsCmd represents the deps command
var depsCmd = &cobra.Command{
	Use:   "deps <MACHO>...",
	Short: "Show the dependency tree of MachOs without editing them",
	Example: heredoc.Doc(`
		# Print the tree of non-system dylibs
		❯ machoreloc deps ./dist/bin/tool

		# Render the graph
		❯ machoreloc deps --dot ./dist/bin/* | dot -Tsvg > deps.svg

		# Check what bundling would copy
		❯ machoreloc deps --lib-dir ./dist/lib ./dist/bin/tool`),
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		searchDirs := viper.GetStringSlice("deps.search-dirs")
		libDir := viper.GetString("deps.lib-dir")
		if libDir != "" {
			// searched last, as a bundle run does
			searchDirs = append(searchDirs, libDir)
		}
		w, err := relocate.NewWalker(viper.GetInt("deps.cache-size"), searchDirs...)
		if err != nil {
			return err
		}
		w.IncludeSystem = viper.GetBool("deps.system")

		g, err := w.Walk(args...)
		if err != nil {
			return err
		}
		for _, c := range g.Cycles {
			log.WithFields(log.Fields{"from": c[0], "to": c[1]}).Debug("Dependency cycle")
		}

		switch {
		case viper.GetBool("deps.dot"):
			return g.DOT(os.Stdout)
		case viper.GetBool("deps.missing"):
			for _, n := range g.Missing() {
				if n.Weak {
					fmt.Printf("%s (weak)\n", n.Path)
				} else {
					fmt.Println(n.Path)
				}
			}
		case libDir != "":
			abs, err := filepath.Abs(libDir)
			if err != nil {
				return err
			}
			fmt.Print(macho.Summary(g, abs))
		default:
			macho.PrintTree(os.Stdout, g)
			if len(g.Roots) == 1 {
				log.Debugf("Default library directory: %s", bundle.DefaultLibDir(g.Roots[0]))
			}
		}

		return nil
	},
}
