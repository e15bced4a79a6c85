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

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/machoreloc/internal/commands/bundle"
	"github.com/blacktop/machoreloc/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(bundleCmd)

	bundleCmd.Flags().StringP("lib-dir", "l", "", "Directory to copy dependencies into (default: <binary dir>/../lib)")
	bundleCmd.Flags().StringSliceP("search-dir", "s", []string{}, "Extra directories to look for dependencies in")
	bundleCmd.Flags().String("rpath-prefix", "", "Loader token rpaths start with (default: @loader_path)")
	bundleCmd.Flags().String("backend", "", fmt.Sprintf("Load command editor backend (%s)", config.BackendInstallNameTool))
	bundleCmd.RegisterFlagCompletionFunc("backend", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return config.Backends, cobra.ShellCompDirectiveNoFileComp
	})
	bundleCmd.Flags().String("install-name-tool", "", "Path to install_name_tool")
	bundleCmd.Flags().Bool("adhoc-sign", false, "Ad-hoc codesign every edited binary")
	bundleCmd.Flags().BoolP("recursive", "r", false, "Walk input directories recursively")
	bundleCmd.Flags().BoolP("force", "f", false, "Do not ask for confirmation")
	bundleCmd.MarkFlagDirname("lib-dir")
	bundleCmd.MarkFlagDirname("search-dir")
	bundleCmd.MarkFlagFilename("install-name-tool")

	viper.BindPFlag("bundle.lib-dir", bundleCmd.Flags().Lookup("lib-dir"))
	viper.BindPFlag("bundle.search-dirs", bundleCmd.Flags().Lookup("search-dir"))
	viper.BindPFlag("bundle.rpath-prefix", bundleCmd.Flags().Lookup("rpath-prefix"))
	viper.BindPFlag("bundle.backend", bundleCmd.Flags().Lookup("backend"))
	viper.BindPFlag("bundle.install-name-tool", bundleCmd.Flags().Lookup("install-name-tool"))
	viper.BindPFlag("bundle.adhoc-sign", bundleCmd.Flags().Lookup("adhoc-sign"))
	viper.BindPFlag("bundle.recursive", bundleCmd.Flags().Lookup("recursive"))
	viper.BindPFlag("bundle.force", bundleCmd.Flags().Lookup("force"))
}

func confirm(msg string) (bool, error) {
	yes := false
	prompt := &survey.Confirm{
		Message: msg,
	}
	if err := survey.AskOne(prompt, &yes); err != nil {
		if err == terminal.InterruptErr {
			log.Warn("Exiting...")
			return false, nil
		}
		return false, err
	}
	return yes, nil
}

// bundleCmd represents the bundle command
var bundleCmd = &cobra.Command{
	Use:     "bundle <BINARY|DIR>...",
	Aliases: []string{"b", "relocate"},
	Short:   "Copy non-system dylibs next to binaries and rewrite them to load via @rpath",
	Example: heredoc.Doc(`
		# Relocate every binary in ./dist/bin, copying dylibs into ./dist/lib
		❯ machoreloc bundle ./dist/bin

		# Use an explicit library directory and extra search paths
		❯ machoreloc bundle --lib-dir ./App/Frameworks -s /opt/build/lib ./App/MacOS/app

		# Edit load commands without Xcode tools and re-sign the result
		❯ machoreloc bundle --backend native --adhoc-sign -f ./dist/bin/tool`),
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := config.LoadConfig()
		if err != nil {
			return err
		}

		if !conf.Bundle.Force {
			yes, err := confirm(fmt.Sprintf("Edit the load commands of %d input(s) in place?", len(args)))
			if err != nil {
				return err
			}
			if !yes {
				return nil
			}
		}

		res, err := bundle.Run(&bundle.Config{
			Inputs:          args,
			LibDir:          conf.Bundle.LibDir,
			SearchDirs:      conf.Bundle.SearchDirs,
			RpathPrefix:     conf.Bundle.RpathPrefix,
			Backend:         conf.Bundle.Backend,
			InstallNameTool: conf.Bundle.InstallNameTool,
			AdhocSign:       conf.Bundle.AdhocSign,
			Recursive:       conf.Bundle.Recursive,
		})
		if err != nil {
			return err
		}

		log.WithFields(log.Fields{
			"relocated": len(res.Relocated),
			"skipped":   len(res.Skipped),
		}).Info("Done")

		return nil
	},
}
