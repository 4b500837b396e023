/*
Copyright (c) st2110core authors.

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

// st2110-txsample is a sample TX application built on st2110core, per
// spec.md §6's "Sample apps (txsample, rxsample)". It reads raw planar
// video out of a file in a loop and paces it out as one ST 2110-20 flow,
// either over a real UDP/multicast socket or an in-process loopback.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// rootCmd is the entry point, mirroring ptpcheck's RootCmd + persistent
// verbosity flag pattern.
var rootCmd = &cobra.Command{
	Use:   "st2110-txsample",
	Short: "Sample ST 2110-20 transmitter built on st2110core",
}

var verboseFlag bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "verbose output")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statCmd)
}

func configureVerbosity() {
	log.SetLevel(log.InfoLevel)
	if verboseFlag {
		log.SetLevel(log.DebugLevel)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
