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

package main

import (
	"fmt"
	"net/http"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

var statURLFlag string

func init() {
	statCmd.Flags().StringVarP(&statURLFlag, "url", "u", "http://127.0.0.1:9110/metrics", "running sample's stats endpoint")
}

var statCmd = &cobra.Command{
	Use:   "stat",
	Short: "Print a running sample's session counters as a table",
	RunE: func(_ *cobra.Command, _ []string) error {
		return printStat(statURLFlag)
	},
}

func printStat(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return fmt.Errorf("parse metrics: %w", err)
	}

	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"metric", "labels", "value"})
	warn := color.New(color.FgRed, color.Bold).SprintFunc()
	ok := color.New(color.FgGreen).SprintFunc()

	for _, name := range names {
		for _, m := range families[name].GetMetric() {
			labels := ""
			for _, lp := range m.GetLabel() {
				labels += lp.GetName() + "=" + lp.GetValue() + " "
			}
			val := m.GetCounter().GetValue()
			if val == 0 {
				val = m.GetGauge().GetValue()
			}
			valStr := fmt.Sprintf("%g", val)
			if (name == "st2110core_pkts_redundant_dropped" || name == "st2110core_pkts_idx_dropped" || name == "st2110core_epoch_mismatch") && val > 0 {
				valStr = warn(valStr)
			} else {
				valStr = ok(valStr)
			}
			table.Append([]string{name, labels, valStr})
		}
	}
	table.Render()
	return nil
}
