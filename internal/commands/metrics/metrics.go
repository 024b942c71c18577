// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package metrics prints the process metrics registry.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/tombee/mcphost/internal/commands/completion"
	"github.com/tombee/mcphost/internal/commands/session"
	"github.com/tombee/mcphost/internal/commands/shared"
)

// Prefix marks the families recorded by mcphost itself.
const Prefix = "mcphost_"

// Sample is one series in a --json response.
type Sample struct {
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// Family is one metric family in a --json response.
type Family struct {
	Name    string   `json:"name"`
	Help    string   `json:"help"`
	Type    string   `json:"type"`
	Samples []Sample `json:"samples"`
}

type metricsResponse struct {
	shared.JSONResponse
	Families []Family `json:"families"`
}

// NewMetricsCommand creates the metrics command.
func NewMetricsCommand(env *shared.Env) *cobra.Command {
	var (
		all     bool
		servers []string
	)

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Print connection and request metrics",
		Long: `Print the metrics recorded by this process in Prometheus text format.

Counters only cover the current invocation. Use --connect to open sessions
first so the connect and request counters have something to show.`,
		Example: `  mcphost metrics --connect filesystem
  mcphost metrics --all --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			for _, id := range servers {
				if err := probe(ctx, env, id); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), shared.RenderWarn(fmt.Sprintf("%s: %v", id, err)))
				}
			}

			families, err := prometheus.DefaultGatherer.Gather()
			if err != nil {
				return fmt.Errorf("gather metrics: %w", err)
			}
			if !all {
				families = filter(families)
			}

			if env.Flags.JSON {
				return shared.EmitJSON(cmd.OutOrStdout(), metricsResponse{
					JSONResponse: shared.NewJSONResponse("metrics"),
					Families:     toJSON(families),
				})
			}
			for _, mf := range families {
				if _, err := expfmt.MetricFamilyToText(cmd.OutOrStdout(), mf); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include Go runtime and process metrics")
	cmd.Flags().StringSliceVar(&servers, "connect", nil, "Connect to these servers before printing")
	_ = cmd.RegisterFlagCompletionFunc("connect", completion.ServerIDs(env))

	return cmd
}

func probe(ctx context.Context, env *shared.Env, id string) error {
	a, err := env.App(ctx)
	if err != nil {
		return err
	}
	return a.Connect(ctx, id, session.DefaultConnectTimeout)
}

func filter(families []*dto.MetricFamily) []*dto.MetricFamily {
	out := families[:0:0]
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), Prefix) {
			out = append(out, mf)
		}
	}
	return out
}

func toJSON(families []*dto.MetricFamily) []Family {
	out := make([]Family, 0, len(families))
	for _, mf := range families {
		f := Family{
			Name:    mf.GetName(),
			Help:    mf.GetHelp(),
			Type:    strings.ToLower(mf.GetType().String()),
			Samples: []Sample{},
		}
		for _, m := range mf.GetMetric() {
			s := Sample{Value: value(mf.GetType(), m)}
			if pairs := m.GetLabel(); len(pairs) > 0 {
				s.Labels = make(map[string]string, len(pairs))
				for _, lp := range pairs {
					s.Labels[lp.GetName()] = lp.GetValue()
				}
			}
			f.Samples = append(f.Samples, s)
		}
		sort.SliceStable(f.Samples, func(i, j int) bool {
			return labelKey(f.Samples[i]) < labelKey(f.Samples[j])
		})
		out = append(out, f)
	}
	return out
}

// value flattens a metric to one number. Summaries and histograms report
// their sample count.
func value(t dto.MetricType, m *dto.Metric) float64 {
	switch t {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	case dto.MetricType_SUMMARY:
		return float64(m.GetSummary().GetSampleCount())
	case dto.MetricType_HISTOGRAM, dto.MetricType_GAUGE_HISTOGRAM:
		return float64(m.GetHistogram().GetSampleCount())
	default:
		return m.GetUntyped().GetValue()
	}
}

func labelKey(s Sample) string {
	keys := make([]string, 0, len(s.Labels))
	for k, v := range s.Labels {
		keys = append(keys, k+"="+v)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}
