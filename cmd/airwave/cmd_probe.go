/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/airwave/internal/ingest"
	"github.com/friendsincode/airwave/internal/mediaengine"
)

var probeOutput string

var probeCmd = &cobra.Command{
	Use:   "probe <file>",
	Short: "Inspect an audio file the way ingest would",
	Long: `Run content sniffing and the metadata probe against a local file and
print what ingest would record for it.

Examples:
  airwave probe ./song.mp3
  airwave probe ./clip.webm --output json
`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().StringVarP(&probeOutput, "output", "o", "yaml", "Output format: yaml or json")
	rootCmd.AddCommand(probeCmd)
}

type probeReport struct {
	File      string  `json:"file" yaml:"file"`
	MIME      string  `json:"mime" yaml:"mime"`
	Title     string  `json:"title" yaml:"title"`
	Slug      string  `json:"slug" yaml:"slug"`
	Format    string  `json:"format" yaml:"format"`
	Duration  float64 `json:"duration" yaml:"duration"`
	BitRate   int     `json:"bitRate,omitempty" yaml:"bit_rate,omitempty"`
	TagTitle  string  `json:"tagTitle,omitempty" yaml:"tag_title,omitempty"`
	TagArtist string  `json:"tagArtist,omitempty" yaml:"tag_artist,omitempty"`
}

func runProbe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	path := args[0]

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	prober := mediaengine.NewFFprobe(cfg.FFprobeBin, cfg.ProbeTimeout, logger)
	res, err := prober.Probe(cmd.Context(), path)
	if err != nil {
		return fmt.Errorf("probe %s: %w", path, err)
	}

	title := ingest.CleanTitle(filepath.Base(path))
	report := probeReport{
		File:      path,
		MIME:      mt.String(),
		Title:     title,
		Slug:      ingest.Slug(title),
		Format:    res.FormatName,
		Duration:  res.DurationSeconds,
		BitRate:   res.BitRate,
		TagTitle:  res.Title,
		TagArtist: res.Artist,
	}
	return writeReport(cmd.OutOrStdout(), probeOutput, report)
}

func writeReport(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
