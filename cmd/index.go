package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/locallens/resolve-cli/internal/index"
	"github.com/locallens/resolve-cli/internal/matcher"
)

var (
	indexRawPath   string
	indexShapefile string
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build and inspect the offline lookup tables",
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the index artifacts from a raw address CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := index.ReadRawCSV(indexRawPath)
		if err != nil {
			return err
		}
		zap.L().Info("raw rows loaded", zap.Int("rows", len(rows)))

		artifacts, err := index.Build(rows, matcher.Embed)
		if err != nil {
			return err
		}

		if indexShapefile != "" {
			if err := index.AttachBoundaries(artifacts.Cities, indexShapefile); err != nil {
				return eris.Wrap(err, "attach boundaries")
			}
		}

		if err := index.WriteArtifacts(cfg.Index.DataDir, artifacts); err != nil {
			return err
		}

		zap.L().Info("index built",
			zap.String("dir", cfg.Index.DataDir),
			zap.Int("postal_entries", len(artifacts.Postal)),
			zap.Int("cities", len(artifacts.Cities)),
			zap.Int("corpus_entries", len(artifacts.Corpus)),
		)
		return nil
	},
}

var indexStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Load the index and print table sizes",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := index.Load(cfg.Index.DataDir)
		if err != nil {
			return err
		}

		var boundaries int
		for _, c := range bundle.Cities() {
			if c.Polygon() != nil {
				boundaries++
			}
		}

		fmt.Printf("data dir:        %s\n", cfg.Index.DataDir)
		fmt.Printf("postal entries:  %d\n", len(bundle.PostalEntries()))
		fmt.Printf("cities:          %d (%d with boundaries)\n", len(bundle.Cities()), boundaries)
		fmt.Printf("corpus entries:  %d\n", len(bundle.Corpus()))
		return nil
	},
}

func init() {
	indexBuildCmd.Flags().StringVar(&indexRawPath, "raw", "", "raw address CSV path")
	indexBuildCmd.Flags().StringVar(&indexShapefile, "shapefile", "", "optional city boundary shapefile")
	_ = indexBuildCmd.MarkFlagRequired("raw")

	indexCmd.AddCommand(indexBuildCmd, indexStatusCmd)
	rootCmd.AddCommand(indexCmd)
}
