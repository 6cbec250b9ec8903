package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/sakif/archon/internal/model"
)

func reportCmd() *cli.Command {
	return &cli.Command{
		Name:      "report",
		Usage:     "Show the report of the latest completed analysis",
		ArgsUsage: "<project-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Value:   "table",
				Usage:   "Output format: table, json, yaml",
			},
		},
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, 0, "project id")
			if err != nil {
				return err
			}
			api, err := newClient(c)
			if err != nil {
				return err
			}
			r, err := api.GetReport(c.Context, id)
			if err != nil {
				return err
			}
			return writeReport(os.Stdout, r, c.String("format"))
		},
	}
}

func writeReport(w io.Writer, r *model.Report, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml", "yml":
		b, err := toYAML(r)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	case "table", "text", "":
		renderReport(w, r)
		return nil
	default:
		return fmt.Errorf("unknown format %q (want table, json or yaml)", format)
	}
}

// toYAML renders v with its JSON field names and order by decoding the JSON
// form into a node tree and dropping the flow styles.
func toYAML(v any) ([]byte, error) {
	js, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(js, &doc); err != nil {
		return nil, err
	}
	blockStyle(&doc)
	return yaml.Marshal(&doc)
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
