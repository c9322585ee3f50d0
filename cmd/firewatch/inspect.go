package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/Capitan-Parrot/firewatch/internal/device"
	"github.com/Capitan-Parrot/firewatch/internal/models"
	"github.com/Capitan-Parrot/firewatch/internal/services/detectionlog"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
)

func devicesCommand() *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "List the cameras available to the pipeline",
		Action: func(c *cli.Context) error {
			_, log, err := setup(c)
			if err != nil {
				return err
			}
			defer log.Sync()

			devices := device.NewEnumerator(log).ListVideoInputs()
			if len(devices) == 0 {
				fmt.Println("no cameras found")
				return nil
			}

			preselected, _ := device.Preselect(devices)
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "\tID\tLABEL")
			for _, d := range devices {
				marker := lo.Ternary(d.ID == preselected.ID, "*", "")
				fmt.Fprintf(w, "%s\t%s\t%s\n", marker, d.ID, d.Label)
			}
			return w.Flush()
		},
	}
}

func logsCommand() *cli.Command {
	return &cli.Command{
		Name:  "logs",
		Usage: "Print one page of the detection log",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "page",
				Aliases: []string{"p"},
				Value:   1,
				Usage:   "Page to show, clamped to the available range",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, log, err := setup(c)
			if err != nil {
				return err
			}
			defer log.Sync()

			client := detectionlog.NewClient(cfg.DetectionLog.BaseURL, cfg.DetectionLog.Timeout)
			browser := detectionlog.NewBrowser(client, cfg.DetectionLog.PageSize, log)

			page, err := browser.Show(c.Context, c.Int("page"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("detection log unavailable: %v", err), 1)
			}

			printLogPage(page, client)
			return nil
		},
	}
}

func printLogPage(page *models.LogPage, client *detectionlog.Client) {
	fmt.Printf("page %d of %d (%d records)\n", page.Page, page.PageCount(), page.TotalCount)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tMESSAGE\tDETECTIONS\tSNAPSHOT")
	for _, rec := range page.Items {
		classes := lo.Map(rec.Detections, func(d models.Detection, _ int) string {
			return fmt.Sprintf("%s %.2f", d.ClassName, d.Confidence)
		})
		snapshot := ""
		if rec.ResultImage != "" {
			snapshot = client.SnapshotURL(rec.ResultImage)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			rec.ID,
			rec.CreatedAt.Format("2006-01-02 15:04:05"),
			rec.Message,
			strings.Join(classes, ", "),
			snapshot,
		)
	}
	w.Flush()
}
