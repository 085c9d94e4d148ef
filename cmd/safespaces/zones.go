package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/safespaces/internal/config"
	"github.com/signalsfoundry/safespaces/internal/logging"
	"github.com/signalsfoundry/safespaces/internal/store"
	"github.com/signalsfoundry/safespaces/model"
)

func zonesCmd(v *viper.Viper) *cobra.Command {
	zones := &cobra.Command{Use: "zones", Short: "Manage stored zones"}
	zones.AddCommand(zonesListCmd(v), zonesAddCmd(v), zonesRemoveCmd(v))
	return zones
}

// withStore opens the configured store for the duration of fn. Changes made
// here are picked up by a running server on its next start.
func withStore(cmd *cobra.Command, v *viper.Viper, fn func(ctx context.Context, db *store.Store) error) error {
	cfg, err := loadConfig(cmd, v)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	db, err := store.Open(ctx, store.Config{Path: cfg.Store.Path}, quietLogger(cfg))
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(ctx, db)
}

func quietLogger(cfg config.Config) logging.Logger {
	if cfg.Log.Level == "debug" {
		return newLogger(cfg)
	}
	return logging.Noop()
}

type zoneRow struct {
	Name             string    `json:"name"`
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
	RadiusM          float64   `json:"radius_m"`
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
	Guardian         string    `json:"guardian"`
	GuardianPhone    string    `json:"guardian_phone,omitempty"`
	EndpointResolved bool      `json:"endpoint_resolved"`
}

func rowOf(z model.Zone) zoneRow {
	return zoneRow{
		Name:             z.Name,
		Latitude:         z.Center.Latitude,
		Longitude:        z.Center.Longitude,
		RadiusM:          z.Radius,
		WindowStart:      z.Window.Start,
		WindowEnd:        z.Window.End,
		Guardian:         z.Guardian.Name,
		GuardianPhone:    z.Guardian.Phone,
		EndpointResolved: z.Guardian.Endpoint != "",
	}
}

func printZones(w io.Writer, zones []model.Zone, asJSON bool) error {
	rows := make([]zoneRow, 0, len(zones))
	for _, z := range zones {
		rows = append(rows, rowOf(z))
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Name", "Center", "Radius (m)", "Window", "Guardian", "Endpoint"})
	for _, r := range rows {
		endpoint := "pending"
		if r.EndpointResolved {
			endpoint = "resolved"
		}
		tw.AppendRow(table.Row{
			r.Name,
			fmt.Sprintf("%.5f, %.5f", r.Latitude, r.Longitude),
			r.RadiusM,
			fmt.Sprintf("%s - %s", r.WindowStart.Format(time.RFC3339), r.WindowEnd.Format(time.RFC3339)),
			r.Guardian,
			endpoint,
		})
	}
	tw.Render()
	return nil
}

func zonesListCmd(v *viper.Viper) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored zones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, v, func(ctx context.Context, db *store.Store) error {
				zones, err := db.ListZones(ctx)
				if err != nil {
					return err
				}
				return printZones(cmd.OutOrStdout(), zones, asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	return cmd
}

func zonesAddCmd(v *viper.Viper) *cobra.Command {
	var (
		z          model.Zone
		start, end string
	)
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Create or replace a zone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			z.Name = args[0]
			var err error
			if z.Window.Start, err = time.Parse(time.RFC3339, start); err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			if z.Window.End, err = time.Parse(time.RFC3339, end); err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			if err := z.Validate(); err != nil {
				return err
			}
			return withStore(cmd, v, func(ctx context.Context, db *store.Store) error {
				if err := db.PutZone(ctx, z); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "zone %q saved\n", z.Name)
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&z.Center.Latitude, "lat", 0, "center latitude in degrees")
	cmd.Flags().Float64Var(&z.Center.Longitude, "lon", 0, "center longitude in degrees")
	cmd.Flags().Float64Var(&z.Radius, "radius", 0, "radius in metres")
	cmd.Flags().StringVar(&start, "start", "", "window start (RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "window end (RFC3339)")
	cmd.Flags().StringVar(&z.Guardian.Name, "guardian", "", "guardian name")
	cmd.Flags().StringVar(&z.Guardian.Phone, "guardian-phone", "", "guardian phone number")
	_ = cmd.MarkFlagRequired("radius")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func zonesRemoveCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "remove NAME",
		Short: "Delete a zone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, v, func(ctx context.Context, db *store.Store) error {
				if err := db.DeleteZone(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "zone %q removed\n", args[0])
				return nil
			})
		},
	}
}
