package main

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"eventlens/internal/event/models"
)

func eventsCmd(opts *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Create and list events",
	}
	cmd.AddCommand(eventsCreateCmd(opts))
	cmd.AddCommand(eventsListCmd(opts))
	return cmd
}

func eventsCreateCmd(opts *globalOpts) *cobra.Command {
	var (
		req         models.CreateEventRequest
		lat, lon    float64
		photoPath   []string
		activeFrom  string
		activeUntil string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an event and its ledger asset",
		Example: `  eventlensctl events create --name "Go Meetup" --location "Berlin" \
    --total 50 --lat 52.52 --lon 13.405 --venue-photo hall.jpg`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("lat") {
				req.Latitude = &lat
			}
			if cmd.Flags().Changed("lon") {
				req.Longitude = &lon
			}
			var err error
			if req.ActiveFrom, err = parseWindow("active-from", activeFrom); err != nil {
				return err
			}
			if req.ActiveUntil, err = parseWindow("active-until", activeUntil); err != nil {
				return err
			}
			for _, p := range photoPath {
				raw, err := os.ReadFile(p)
				if err != nil {
					return fmt.Errorf("read venue photo: %w", err)
				}
				req.VenuePhotos = append(req.VenuePhotos, base64.StdEncoding.EncodeToString(raw))
			}
			req.Normalize()
			if err := req.Validate(); err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			a, err := opts.buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			e, err := a.EventService.Create(ctx, &req, "eventlensctl")
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), models.NewEventResponse(e), func(w io.Writer) {
				fmt.Fprintf(w, "created event %s (asset %d, %d badges)\n", e.ID, e.AssetID, e.IssuanceCap)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Name, "name", "", "Event name")
	f.StringVar(&req.Description, "description", "", "Event description")
	f.StringVar(&req.Location, "location", "", "Human-readable location")
	f.IntVar(&req.TotalBadges, "total", 100, "Number of badges that can be issued")
	f.Float64Var(&lat, "lat", 0, "Venue latitude")
	f.Float64Var(&lon, "lon", 0, "Venue longitude")
	f.StringVar(&req.DateStart, "date-start", "", "Display start date")
	f.StringVar(&req.DateEnd, "date-end", "", "Display end date")
	f.StringVar(&activeFrom, "active-from", "", "Start of the claim window (RFC 3339)")
	f.StringVar(&activeUntil, "active-until", "", "End of the claim window (RFC 3339)")
	f.StringArrayVar(&photoPath, "venue-photo", nil, "Reference photo of the venue (repeatable, up to 3)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func parseWindow(flag, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", flag, err)
	}
	return &t, nil
}

func eventsListCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List events with their remaining capacity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			a, err := opts.buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			events, err := a.EventService.List(ctx)
			if err != nil {
				return err
			}
			out := make([]models.EventResponse, 0, len(events))
			for _, e := range events {
				out = append(out, models.NewEventResponse(e))
			}
			return opts.print(cmd.OutOrStdout(), out, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tASSET\tISSUED\tREMAINING")
				for _, e := range out {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", e.ID, e.Name, e.AssetID, e.IssuedCount, e.Remaining)
				}
				_ = tw.Flush()
			})
		},
	}
}
