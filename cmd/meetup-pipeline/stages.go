package main

import (
	"github.com/spf13/cobra"
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Geocode data/raw/cities_list.txt into data/raw/geocoded_<ts>.json",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := newRunner(cmd.Context(), needs{geocoder: true})
		if err != nil {
			return err
		}
		_, err = r.Geocode(cmd.Context())
		return err
	},
}

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Fetch the groups near every geocoded city",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := newRunner(cmd.Context(), needs{meetup: true})
		if err != nil {
			return err
		}
		_, err = r.FetchGroups(cmd.Context())
		return err
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Fetch the past events of every group",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := newRunner(cmd.Context(), needs{meetup: true})
		if err != nil {
			return err
		}
		_, err = r.FetchEvents(cmd.Context())
		return err
	},
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Count qualifying events per city into data/processed/events_in_cities_<ts>.csv",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := newRunner(cmd.Context(), needs{summary: true})
		if err != nil {
			return err
		}
		_, err = r.Summarize(cmd.Context())
		return err
	},
}
