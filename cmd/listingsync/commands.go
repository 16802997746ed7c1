package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/listingsync"
	"github.com/unkn0wn-root/listingsync/internal/config"
	"github.com/unkn0wn-root/listingsync/listing"
)

var errNotFound = errors.New("listing not found")

// run wraps a command body with config loading and app wiring.
func run(needDB bool, fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		cfg, err := config.Load(nil)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := newApp(ctx, cfg, needDB)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := a.Close(context.Background()); err == nil {
				err = cerr
			}
		}()
		return fn(ctx, a, cmd, args)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// subject reads --subject; unset means the anonymous subject.
func subject(cmd *cobra.Command) *int64 {
	if !cmd.Flags().Changed("subject") {
		return nil
	}
	v, _ := cmd.Flags().GetInt64("subject")
	return &v
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or extend the listings table",
		Args:  cobra.NoArgs,
		RunE: run(true, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			if err := a.records.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrated")
			return nil
		}),
	}
}

func getCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Read a listing from the cache or the index",
		Args:  cobra.ExactArgs(1),
		RunE: run(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			id := args[0]
			from, _ := cmd.Flags().GetString("from")
			switch from {
			case "db":
				l, err := a.svc.ReadByID(ctx, id)
				if err != nil {
					return err
				}
				if l == nil {
					return errNotFound
				}
				return printJSON(cmd.OutOrStdout(), l)
			case "index":
				v, err := a.svc.GetVersioned(ctx, id)
				if err != nil {
					return err
				}
				if v == nil {
					return errNotFound
				}
				return printJSON(cmd.OutOrStdout(), v)
			case "", "cache":
				var opts []listingsync.GetOption[listing.Listing]
				if skip, _ := cmd.Flags().GetBool("skip-cache"); skip {
					opts = append(opts, listingsync.SkipCache[listing.Listing]())
				}
				l, ok := a.svc.Get(ctx, id, opts...)
				if !ok {
					return errNotFound
				}
				return printJSON(cmd.OutOrStdout(), l)
			default:
				return fmt.Errorf("unknown source %q (cache, index, db)", from)
			}
		}),
	}
	cmd.Flags().String("from", "cache", config.WrapString("Where to read: cache (falls back to the index), index (with version) or db"))
	cmd.Flags().Bool("skip-cache", false, config.WrapString("Bypass the cache on the fast path"))
	return cmd
}

func putCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put",
		Short: "Create or update a listing",
		Long: config.WrapString(`Create or update a listing from flags, or from a JSON document given
with --file (- for stdin). Flags override fields of the document. With --version
the listing is written to the cache and the index only, at that version.`),
		Args: cobra.NoArgs,
		RunE: run(true, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			l, err := listingFromFlags(cmd)
			if err != nil {
				return err
			}
			if version, _ := cmd.Flags().GetInt64("version"); version > 0 {
				err = a.svc.SaveVersioned(ctx, l, version)
			} else {
				err = a.svc.SaveOrUpdate(ctx, l)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), l)
		}),
	}
	f := cmd.Flags()
	f.String("file", "", config.WrapString("JSON listing to read, - for stdin"))
	f.String("id", "", config.WrapString("Listing id; empty creates a new listing"))
	f.Int64("owner", 0, config.WrapString("Owner id"))
	f.String("name", "", config.WrapString("Name"))
	f.String("desc", "", config.WrapString("Description"))
	f.Float64("lat", 0, config.WrapString("Latitude, needs --lon"))
	f.Float64("lon", 0, config.WrapString("Longitude, needs --lat"))
	f.Int64("version", 0, config.WrapString("Force this index version; skips the database"))
	return cmd
}

func listingFromFlags(cmd *cobra.Command) (*listing.Listing, error) {
	f := cmd.Flags()
	l := &listing.Listing{}
	if file, _ := f.GetString("file"); file != "" {
		var r io.Reader = cmd.InOrStdin()
		if file != "-" {
			fh, err := os.Open(file)
			if err != nil {
				return nil, err
			}
			defer fh.Close()
			r = fh
		}
		if err := json.NewDecoder(r).Decode(l); err != nil {
			return nil, fmt.Errorf("decode listing: %w", err)
		}
	}
	if f.Changed("id") {
		l.ID, _ = f.GetString("id")
	}
	if f.Changed("owner") {
		v, _ := f.GetInt64("owner")
		l.OwnerID = &v
	}
	if f.Changed("name") {
		l.Name, _ = f.GetString("name")
	}
	if f.Changed("desc") {
		l.Description, _ = f.GetString("desc")
	}
	switch {
	case f.Changed("lat") && f.Changed("lon"):
		lat, _ := f.GetFloat64("lat")
		lon, _ := f.GetFloat64("lon")
		l.SetPosition(lat, lon)
	case f.Changed("lat") || f.Changed("lon"):
		return nil, errors.New("--lat and --lon go together")
	}
	return l, nil
}

func deleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete a listing, or only hide it from search",
		Args:  cobra.ExactArgs(1),
		RunE: run(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			var err error
			if only, _ := cmd.Flags().GetBool("index-only"); only {
				err = a.svc.DeleteFromIndex(ctx, args[0], subject(cmd))
			} else {
				err = a.svc.Delete(ctx, args[0], subject(cmd))
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted", args[0])
			return nil
		}),
	}
	cmd.Flags().Int64("subject", 0, config.WrapString("Acting owner id; unset acts for listings without owner"))
	cmd.Flags().Bool("index-only", false, config.WrapString("Remove the search document only; the row and the cache stay"))
	return cmd
}

func purgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge <id>",
		Short: "Erase a listing from the database and the index",
		Args:  cobra.ExactArgs(1),
		RunE: run(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if err := a.svc.TotalDelete(ctx, args[0], subject(cmd)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "purged", args[0])
			return nil
		}),
	}
	cmd.Flags().Int64("subject", 0, config.WrapString("Acting owner id; unset acts for listings without owner"))
	return cmd
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Page through listings in the database",
		Args:  cobra.NoArgs,
		RunE: run(true, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			f := cmd.Flags()
			flt := listing.Filter{}
			if f.Changed("owner") {
				v, _ := f.GetInt64("owner")
				flt.OwnerID = &v
			}
			flt.Skip, _ = f.GetInt("skip")
			flt.Limit, _ = f.GetInt("limit")
			order, _ := f.GetString("order")
			flt.Order = listing.OrderBy(order)
			flt.Desc, _ = f.GetBool("desc")
			flt.IncludeDeleted, _ = f.GetBool("deleted")

			rows, err := a.svc.List(ctx, flt)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rows)
		}),
	}
	f := cmd.Flags()
	f.Int64("owner", 0, config.WrapString("Only listings of this owner"))
	f.Int("skip", 0, config.WrapString("Rows to skip"))
	f.Int("limit", listing.DefaultLimit, config.WrapString("Rows to return"))
	f.String("order", "created", config.WrapString("Order by created, updated or name"))
	f.Bool("desc", false, config.WrapString("Descending order"))
	f.Bool("deleted", false, config.WrapString("Include soft-deleted listings"))
	return cmd
}

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search [text]",
		Short: "Search the index",
		Args:  cobra.MaximumNArgs(1),
		RunE: run(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			q, err := queryFromFlags(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				q.Text = args[0]
			}
			hits, err := a.svc.Search(ctx, q)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), hits)
		}),
	}
	f := cmd.Flags()
	f.Int64("owner", 0, config.WrapString("Only listings of this owner"))
	f.String("created-from", "", config.WrapString("Created at or after (RFC 3339)"))
	f.String("created-to", "", config.WrapString("Created at or before (RFC 3339)"))
	f.String("near", "", config.WrapString("lat,lon center of a circle; needs --radius"))
	f.Float64("radius", 0, config.WrapString("Circle radius in km"))
	f.String("bbox", "", config.WrapString("top,left,bottom,right bounding box"))
	f.String("order", "created", config.WrapString("Order by score, created, updated, name or distance"))
	f.Bool("desc", false, config.WrapString("Descending order"))
	f.Int("skip", 0, config.WrapString("Hits to skip"))
	f.Int("limit", listing.DefaultLimit, config.WrapString("Hits to return"))
	return cmd
}

func queryFromFlags(cmd *cobra.Command) (listing.Query, error) {
	f := cmd.Flags()
	var q listing.Query
	if f.Changed("owner") {
		v, _ := f.GetInt64("owner")
		q.OwnerID = &v
	}
	for name, dst := range map[string]**time.Time{"created-from": &q.From, "created-to": &q.To} {
		s, _ := f.GetString(name)
		if s == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, fmt.Errorf("--%s: %w", name, err)
		}
		*dst = &t
	}
	if near, _ := f.GetString("near"); near != "" {
		c, err := floats(near, 2)
		if err != nil {
			return q, fmt.Errorf("--near: %w", err)
		}
		radius, _ := f.GetFloat64("radius")
		if radius <= 0 {
			return q, errors.New("--near needs a positive --radius")
		}
		q.Circle = &listing.Circle{Center: listing.Location{Lat: c[0], Lon: c[1]}, RadiusKm: radius}
	}
	if bbox, _ := f.GetString("bbox"); bbox != "" {
		b, err := floats(bbox, 4)
		if err != nil {
			return q, fmt.Errorf("--bbox: %w", err)
		}
		q.Bound = &listing.Bound{
			TopLeft:     listing.Location{Lat: b[0], Lon: b[1]},
			BottomRight: listing.Location{Lat: b[2], Lon: b[3]},
		}
	}
	order, _ := f.GetString("order")
	q.Order = listing.OrderBy(order)
	q.Desc, _ = f.GetBool("desc")
	q.Skip, _ = f.GetInt("skip")
	q.Limit, _ = f.GetInt("limit")
	return q, nil
}

func floats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("want %d comma-separated numbers, got %q", n, s)
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func queueLenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue-len",
		Short: "Print the number of listings waiting on the queue list",
		Args:  cobra.NoArgs,
		RunE: run(false, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), a.cache.ListLength(ctx, a.pub.List()))
			return nil
		}),
	}
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print listings as they are announced on the queue channel",
		Args:  cobra.NoArgs,
		RunE: run(false, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			sub, ok := a.cache.Subscribe(ctx, a.pub.Channel())
			if !ok {
				return fmt.Errorf("subscribe to %s failed", a.pub.Channel())
			}
			defer sub.Close()

			limit, _ := cmd.Flags().GetInt("count")
			for n := 0; limit <= 0 || n < limit; n++ {
				select {
				case <-ctx.Done():
					return nil
				case l, open := <-sub.Messages():
					if !open {
						return nil
					}
					if err := printJSON(cmd.OutOrStdout(), l); err != nil {
						return err
					}
				}
			}
			return nil
		}),
	}
	cmd.Flags().Int("count", 0, config.WrapString("Stop after this many listings; 0 watches until interrupted"))
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of listingsync",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "listingsync v%s\n", Version)
		},
	}
}
