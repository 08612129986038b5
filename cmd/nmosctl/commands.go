package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhpke/nmos-core/internal/auth"
	"github.com/dhpke/nmos-core/internal/routing"
)

// routeResult is the body returned by route and disconnect.
type routeResult struct {
	Op         routing.Op `json:"op"`
	ReceiverID string     `json:"receiver_id"`
	SenderID   string     `json:"sender_id"`
}

type snapshotList struct {
	Snapshots []routing.Snapshot `json:"snapshots"`
	Count     int                `json:"count"`
}

func matrixCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "matrix",
		Short: "Show senders, receivers and active routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return fetchMatrix(cmd, opts, http.MethodGet, "/routing/matrix")
		},
	}
}

func refreshCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Re-read the matrix from the registry now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return fetchMatrix(cmd, opts, http.MethodPost, "/routing/refresh")
		},
	}
}

func fetchMatrix(cmd *cobra.Command, opts *options, method, path string) error {
	c, err := opts.client()
	if err != nil {
		return err
	}
	var m routing.Matrix
	if err := c.do(cmd.Context(), method, path, nil, &m); err != nil {
		return err
	}
	if opts.output == "json" {
		return printJSON(cmd.OutOrStdout(), m)
	}
	printMatrix(cmd.OutOrStdout(), m)
	return nil
}

func routeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "route SENDER_ID RECEIVER_ID",
		Short: "Connect a receiver to a sender",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeRoute(cmd, opts, "/routing/route", args[0], args[1])
		},
	}
}

func disconnectCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect RECEIVER_ID",
		Short: "Disconnect a receiver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeRoute(cmd, opts, "/routing/disconnect", "", args[0])
		},
	}
}

func executeRoute(cmd *cobra.Command, opts *options, path, senderID, receiverID string) error {
	c, err := opts.client()
	if err != nil {
		return err
	}
	req := map[string]string{"receiver_id": receiverID}
	if senderID != "" {
		req["sender_id"] = senderID
	}
	var res routeResult
	if err := c.do(cmd.Context(), http.MethodPost, path, req, &res); err != nil {
		return err
	}
	if opts.output == "json" {
		return printJSON(cmd.OutOrStdout(), res)
	}
	if res.SenderID == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: disconnected\n", res.ReceiverID)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s <- %s\n", res.ReceiverID, res.SenderID)
	}
	return nil
}

func snapshotCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "snapshot",
		Aliases: []string{"snapshots"},
		Short:   "Save, list, load and delete routing snapshots",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			var res snapshotList
			if err := c.do(cmd.Context(), http.MethodGet, "/snapshots", nil, &res); err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), res)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tROUTES\tCREATED\tDESCRIPTION")
			for _, s := range res.Snapshots {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.Name, len(s.Routes), s.CreatedAt.Format(time.RFC3339), s.Description)
			}
			return tw.Flush()
		},
	}

	var description string
	save := &cobra.Command{
		Use:   "save NAME",
		Short: "Save the current routes under NAME",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			req := map[string]string{"name": args[0], "description": description}
			var snap routing.Snapshot
			if err := c.do(cmd.Context(), http.MethodPost, "/snapshots", req, &snap); err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), snap)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %q with %d routes\n", snap.Name, len(snap.Routes))
			return nil
		},
	}
	save.Flags().StringVarP(&description, "description", "d", "", "free-text description")

	load := &cobra.Command{
		Use:   "load NAME",
		Short: "Restore the routes saved under NAME",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			var res routing.LoadResult
			path := "/snapshots/" + url.PathEscape(args[0]) + "/load"
			if err := c.do(cmd.Context(), http.MethodPost, path, nil, &res); err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printLoadResult(cmd.OutOrStdout(), res)
			if res.Failed > 0 {
				return fmt.Errorf("%d of %d routes failed", res.Failed, res.ValidRoutes)
			}
			return nil
		},
	}

	remove := &cobra.Command{
		Use:     "delete NAME",
		Aliases: []string{"rm"},
		Short:   "Delete the snapshot NAME",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			if err := c.do(cmd.Context(), http.MethodDelete, "/snapshots/"+url.PathEscape(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %q\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, save, load, remove)
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		secret  string
		subject string
		role    string
		issuer  string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin API token",
		Long: `Mint an HS256 token signed with the node's security.jwt.secret.

The secret defaults to $NMOS_JWT_SECRET. Print it into $NMOS_TOKEN:

  export NMOS_TOKEN=$(nmosctl token --role operator)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				return errors.New("a signing secret is required (--secret or $NMOS_JWT_SECRET)")
			}
			token, err := auth.GenerateAccessToken(auth.Principal{Subject: subject, Role: auth.Role(role)}, secret, issuer, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", os.Getenv("NMOS_JWT_SECRET"), "JWT signing secret")
	cmd.Flags().StringVar(&subject, "subject", "nmosctl", "token subject")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleOperator), "role (viewer, operator, admin)")
	cmd.Flags().StringVar(&issuer, "issuer", "", "issuer claim, must match security.jwt.issuer")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultAccessTokenTTL, "token lifetime")

	return cmd
}

func printMatrix(w io.Writer, m routing.Matrix) {
	labels := make(map[string]string, len(m.Senders))
	for _, s := range m.Senders {
		labels[s.ID] = s.Label
	}
	pending := make(map[string]bool, len(m.Pending))
	for _, id := range m.Pending {
		pending[id] = true
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RECEIVER\tLABEL\tSENDER\tSENDER LABEL\t")
	for _, r := range m.Receivers {
		sender, ok := m.RouteOf(r.ID)
		senderLabel := labels[sender]
		if !ok {
			sender, senderLabel = "-", ""
		}
		mark := ""
		if pending[r.ID] {
			mark = "pending"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Label, sender, senderLabel, mark)
	}
	tw.Flush()

	fmt.Fprintf(w, "\n%d senders, %d receivers, %d routes; refresh %s", len(m.Senders), len(m.Receivers), len(m.Routes), m.Status.State)
	if m.Status.Message != "" {
		fmt.Fprintf(w, " (%s)", m.Status.Message)
	}
	fmt.Fprintln(w)
}

func printLoadResult(w io.Writer, res routing.LoadResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RECEIVER\tSENDER\tSTATUS\tERROR")
	for _, e := range res.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ReceiverID, e.SenderID, e.Status, e.Error)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%s: %d applied, %d failed, %d invalid\n", res.Snapshot, res.Applied, res.Failed, res.InvalidRoutes)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
