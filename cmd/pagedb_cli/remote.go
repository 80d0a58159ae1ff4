package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-resty/resty/v2"

	"github.com/sushant-115/pagedb/internal/server"
)

const clientTimeout = 10 * time.Second

// remoteClient talks to a pagedb_server diagnostics endpoint.
type remoteClient struct {
	client    *resty.Client
	serverURL string
}

func newRemoteClient(serverURL string) *remoteClient {
	return &remoteClient{
		client: resty.New().
			SetTimeout(clientTimeout).
			SetRetryCount(2).
			SetRetryWaitTime(200 * time.Millisecond),
		serverURL: strings.TrimRight(serverURL, "/"),
	}
}

func (r *remoteClient) get(ctx context.Context, result any, segments ...string) error {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	uri := r.serverURL + "/" + strings.Join(escaped, "/")
	resp, err := r.client.R().SetContext(ctx).SetResult(result).Get(uri)
	if err != nil {
		return fmt.Errorf("GET %s: %w", uri, err)
	}
	if resp.IsError() {
		return fmt.Errorf("GET %s: %s: %s", uri, resp.Status(), strings.TrimSpace(resp.String()))
	}
	return nil
}

func (c *cli) remote(ctx context.Context, serverURL string, args []string) error {
	r, ok := c.remotes[serverURL]
	if !ok {
		r = newRemoteClient(serverURL)
		c.remotes[serverURL] = r
	}
	switch strings.ToLower(args[0]) {
	case "stats":
		var st server.StatsResponse
		if err := r.get(ctx, &st, "stats"); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s: %s pages of %s (%s), version %d, %d roots\n", st.Path,
			humanize.Comma(int64(st.PageCount)), humanize.IBytes(uint64(st.PageSize)),
			humanize.IBytes(uint64(st.FileBytes)), st.Version, st.Roots)
	case "roots":
		var roots []server.RootResponse
		if err := r.get(ctx, &roots, "roots"); err != nil {
			return err
		}
		tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tPAGE\tKIND")
		for _, root := range roots {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", root.Name, root.PageID, root.Kind)
		}
		return tw.Flush()
	case "tree":
		if len(args) < 2 {
			return fmt.Errorf("usage: remote <url> tree <name>")
		}
		var tree server.TreeResponse
		if err := r.get(ctx, &tree, "trees", args[1]); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "tree %s (%s -> %s), root page %d, depth %d, %s pairs, %.1f%% fill\n",
			tree.Name, tree.KeyType, tree.ValueType, tree.Root, tree.Stats.Depth,
			humanize.Comma(int64(tree.Stats.Pairs)), tree.FillRatio*100)
	case "table":
		if len(args) < 2 {
			return fmt.Errorf("usage: remote <url> table <name>")
		}
		var tbl server.TableResponse
		if err := r.get(ctx, &tbl, "tables", args[1]); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "table %s (%s -> %s), %d pages, %s pairs\n",
			tbl.Name, tbl.KeyType, tbl.ValueType, len(tbl.Pages), humanize.Comma(int64(tbl.Pairs)))
	case "get":
		if len(args) < 3 {
			return fmt.Errorf("usage: remote <url> get <name> <key>")
		}
		var lookup server.LookupResponse
		if err := r.get(ctx, &lookup, "trees", args[1], "keys", strings.Join(args[2:], " ")); err != nil {
			return err
		}
		for _, v := range lookup.Values {
			fmt.Fprintln(c.out, v)
		}
	default:
		return fmt.Errorf("unknown remote command %q", args[0])
	}
	return nil
}
