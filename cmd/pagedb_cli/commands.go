package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/sushant-115/pagedb/core/codec"
	"github.com/sushant-115/pagedb/core/dberror"
	"github.com/sushant-115/pagedb/core/indexing/btree"
	"github.com/sushant-115/pagedb/core/indexing/table"
	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
	"github.com/sushant-115/pagedb/core/write_engine/pagefile"
)

var errExit = errors.New("exit")

const helpText = `Commands:
  info                          file, page and root summary
  roots                         registered roots and their page kinds
  header                        decoded header page
  page <pid>                    hex dump of one page
  tree <name>                   tree shape and invariant check
  dump <name> [limit]           pairs of a tree or table
  get <name> <key>              values stored under key
  insert <tree> <key> <value>   add one uint64 pair to a tree
  load <tree> <file>            bulk-load "key value" uint64 lines into a new tree
  append <table> <key> <value>  append one pair to a table
  backup <dst> [rate]           copy the file, optionally throttled (e.g. 20MB)
  remote <url> stats|roots|tree <name>|table <name>|get <name> <key>
  help
  exit / quit`

var uint64Tree = btree.Config[uint64, uint64]{
	Keys:    codec.Uint64Codec{},
	Values:  codec.Uint64Codec{},
	Compare: btree.DefaultKeyOrder[uint64],
}

var stringTable = btree.Config[string, uint64]{
	Keys:    codec.StringCodec{},
	Values:  codec.Uint64Codec{},
	Compare: strings.Compare,
}

// cli runs commands against a local database file, opened on first use, or a
// remote diagnostics server.
type cli struct {
	dbPath   string
	pageSize int
	logger   *zap.Logger
	out      io.Writer
	store    *pagefile.Store
	remotes  map[string]*remoteClient
}

func newCLI(dbPath string, pageSize int, logger *zap.Logger, out io.Writer) *cli {
	return &cli{
		dbPath:   dbPath,
		pageSize: pageSize,
		logger:   logger,
		out:      out,
		remotes:  map[string]*remoteClient{},
	}
}

func (c *cli) close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

func (c *cli) open() (*pagefile.Store, error) {
	if c.store != nil {
		return c.store, nil
	}
	if c.dbPath == "" {
		return nil, errors.New("no database file; pass -db")
	}
	s, err := pagefile.Open(c.dbPath, pagefile.Options{
		PageSize:     c.pageSize,
		SyncOnCommit: true,
		Logger:       c.logger,
	})
	if err != nil {
		return nil, err
	}
	c.store = s
	return s, nil
}

// processCommand handles a single command, either from args or interactive mode.
func (c *cli) processCommand(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("no command provided")
	}
	command := strings.ToLower(args[0])
	need := func(n int, usage string) error {
		if len(args) < n+1 {
			return fmt.Errorf("usage: %s", usage)
		}
		return nil
	}

	switch command {
	case "info":
		return c.info(ctx)
	case "roots":
		return c.roots(ctx)
	case "header":
		return c.header(ctx)
	case "page":
		if err := need(1, "page <pid>"); err != nil {
			return err
		}
		return c.page(ctx, args[1])
	case "tree":
		if err := need(1, "tree <name>"); err != nil {
			return err
		}
		return c.tree(ctx, args[1])
	case "dump":
		if err := need(1, "dump <name> [limit]"); err != nil {
			return err
		}
		limit := 0
		if len(args) > 2 {
			n, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("limit: %w", err)
			}
			limit = n
		}
		return c.dump(ctx, args[1], limit)
	case "get":
		if err := need(2, "get <name> <key>"); err != nil {
			return err
		}
		return c.get(ctx, args[1], strings.Join(args[2:], " "))
	case "insert":
		if err := need(3, "insert <tree> <key> <value>"); err != nil {
			return err
		}
		return c.insert(ctx, args[1], args[2], args[3])
	case "load":
		if err := need(2, "load <tree> <file>"); err != nil {
			return err
		}
		return c.load(ctx, args[1], args[2])
	case "append":
		if err := need(3, "append <table> <key> <value>"); err != nil {
			return err
		}
		return c.appendPair(ctx, args[1], args[2], strings.Join(args[3:], " "))
	case "backup":
		if err := need(1, "backup <dst> [rate]"); err != nil {
			return err
		}
		rate := ""
		if len(args) > 2 {
			rate = args[2]
		}
		return c.backup(ctx, args[1], rate)
	case "remote":
		if err := need(2, "remote <url> <command>"); err != nil {
			return err
		}
		return c.remote(ctx, args[1], args[2:])
	case "help":
		fmt.Fprintln(c.out, helpText)
		return nil
	case "exit", "quit":
		return errExit
	default:
		return fmt.Errorf("unknown command %q, type 'help' for a list of commands", command)
	}
}

func (c *cli) read(ctx context.Context, fn func(*pagefile.ReadTxn) error) error {
	s, err := c.open()
	if err != nil {
		return err
	}
	return s.Read(ctx, fn)
}

func (c *cli) update(ctx context.Context, fn func(*pagefile.WriteTxn) error) error {
	s, err := c.open()
	if err != nil {
		return err
	}
	return s.Update(ctx, pagemanager.Version(time.Now().UnixNano()), fn)
}

func (c *cli) info(ctx context.Context) error {
	return c.read(ctx, func(txn *pagefile.ReadTxn) error {
		names, err := txn.RootNames()
		if err != nil {
			return err
		}
		s := c.store
		fmt.Fprintf(c.out, "file:       %s\n", s.Path())
		fmt.Fprintf(c.out, "page size:  %s\n", humanize.IBytes(uint64(s.PageSize())))
		fmt.Fprintf(c.out, "pages:      %s\n", humanize.Comma(int64(s.PageCount())))
		fmt.Fprintf(c.out, "size:       %s\n", humanize.IBytes(uint64(s.PageCount())*uint64(s.PageSize())))
		fmt.Fprintf(c.out, "version:    %d\n", txn.Version())
		fmt.Fprintf(c.out, "roots:      %d\n", len(names))
		return nil
	})
}

func (c *cli) roots(ctx context.Context) error {
	return c.read(ctx, func(txn *pagefile.ReadTxn) error {
		names, err := txn.RootNames()
		if err != nil {
			return err
		}
		slices.Sort(names)
		tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tPAGE\tKIND")
		for _, name := range names {
			pid, err := txn.GetRoot(name)
			if err != nil {
				return err
			}
			kind, err := rootKind(txn, pid)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\n", name, pid, pagemanager.CookieName(kind))
		}
		return tw.Flush()
	})
}

func (c *cli) header(ctx context.Context) error {
	return c.read(ctx, func(txn *pagefile.ReadTxn) error {
		raw, err := txn.RawPage(pagemanager.HeaderPageID)
		if err != nil {
			return err
		}
		h, err := pagefile.DecodeHeader(raw)
		if err != nil {
			return err
		}
		spew.Fdump(c.out, h)
		return nil
	})
}

func (c *cli) page(ctx context.Context, arg string) error {
	pid, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return fmt.Errorf("page id: %w", err)
	}
	return c.read(ctx, func(txn *pagefile.ReadTxn) error {
		if uint32(pid) >= c.store.PageCount() {
			return fmt.Errorf("%w: page %d is beyond the %d committed pages", dberror.ErrKeyNotFound, pid, c.store.PageCount())
		}
		raw, err := txn.RawPage(pagemanager.PageID(pid))
		if err != nil {
			return err
		}
		used := len(raw)
		for used > 0 && raw[used-1] == 0 {
			used--
		}
		fmt.Fprintf(c.out, "page %d: %s, %s used of %s\n", pid,
			pagemanager.CookieName(binary.BigEndian.Uint32(raw)),
			humanize.IBytes(uint64(used)), humanize.IBytes(uint64(len(raw))))
		fmt.Fprint(c.out, hex.Dump(raw[:used]))
		return nil
	})
}

func (c *cli) tree(ctx context.Context, name string) error {
	return c.read(ctx, func(txn *pagefile.ReadTxn) error {
		t, err := btree.OpenDynamic(txn, name)
		if err != nil {
			return err
		}
		st, err := t.Stats()
		if err != nil {
			return err
		}
		keys, values, err := codec.LookupPair(st.TypeTag)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "tree %s (%s -> %s), root page %d\n", name, keys.Name, values.Name, t.Root())
		fmt.Fprintf(c.out, "  depth %d, %s leaves, %s internal nodes, %s pairs\n",
			st.Depth, humanize.Comma(int64(st.LeafPages)), humanize.Comma(int64(st.InternalPages)), humanize.Comma(int64(st.Pairs)))
		fmt.Fprintf(c.out, "  %s of node content, %.1f%% fill\n", humanize.IBytes(uint64(st.BytesUsed)), st.FillRatio()*100)
		if err := t.Check(); err != nil {
			fmt.Fprintf(c.out, "  check FAILED: %v\n", err)
			return err
		}
		fmt.Fprintln(c.out, "  check ok")
		return nil
	})
}

// collection is the common read surface of dynamic trees and tables.
type collection interface {
	Get(k any) ([]any, error)
	Pairs() ([]btree.Pair[any, any], error)
	TypeTag() uint32
}

func openCollection(txn pagefile.Mediator, name string) (collection, error) {
	pid, err := txn.GetRoot(name)
	if err != nil {
		return nil, err
	}
	kind, err := rootKind(txn, pid)
	if err != nil {
		return nil, err
	}
	if kind == pagemanager.CookieTable {
		return table.OpenDynamic(txn, name)
	}
	return btree.OpenDynamic(txn, name)
}

func (c *cli) dump(ctx context.Context, name string, limit int) error {
	return c.read(ctx, func(txn *pagefile.ReadTxn) error {
		col, err := openCollection(txn, name)
		if err != nil {
			return err
		}
		pairs, err := col.Pairs()
		if err != nil {
			return err
		}
		for i, p := range pairs {
			if limit > 0 && i == limit {
				fmt.Fprintf(c.out, "... %s more\n", humanize.Comma(int64(len(pairs)-limit)))
				break
			}
			fmt.Fprintf(c.out, "%v\t%v\n", p.Key, p.Value)
		}
		return nil
	})
}

func (c *cli) get(ctx context.Context, name, rawKey string) error {
	return c.read(ctx, func(txn *pagefile.ReadTxn) error {
		col, err := openCollection(txn, name)
		if err != nil {
			return err
		}
		keys, _, err := codec.LookupPair(col.TypeTag())
		if err != nil {
			return err
		}
		k, err := keys.Parse(rawKey)
		if err != nil {
			return err
		}
		values, err := col.Get(k)
		if err != nil {
			return err
		}
		if len(values) == 0 {
			return fmt.Errorf("%w: %s in %s", dberror.ErrKeyNotFound, rawKey, name)
		}
		for _, v := range values {
			fmt.Fprintln(c.out, v)
		}
		return nil
	})
}

func (c *cli) insert(ctx context.Context, name, rawKey, rawValue string) error {
	k, err := strconv.ParseUint(rawKey, 10, 64)
	if err != nil {
		return fmt.Errorf("key: %w", err)
	}
	v, err := strconv.ParseUint(rawValue, 10, 64)
	if err != nil {
		return fmt.Errorf("value: %w", err)
	}
	return c.update(ctx, func(txn *pagefile.WriteTxn) error {
		t, err := btree.OpenOrCreate(txn, name, uint64Tree)
		if err != nil {
			return err
		}
		return t.Add(k, v)
	})
}

func (c *cli) load(ctx context.Context, name, path string) error {
	pairs, err := readUintPairs(path)
	if err != nil {
		return err
	}
	slices.SortStableFunc(pairs, func(a, b btree.Pair[uint64, uint64]) int {
		return uint64Tree.Compare(a.Key, b.Key)
	})
	start := time.Now()
	err = c.update(ctx, func(txn *pagefile.WriteTxn) error {
		_, err := btree.Create(txn, name, uint64Tree, pairs)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "loaded %s pairs into %s in %s\n", humanize.Comma(int64(len(pairs))), name, time.Since(start).Round(time.Millisecond))
	return nil
}

func readUintPairs(path string) ([]btree.Pair[uint64, uint64], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pairs []btree.Pair[uint64, uint64]
	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("%s:%d: want \"key value\"", path, line)
		}
		k, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: key: %w", path, line, err)
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: value: %w", path, line, err)
		}
		pairs = append(pairs, btree.Pair[uint64, uint64]{Key: k, Value: v})
	}
	return pairs, sc.Err()
}

// appendPair appends to an existing table with its own types, or creates a
// string -> uint64 table.
func (c *cli) appendPair(ctx context.Context, name, rawKey, rawValue string) error {
	return c.update(ctx, func(txn *pagefile.WriteTxn) error {
		tbl, err := table.OpenDynamic(txn, name)
		if errors.Is(err, dberror.ErrKeyNotFound) {
			v, err := strconv.ParseUint(rawValue, 10, 64)
			if err != nil {
				return fmt.Errorf("value: %w", err)
			}
			created, err := table.Create(txn, name, stringTable)
			if err != nil {
				return err
			}
			return created.Append([]btree.Pair[string, uint64]{{Key: rawKey, Value: v}}, false)
		}
		if err != nil {
			return err
		}
		keys, values, err := codec.LookupPair(tbl.TypeTag())
		if err != nil {
			return err
		}
		k, err := keys.Parse(rawKey)
		if err != nil {
			return err
		}
		v, err := values.Parse(rawValue)
		if err != nil {
			return err
		}
		return tbl.Append([]btree.Pair[any, any]{{Key: k, Value: v}}, false)
	})
}

func (c *cli) backup(ctx context.Context, dst, rate string) error {
	var bytesPerSec int64
	if rate != "" {
		n, err := humanize.ParseBytes(rate)
		if err != nil {
			return fmt.Errorf("rate: %w", err)
		}
		bytesPerSec = int64(n)
	}
	s, err := c.open()
	if err != nil {
		return err
	}
	start := time.Now()
	if err := s.Backup(ctx, dst, bytesPerSec); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "backed up %s to %s in %s\n",
		humanize.IBytes(uint64(s.PageCount())*uint64(s.PageSize())), dst, time.Since(start).Round(time.Millisecond))
	return nil
}

func rootKind(txn pagefile.Mediator, pid pagemanager.PageID) (uint32, error) {
	raw, err := txn.RawPage(pid)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(raw), nil
}
