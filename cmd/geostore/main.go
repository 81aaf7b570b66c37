// Command geostore inspects and initializes geostore repositories.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/i5heu/geostore"
	"github.com/i5heu/geostore/internal/config"
	"github.com/i5heu/geostore/pkg/logging"
	"github.com/i5heu/geostore/pkg/model"
	"github.com/i5heu/geostore/pkg/storage"
	"github.com/spf13/cobra"
)

type app struct {
	location string
	logLevel string
	store    *geostore.Geostore
	repo     *geostore.Repository
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "geostore",
		Short:        "Inspect versioned geospatial repositories",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			g, err := geostore.New(geostore.Options{Logger: logging.New(a.logLevel)})
			if err != nil {
				return err
			}
			a.store = g
			if cmd.Annotations["repo"] != "open" {
				return nil
			}
			a.repo, err = g.Open(a.location, storage.ReadOnlyHints())
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.repo == nil {
				return nil
			}
			return a.repo.Close()
		},
	}
	root.PersistentFlags().StringVarP(&a.location, "repo", "r", ".", "repository directory or URI")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level")

	root.AddCommand(
		a.initCmd(),
		a.formatsCmd(),
		a.lookupCmd(),
		a.catCmd(),
		a.depthCmd(),
		a.logCmd(),
		a.conflictsCmd(),
		a.indexesCmd(),
	)
	return root
}

// opens marks a command as needing the repository open.
func opens(cmd *cobra.Command) *cobra.Command {
	cmd.Annotations = map[string]string{"repo": "open"}
	return cmd
}

func parseFormat(s string) (config.Format, error) {
	name, version, ok := strings.Cut(s, "/")
	if !ok || name == "" || version == "" {
		return config.Format{}, fmt.Errorf("format %q is not name/version", s)
	}
	return config.Format{Name: name, Version: version}, nil
}

func (a *app) initCmd() *cobra.Command {
	sc := config.Default()
	formats := map[string]*string{}
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for name, dst := range map[string]*config.Format{
				"objects":   &sc.Objects,
				"graph":     &sc.Graph,
				"index":     &sc.Index,
				"conflicts": &sc.Conflicts,
				"refs":      &sc.Refs,
				"config":    &sc.Config,
			} {
				if *formats[name] == "" {
					continue
				}
				f, err := parseFormat(*formats[name])
				if err != nil {
					return err
				}
				*dst = f
			}
			if err := a.store.Init(a.location, sc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized repository in %s\n", a.location)
			return nil
		},
	}
	for _, name := range []string{"objects", "graph", "index", "conflicts", "refs", "config"} {
		formats[name] = cmd.Flags().String(name, "", "format of the "+name+" store as name/version")
	}
	cmd.Flags().StringVar(&sc.Compression, "compression", sc.Compression, "object compression: none, lz4, zstd or lzma")
	cmd.Flags().IntVar(&sc.CacheSize, "cache-size", sc.CacheSize, "decoded objects kept in memory")
	cmd.Flags().IntVar(&sc.MinimumFreeSpace, "min-free-gb", sc.MinimumFreeSpace, "refuse to open with less free disk space")
	return cmd
}

func (a *app) formatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List the registered storage formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range a.store.Registry().Formats() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s/%s\n", f.Kind, f.Name, f.Version)
			}
			return nil
		},
	}
}

func (a *app) lookupCmd() *cobra.Command {
	return opens(&cobra.Command{
		Use:   "lookup <partial-id>",
		Short: "List the object ids starting with a hex prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := a.repo.Objects.LookUp(args[0])
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	})
}

// resolveID accepts a full id, a unique partial id or a ref name.
func (a *app) resolveID(s string) (model.ObjectID, error) {
	if id, err := model.IDFromHex(s); err == nil {
		return id, nil
	}
	if v, err := a.resolveRef(s); err == nil {
		return model.IDFromHex(v)
	}
	ids, err := a.repo.Objects.LookUp(s)
	if err != nil {
		return model.NullID, err
	}
	switch len(ids) {
	case 0:
		return model.NullID, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, s)
	case 1:
		return ids[0], nil
	default:
		return model.NullID, fmt.Errorf("%w: %s is ambiguous", storage.ErrInvalidArgument, s)
	}
}

// resolveRef follows symbolic refs down to an object id.
func (a *app) resolveRef(name string) (string, error) {
	for range 8 {
		target, err := a.repo.Refs.GetSymRef(name)
		if errors.Is(err, storage.ErrInvalidArgument) {
			return a.repo.Refs.GetRef(name)
		}
		if err != nil {
			return "", err
		}
		name = target
	}
	return "", fmt.Errorf("%w: symbolic ref loop at %s", storage.ErrInvalidArgument, name)
}

func (a *app) catCmd() *cobra.Command {
	return opens(&cobra.Command{
		Use:   "cat <id|ref>",
		Short: "Print a stored object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.resolveID(args[0])
			if err != nil {
				return err
			}
			o, err := a.repo.Objects.Get(id)
			if err != nil {
				return err
			}
			printObject(cmd.OutOrStdout(), o)
			return nil
		},
	})
}

func printPerson(w io.Writer, role string, p model.Person) {
	if p.Name == "" && p.Email == "" {
		return
	}
	fmt.Fprintf(w, "%s %s <%s> %s\n", role, p.Name, p.Email, p.Time().Format("2006-01-02 15:04:05 -0700"))
}

func printObject(w io.Writer, o model.RevObject) {
	fmt.Fprintf(w, "%s %s\n", o.Type(), o.ID())
	switch o := o.(type) {
	case *model.Commit:
		fmt.Fprintf(w, "tree %s\n", o.TreeID())
		for _, p := range o.Parents() {
			fmt.Fprintf(w, "parent %s\n", p)
		}
		printPerson(w, "author", o.Author())
		printPerson(w, "committer", o.Committer())
		fmt.Fprintf(w, "\n%s\n", o.Message())
	case *model.Tree:
		fmt.Fprintf(w, "size %d\ntrees %d\n", o.Size(), o.NumTrees())
		for _, n := range o.Nodes() {
			fmt.Fprintln(w, n)
		}
		for _, b := range o.Buckets() {
			fmt.Fprintf(w, "bucket %d %s\n", b.Index(), b.TreeID())
		}
	case *model.Feature:
		for i, v := range o.Values() {
			fmt.Fprintf(w, "%d %s %v\n", i, v.Kind(), v.Interface())
		}
	case *model.FeatureType:
		fmt.Fprintf(w, "name %s\n", o.Name())
		for _, at := range o.Attributes() {
			fmt.Fprintf(w, "attribute %s %v nullable=%t\n", at.Name, at.Type, at.Nullable)
		}
	case *model.Tag:
		fmt.Fprintf(w, "name %s\ncommit %s\n", o.Name(), o.CommitID())
		printPerson(w, "tagger", o.Tagger())
		fmt.Fprintf(w, "\n%s\n", o.Message())
	}
}

func (a *app) depthCmd() *cobra.Command {
	return opens(&cobra.Command{
		Use:   "depth <commit>",
		Short: "Print the distance of a commit to its closest root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.resolveID(args[0])
			if err != nil {
				return err
			}
			d, err := a.repo.Graph.GetDepth(id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), d)
			return nil
		},
	})
}

func (a *app) logCmd() *cobra.Command {
	var limit int
	cmd := opens(&cobra.Command{
		Use:   "log [commit|ref]",
		Short: "Follow first parents from a commit",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := storage.Head
			if len(args) == 1 {
				start = args[0]
			}
			id, err := a.resolveID(start)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for n := 0; limit <= 0 || n < limit; n++ {
				c, err := storage.GetCommit(a.repo.Objects, id)
				if err != nil {
					return err
				}
				firstLine, _, _ := strings.Cut(c.Message(), "\n")
				fmt.Fprintf(w, "%s %s\n", c.ID(), firstLine)
				parent, ok := c.ParentN(0)
				if !ok {
					break
				}
				id = parent
			}
			return nil
		},
	})
	cmd.Flags().IntVarP(&limit, "max-count", "n", 0, "stop after this many commits")
	return cmd
}

func (a *app) conflictsCmd() *cobra.Command {
	var namespace string
	cmd := opens(&cobra.Command{
		Use:   "conflicts [path-prefix]",
		Short: "List recorded merge conflicts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			for c, err := range a.repo.Conflicts.ListByPrefix(namespace, prefix) {
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		},
	})
	cmd.Flags().StringVar(&namespace, "namespace", storage.DefaultNamespace, "conflict namespace, empty for the repository")
	return cmd
}

func (a *app) indexesCmd() *cobra.Command {
	return opens(&cobra.Command{
		Use:   "indexes [tree]",
		Short: "List the indexes of a tree, or of every tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				infos []storage.IndexInfo
				err   error
			)
			if len(args) == 1 {
				infos, err = a.repo.Index.ListIndexes(args[0])
			} else {
				infos, err = a.repo.Index.ListAllIndexes()
			}
			if err != nil {
				return err
			}
			for _, info := range infos {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s %s\n", info.ID(), info.TreeName, info.AttributeName, info.Strategy)
			}
			return nil
		},
	})
}
