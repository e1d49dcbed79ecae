package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vonshlovens/datashelf/internal/catalog"
	"github.com/vonshlovens/datashelf/internal/index"
)

func searchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search [query...]",
		Short: "Search the dataset catalog",
		Long: `Searches the local index. Free words are AND-ed, "quoted phrases" match
exactly, field:value filters on name, description, source, location,
format, project, tag and type; size, created and updated accept
comparison operators (size:>1000000). An empty query lists everything.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openIndexOnly()
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.index.Search(context.Background(), strings.Join(args, " "), limit)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}

			if len(entries) == 0 {
				fmt.Println("No datasets matched.")
				return nil
			}
			for _, e := range entries {
				printEntryLine(e)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", index.DefaultSearchLimit, "maximum number of results")
	return cmd
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all datasets, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openIndexOnly()
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.index.ListAll(context.Background())
			if err != nil {
				return err
			}
			for _, e := range entries {
				printEntryLine(e)
			}
			fmt.Printf("%d dataset(s)\n", len(entries))
			return nil
		},
	}
}

func printEntryLine(e *index.Entry) {
	ds := &e.Dataset
	extras := ds.Format
	if len(ds.Projects) > 0 {
		extras += ", " + strings.Join(ds.Projects, " ")
	}
	fmt.Printf("%-24s %s (%s, updated %s)\n",
		ds.ID, ds.Name, extras, e.UpdatedAt.Format("2006-01-02 15:04"))
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one dataset record in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openIndexOnly()
			if err != nil {
				return err
			}
			defer a.Close()

			entry, err := a.index.Get(context.Background(), args[0])
			if err != nil {
				return err
			}

			out, err := yaml.Marshal(&entry.Dataset)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			fmt.Printf("# created %s, updated %s\n",
				entry.CreatedAt.Format("2006-01-02 15:04:05"),
				entry.UpdatedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

// datasetFlags binds the record fields shared by add and edit.
type datasetFlags struct {
	name        string
	description string
	source      string
	location    string
	format      string
	size        string
	dataTypes   []string
	projects    []string
}

func (f *datasetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "display name")
	cmd.Flags().StringVar(&f.description, "description", "", "free-text description")
	cmd.Flags().StringVar(&f.source, "source", "", "where the data came from")
	cmd.Flags().StringVar(&f.location, "location", "", "where the data lives")
	cmd.Flags().StringVar(&f.format, "format", "", "file format (csv, parquet, ...)")
	cmd.Flags().StringVar(&f.size, "size", "", "size, free text")
	cmd.Flags().StringSliceVar(&f.dataTypes, "type", nil, "data types (repeatable)")
	cmd.Flags().StringSliceVar(&f.projects, "project", nil, "project tags (repeatable)")
}

func addCmd() *cobra.Command {
	var flags datasetFlags

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add a dataset to the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ds := &catalog.Dataset{
				ID:          args[0],
				Name:        flags.name,
				Description: flags.description,
				Source:      flags.source,
				Location:    flags.location,
				Format:      flags.format,
				Size:        flags.size,
				DataTypes:   flags.dataTypes,
				Projects:    flags.projects,
			}

			if err := a.manager.Save(context.Background(), ds); err != nil {
				return err
			}
			fmt.Printf("Dataset %q added.\n", ds.ID)
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func editCmd() *cobra.Command {
	var flags datasetFlags

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit fields of an existing dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := context.Background()
			entry, err := a.index.Get(ctx, args[0])
			if err != nil {
				return err
			}
			ds := entry.Dataset

			// Only explicitly set flags overwrite existing fields.
			set := map[string]*string{
				"name":        &ds.Name,
				"description": &ds.Description,
				"source":      &ds.Source,
				"location":    &ds.Location,
				"format":      &ds.Format,
				"size":        &ds.Size,
			}
			for flag, dest := range set {
				if cmd.Flags().Changed(flag) {
					v, _ := cmd.Flags().GetString(flag)
					*dest = v
				}
			}
			if cmd.Flags().Changed("type") {
				ds.DataTypes = flags.dataTypes
			}
			if cmd.Flags().Changed("project") {
				ds.Projects = flags.projects
			}

			if err := a.manager.Save(ctx, &ds); err != nil {
				return err
			}
			fmt.Printf("Dataset %q updated.\n", ds.ID)
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a dataset from the catalog and the remote library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.manager.Delete(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Dataset %q deleted.\n", args[0])
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <directory>",
		Short: "Import all dataset YAML files from a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			var files []string
			err = filepath.WalkDir(args[0], func(path string, d os.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return err
				}
				switch strings.ToLower(filepath.Ext(path)) {
				case ".yaml", ".yml":
					files = append(files, path)
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to scan %s: %w", args[0], err)
			}

			bar := progressbar.NewOptions(len(files),
				progressbar.OptionSetDescription("Importing datasets"),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWidth(40),
				progressbar.OptionClearOnFinish(),
			)

			ctx := context.Background()
			imported := 0
			var failures []string
			for _, path := range files {
				bar.Add(1)

				data, err := os.ReadFile(path)
				if err == nil {
					var ds *catalog.Dataset
					if ds, err = catalog.Decode(data); err == nil {
						err = a.manager.Save(ctx, ds)
					}
				}
				if err != nil {
					failures = append(failures, fmt.Sprintf("%s: %v", path, err))
					continue
				}
				imported++
			}
			bar.Finish()

			fmt.Printf("Imported %d of %d dataset(s).\n", imported, len(files))
			for _, f := range failures {
				fmt.Println("  " + f)
			}
			return nil
		},
	}
}

func reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the local index from the remote library",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			var bar *progressbar.ProgressBar
			report, err := a.manager.Reindex(context.Background(), func(done, total int) {
				if bar == nil {
					bar = progressbar.NewOptions(total,
						progressbar.OptionSetDescription("Reindexing"),
						progressbar.OptionShowCount(),
						progressbar.OptionSetWidth(40),
					)
				}
				bar.Add(1)
			})
			if bar != nil {
				bar.Finish()
			}
			if err != nil {
				return err
			}

			fmt.Printf("Reindexed %d dataset(s), %d failure(s).\n", report.Indexed, len(report.Failed))
			for _, f := range report.Failed {
				fmt.Printf("  %s: %v\n", f.ID, f.Err)
			}
			return nil
		},
	}
}

func outboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and drive the deferred-write queue",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List pending and exhausted deferred writes",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := openApp()
				if err != nil {
					return err
				}
				defer a.Close()

				items, err := a.outbox.ListPending(context.Background())
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Println("Outbox is empty.")
					return nil
				}
				for _, item := range items {
					state := fmt.Sprintf("retries=%d", item.RetryCount)
					if item.Terminal {
						state = "EXHAUSTED"
					}
					fmt.Printf("%-24s enqueued %s  %s  last error: %s\n",
						item.DatasetID, item.EnqueuedAt.Format("2006-01-02 15:04"),
						state, item.LastError)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "retry",
			Short: "Retry all pending deferred writes now",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := openApp()
				if err != nil {
					return err
				}
				defer a.Close()

				report, err := a.outbox.RetryNow(context.Background(), a.storage)
				if err != nil {
					return err
				}
				fmt.Printf("Retried %d item(s): %d delivered, %d failed", report.Attempted, report.Succeeded, report.Failed)
				if report.Terminal > 0 {
					fmt.Printf(", %d exhausted", report.Terminal)
				}
				fmt.Println()
				return nil
			},
		},
		&cobra.Command{
			Use:   "discard <id>",
			Short: "Drop a deferred write without delivering it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := openApp()
				if err != nil {
					return err
				}
				defer a.Close()

				if err := a.outbox.Discard(context.Background(), args[0]); err != nil {
					return err
				}
				fmt.Printf("Outbox item for %q discarded.\n", args[0])
				return nil
			},
		},
	)

	return cmd
}
