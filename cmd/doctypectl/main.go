// Command doctypectl runs document type maintenance against the configured database.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"gorm.io/gorm"

	"github.com/localnerve/doctypesdb/internal/config"
	"github.com/localnerve/doctypesdb/internal/database"
	"github.com/localnerve/doctypesdb/internal/services"
)

// Globals are flags shared by every command.
type Globals struct {
	EnvFile string        `name:"env-file" short:"f" help:"Load environment variables from this file" type:"path"`
	Timeout time.Duration `help:"Give up after this long" default:"2m"`
	JSON    bool          `help:"Print results as JSON"`
}

// CLI defines the command-line interface for doctypectl.
var CLI struct {
	Globals

	Migrate   MigrateCmd   `cmd:"" help:"Create or update the metadata tables"`
	List      ListCmd      `cmd:"" help:"List active or trashed document types"`
	Describe  DescribeCmd  `cmd:"" help:"Show the table and columns of a document type"`
	Trash     TrashCmd     `cmd:"" help:"Move a document type to the trash"`
	Restore   RestoreCmd   `cmd:"" help:"Restore a trashed document type"`
	Destroy   DestroyCmd   `cmd:"" help:"Permanently drop a trashed document type and its rows"`
	Reconcile ReconcileCmd `cmd:"" help:"Finish interrupted operations and clean up orphan tables"`
}

// session holds an open database and engine for one command.
type session struct {
	db     *gorm.DB
	engine *services.Engine
	ctx    context.Context
	cancel context.CancelFunc
}

func (g *Globals) open() (*session, error) {
	cfg, err := config.LoadFile(g.EnvFile)
	if err != nil {
		return nil, err
	}
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, err
	}
	engine, err := services.NewEngine(db, services.Options{
		TablePrefix:     cfg.TablePrefix,
		IdentifierLimit: cfg.IdentifierLimit,
		LockTTL:         cfg.LockTTL,
		LockRefresh:     cfg.LockRefresh,
	})
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.Timeout)
	return &session{db: db, engine: engine, ctx: ctx, cancel: cancel}, nil
}

func (s *session) close() {
	s.cancel()
	_ = database.Close(s.db)
}

func (g *Globals) print(v interface{}, table func(w *tabwriter.Writer)) error {
	if g.JSON || table == nil {
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	table(w)
	return w.Flush()
}

// MigrateCmd creates the metadata tables.
type MigrateCmd struct{}

func (c *MigrateCmd) Run(g *Globals) error {
	s, err := g.open()
	if err != nil {
		return err
	}
	defer s.close()
	if err := database.AutoMigrate(s.db.WithContext(s.ctx)); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Println("metadata tables are up to date")
	return nil
}

// ListCmd prints document types.
type ListCmd struct {
	Trashed bool `help:"List the trash instead of active document types"`
}

func (c *ListCmd) Run(g *Globals) error {
	s, err := g.open()
	if err != nil {
		return err
	}
	defer s.close()

	if c.Trashed {
		list, err := s.engine.ListTrashed(s.ctx)
		if err != nil {
			return err
		}
		return g.print(list, func(w *tabwriter.Writer) {
			fmt.Fprintln(w, "ID\tNAME\tTABLE\tPARKED AS\tTRASHED")
			for _, t := range list {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", t.DocumentTypeID, t.TrashedName,
					t.OriginalTableName, t.TrashedTableName, t.CreatedAt.Format(time.RFC3339))
			}
		})
	}

	list, err := s.engine.List(s.ctx)
	if err != nil {
		return err
	}
	return g.print(list, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "ID\tNAME\tTABLE\tATTRIBUTES")
		for _, dt := range list {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", dt.ID, dt.Name, dt.PhysicalTable, len(dt.SchemaForm))
		}
	})
}

// DescribeCmd prints one document type's columns.
type DescribeCmd struct {
	ID uint64 `arg:"" help:"Document type ID"`
}

func (c *DescribeCmd) Run(g *Globals) error {
	s, err := g.open()
	if err != nil {
		return err
	}
	defer s.close()

	d, err := s.engine.Describe(s.ctx, c.ID)
	if err != nil {
		return err
	}
	return g.print(d, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "%s\t%s\n\n", d.Name, d.TableName)
		fmt.Fprintln(w, "ORDER\tATTRIBUTE\tCOLUMN\tTYPE\tDB TYPE")
		for _, col := range d.Columns {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", col.Order, col.Attribute, col.Column, col.Type, col.DatabaseType)
		}
	})
}

// TrashCmd parks a document type table.
type TrashCmd struct {
	ID uint64 `arg:"" help:"Document type ID"`
}

func (c *TrashCmd) Run(g *Globals) error {
	s, err := g.open()
	if err != nil {
		return err
	}
	defer s.close()

	entry, err := s.engine.Trash(s.ctx, c.ID)
	if err != nil {
		return err
	}
	return g.print(entry, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "trashed %s, table parked as %s\n", entry.TrashedName, entry.TrashedTableName)
	})
}

// RestoreCmd restores a trashed document type.
type RestoreCmd struct {
	ID uint64 `arg:"" help:"Document type ID"`
}

func (c *RestoreCmd) Run(g *Globals) error {
	s, err := g.open()
	if err != nil {
		return err
	}
	defer s.close()

	dt, err := s.engine.Restore(s.ctx, c.ID)
	if err != nil {
		return err
	}
	return g.print(dt, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "restored %s to %s\n", dt.Name, dt.PhysicalTable)
	})
}

// DestroyCmd drops a trashed document type for good.
type DestroyCmd struct {
	ID  uint64 `arg:"" help:"Document type ID"`
	Yes bool   `help:"Confirm that the table and its rows are dropped"`
}

func (c *DestroyCmd) Run(g *Globals) error {
	if !c.Yes {
		return errors.New("destroy drops the table and every row in it, pass --yes to confirm")
	}
	s, err := g.open()
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.engine.Destroy(s.ctx, c.ID); err != nil {
		return err
	}
	fmt.Printf("destroyed document type %d\n", c.ID)
	return nil
}

// ReconcileCmd runs one reconciliation pass.
type ReconcileCmd struct {
	DryRun       bool `name:"dry-run" help:"Report without changing anything"`
	DropNonEmpty bool `name:"drop-non-empty" help:"Also drop orphan tables that still hold rows"`
}

func (c *ReconcileCmd) Run(g *Globals) error {
	s, err := g.open()
	if err != nil {
		return err
	}
	defer s.close()

	report, err := s.engine.Reconcile(s.ctx, services.ReconcileOptions{
		DryRun:       c.DryRun,
		DropNonEmpty: c.DropNonEmpty,
	})
	if err != nil {
		return err
	}
	return g.print(report, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "KIND\tSUBJECT\tDETAIL")
		for _, o := range report.Orphans {
			fmt.Fprintf(w, "orphan\t%s\trows=%d parked=%t dropped=%t\n", o.Table, o.Rows, o.Parked, o.Dropped)
		}
		for _, cmp := range report.Completions {
			fmt.Fprintf(w, "completion\t%s\t%s done=%t\n", cmp.Name, cmp.Action, cmp.Done)
		}
		for _, r := range report.Columns {
			fmt.Fprintf(w, "column\t%s.%s\t%s target=%s done=%t\n", r.Table, r.Column, r.Action, r.Target, r.Done)
		}
		for _, d := range report.Drift {
			fmt.Fprintf(w, "drift\t%s\tmissing=%v missing_table=%t\n", d.Table, d.Missing, d.MissingTable)
		}
		for _, sk := range report.Skipped {
			fmt.Fprintf(w, "skipped\t%s\tlocked\n", sk)
		}
	})
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("doctypectl"),
		kong.Description("Document type table maintenance"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	err := ctx.Run(&CLI.Globals)
	ctx.FatalIfErrorf(err)
}
