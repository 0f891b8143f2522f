// Command demo stores a few people and the towns they live in, then queries
// them back. It runs against an in-memory SQLite database by default.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/canonical/fluentquery"
	"github.com/canonical/fluentquery/dialect"
)

type Person struct {
	Name     string `db:"name"`
	Height   int    `db:"height_cm"`
	HomeTown string `db:"home_town"`
}

type Place struct {
	Name       string `db:"town_name"`
	Population int    `db:"population"`
}

var (
	personName     = fluentquery.MustResolve(func(p *Person) *string { return &p.Name })
	personHeight   = fluentquery.MustResolve(func(p *Person) *int { return &p.Height })
	personHomeTown = fluentquery.MustResolve(func(p *Person) *string { return &p.HomeTown })

	placeName       = fluentquery.MustResolve(func(p *Place) *string { return &p.Name })
	placePopulation = fluentquery.MustResolve(func(p *Place) *int { return &p.Population })
)

func newRootCommand() *cobra.Command {
	var configPath, dsn string
	cmd := &cobra.Command{
		Use:           "demo",
		Short:         "Store and query people and places",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := fluentquery.DefaultConfig()
			if configPath != "" {
				f, err := os.Open(configPath)
				if err != nil {
					return err
				}
				defer f.Close()
				if cfg, err = fluentquery.LoadConfig(f); err != nil {
					return err
				}
			}
			return run(cmd.Context(), cmd.OutOrStdout(), cfg, dsn)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file")
	cmd.Flags().StringVar(&dsn, "dsn", ":memory:", "data source name for the configured dialect")
	return cmd
}

func run(ctx context.Context, out io.Writer, cfg fluentquery.Config, dsn string) error {
	// The dialect names are the names the drivers register under.
	sqldb, err := sql.Open(cfg.Dialect, dsn)
	if err != nil {
		return err
	}
	defer sqldb.Close()
	if cfg.Dialect == dialect.SQLite && dsn == ":memory:" {
		// Every connection to :memory: has its own database.
		sqldb.SetMaxOpenConns(1)
	}

	db, err := fluentquery.NewDB(sqldb, fluentquery.WithConfig(cfg))
	if err != nil {
		return err
	}
	err = db.Register(
		fluentquery.AutoMap[Person]("people").References(personHomeTown, placeName),
		fluentquery.AutoMap[Place]("location"),
	)
	if err != nil {
		return err
	}

	insertPerson := fluentquery.MustPrepare(db, func(b *fluentquery.Binder[Person]) fluentquery.Command {
		return fluentquery.NewInsert[Person]().
			Value(personName).Set(b.Get(personName)).
			Value(personHeight).Set(b.Get(personHeight)).
			Value(personHomeTown).Set(b.Get(personHomeTown))
	})
	insertPlace := fluentquery.MustPrepare(db, func(b *fluentquery.Binder[Place]) fluentquery.Command {
		return fluentquery.NewInsert[Place]().
			Value(placeName).Set(b.Get(placeName)).
			Value(placePopulation).Set(b.Get(placePopulation))
	})

	var people = []Person{{"Jim", 150, "Kabul"}, {"Saba", 162, "Berlin"}, {"Dave", 169, "Brasília"}, {"Sophie", 174, "Berlin"}, {"Kiri", 168, "Cape Town"}}
	var places = []Place{{"Kabul", 13000000}, {"Berlin", 3677472}, {"Brasília", 3039444}, {"Cape Town", 4710000}}

	owner := fluentquery.NewOwner()
	err = db.Run(ctx, owner, func(ctx context.Context, ex fluentquery.Executor) error {
		// Create the tables
		for _, ddl := range []string{
			`CREATE TABLE people (name text, height_cm integer, home_town text)`,
			`CREATE TABLE location (town_name text, population integer)`,
		} {
			if _, err := ex.ExecSQL(ctx, ddl); err != nil {
				return err
			}
		}
		// Insert the people and places
		for _, p := range people {
			if _, err := insertPerson.Exec(ctx, ex, p); err != nil {
				return err
			}
		}
		for _, p := range places {
			if _, err := insertPlace.Exec(ctx, ex, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	tx := db.Transactional(owner)
	jim := people[0]

	// Find people taller than Jim
	taller := fluentquery.NewQuery[Person]().
		Where(personHeight).Gt(jim.Height).
		OrderBy(personHeight, fluentquery.Asc)
	err = fluentquery.ForEach(ctx, tx, taller, func(p *Person) (bool, error) {
		fmt.Fprintf(out, "%s is taller than %s.\n", p.Name, jim.Name)
		return true, nil
	})
	if err != nil {
		return err
	}

	// Find the towns of the people taller than Jim
	type Resident struct {
		Person     string
		Town       string
		Population int
	}
	towns := fluentquery.NewQuery[Person]().
		Select(personName, fluentquery.As("person")).
		Select(placeName, fluentquery.As("town")).
		Select(placePopulation, fluentquery.As("population")).
		Join(fluentquery.EntityOf[Place]()).
		Where(personHeight).Gt(jim.Height).
		OrderBy(personHeight, fluentquery.Asc)
	residents, err := fluentquery.ListAs[Resident](ctx, tx, towns)
	if err != nil {
		return err
	}
	for _, r := range residents {
		fmt.Fprintf(out, "%s lives in %s (population %d).\n", r.Person, r.Town, r.Population)
	}
	return nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
