package cli

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	// Database drivers for migrate apply.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/curately/workalloc/pkg/migrations"
)

// MigrateGenCmd returns the migrate-gen command, which writes a SQL
// migration file for the allocation tables.
func MigrateGenCmd() *cobra.Command {
	var (
		dialect          string
		outputFolder     string
		outputFilename   string
		itemsTable       string
		assignmentsTable string
	)

	cmd := &cobra.Command{
		Use:   "migrate-gen",
		Short: "Generate a SQL migration file for the allocation tables",
		Long: `Generate the DDL for the work item and assignment index tables as a
migration file, for use with external migration tooling.

Supported dialects: postgres, mysql, sqlite.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config := migrations.DefaultConfig()
			config.OutputFolder = outputFolder
			config.ItemsTable = itemsTable
			config.AssignmentsTable = assignmentsTable
			if outputFilename != "" {
				config.OutputFilename = outputFilename
			}

			var err error
			switch dialect {
			case "postgres":
				err = migrations.GeneratePostgres(&config)
			case "mysql":
				err = migrations.GenerateMySQL(&config)
			case "sqlite":
				err = migrations.GenerateSQLite(&config)
			default:
				return fmt.Errorf("unsupported dialect %q (supported: postgres, mysql, sqlite)", dialect)
			}
			if err != nil {
				return fmt.Errorf("failed to generate migration: %w", err)
			}

			fmt.Printf("Generated %s migration: %s/%s\n", dialect, config.OutputFolder, config.OutputFilename)
			return nil
		},
	}

	cmd.Flags().StringVar(&dialect, "dialect", "postgres", "SQL dialect: postgres, mysql, or sqlite")
	cmd.Flags().StringVar(&outputFolder, "output", "migrations", "Output folder for the migration file")
	cmd.Flags().StringVar(&outputFilename, "filename", "", "Output filename (default: timestamp-based)")
	cmd.Flags().StringVar(&itemsTable, "items-table", "workalloc_items", "Name of the work items table")
	cmd.Flags().StringVar(&assignmentsTable, "assignments-table", "workalloc_assignments", "Name of the assignment index table")

	return cmd
}

// MigrateApplyCmd returns the migrate-apply command, which applies the
// allocation table DDL directly to a database.
func MigrateApplyCmd() *cobra.Command {
	var (
		driver           string
		dsn              string
		itemsTable       string
		assignmentsTable string
	)

	cmd := &cobra.Command{
		Use:   "migrate-apply",
		Short: "Apply the allocation table DDL to a database",
		Long: `Connect to a database and create the work item and assignment index
tables. The DDL is idempotent where the dialect allows it.

Supported drivers: postgres, mysql, sqlite3.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				dsn = viper.GetString("dsn")
			}
			if dsn == "" {
				return fmt.Errorf("no DSN provided (use --dsn or WORKALLOC_DSN)")
			}

			config := migrations.DefaultConfig()
			config.ItemsTable = itemsTable
			config.AssignmentsTable = assignmentsTable

			var ddl string
			switch driver {
			case "postgres":
				ddl = migrations.GeneratePostgresSQL(&config)
			case "mysql":
				ddl = migrations.GenerateMySQLSQL(&config)
			case "sqlite3":
				ddl = migrations.GenerateSQLiteSQL(&config)
			default:
				return fmt.Errorf("unsupported driver %q (supported: postgres, mysql, sqlite3)", driver)
			}

			db, err := sql.Open(driver, dsn)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()

			ctx, cancel := contextWithTimeout(cmd, 30*time.Second)
			defer cancel()

			if err := db.PingContext(ctx); err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			if _, err := db.ExecContext(ctx, ddl); err != nil {
				return fmt.Errorf("failed to apply migration: %w", err)
			}

			fmt.Printf("Applied %s migration (%s, %s)\n", driver, config.ItemsTable, config.AssignmentsTable)
			return nil
		},
	}

	cmd.Flags().StringVar(&driver, "driver", "postgres", "Database driver: postgres, mysql, or sqlite3")
	cmd.Flags().StringVar(&dsn, "dsn", "", "Database connection string (or WORKALLOC_DSN)")
	cmd.Flags().StringVar(&itemsTable, "items-table", "workalloc_items", "Name of the work items table")
	cmd.Flags().StringVar(&assignmentsTable, "assignments-table", "workalloc_assignments", "Name of the assignment index table")

	return cmd
}
