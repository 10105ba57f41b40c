// Package migrations provides SQL migration generation for the work item
// allocation tables. It generates the schema for work items and the
// per-owner assignment index across PostgreSQL, MySQL/MariaDB, and SQLite
// databases.
package migrations
