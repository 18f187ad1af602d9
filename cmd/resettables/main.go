// Command resettables drops the checkout tables from the configured
// Postgres database so the server recreates them with the current schema
// on next start.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/CedrosPay/checkout/internal/config"
	"github.com/CedrosPay/checkout/internal/dbpool"
)

func main() {
	configPath := flag.String("config", "configs/local.yaml", "path to config yaml")
	only := flag.String("tables", "", "comma-separated subset to drop: sessions,tokens,idempotency")
	confirm := flag.Bool("yes", false, "actually drop the tables")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Storage.Backend != "postgres" {
		log.Fatalf("storage.backend is %q; only postgres tables can be reset", cfg.Storage.Backend)
	}

	tables := selectTables(cfg.Storage.SchemaMapping, *only)
	if len(tables) == 0 {
		log.Fatalf("no tables selected")
	}
	if !*confirm {
		fmt.Printf("would drop: %s (pass -yes to proceed)\n", strings.Join(tables, ", "))
		return
	}

	pool, err := dbpool.NewSharedPool(cfg.Storage.PostgresURL, cfg.Storage.PostgresPool)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, table := range tables {
		if _, err := pool.DB().ExecContext(ctx, "DROP TABLE IF EXISTS "+pq.QuoteIdentifier(table)+" CASCADE"); err != nil {
			log.Fatalf("drop %s: %v", table, err)
		}
		fmt.Printf("dropped %s\n", table)
	}
	fmt.Println("restart the server to recreate the tables")
}

func selectTables(mapping config.SchemaMappingConfig, only string) []string {
	all := map[string]string{
		"sessions":    orDefault(mapping.Sessions.TableName, "checkout_sessions"),
		"tokens":      orDefault(mapping.Tokens.TableName, "vault_tokens"),
		"idempotency": orDefault(mapping.Idempotency.TableName, "idempotency_records"),
	}
	order := []string{"sessions", "tokens", "idempotency"}
	if only != "" {
		order = nil
		for _, name := range strings.Split(only, ",") {
			name = strings.TrimSpace(name)
			if _, ok := all[name]; ok {
				order = append(order, name)
			}
		}
	}
	tables := make([]string, 0, len(order))
	for _, name := range order {
		tables = append(tables, all[name])
	}
	return tables
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
