package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gradeline/gradeline/internal/api"
	"github.com/gradeline/gradeline/internal/db"
	"github.com/gradeline/gradeline/internal/middleware"
	"github.com/gradeline/gradeline/internal/utils"
)

func main() {
	addr := utils.SafeEnv("GRADELINE_ADDR", ":8080")
	sqlitePath := utils.SafeEnv("GRADELINE_SQLITE_PATH", "")
	migrationsDir := utils.SafeEnv("GRADELINE_MIGRATIONS_DIR", "")

	store, err := openStore(sqlitePath, migrationsDir)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	mux := http.NewServeMux()
	api.NewRouter(store, nil).Register(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":   true,
			"name": "Gradeline API",
		})
	})

	handler := middleware.CORS(middleware.SecureHeaders(middleware.NoStore(middleware.WithAuth(mux))))

	log.Printf("gradeline server listening on %s", addr)
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// openStore uses sqlite when a path is configured and falls back to the
// in-memory store for local runs.
func openStore(path, migrationsDir string) (api.Store, error) {
	if path == "" {
		log.Printf("GRADELINE_SQLITE_PATH not set, using in-memory store")
		return api.NewMemoryStore(), nil
	}
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(conn, migrationsDir); err != nil {
		return nil, err
	}
	return db.NewStore(conn)
}
