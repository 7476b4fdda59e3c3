package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"userboard.io/internal/auth"
	"userboard.io/internal/config"
	"userboard.io/internal/migrate"
	"userboard.io/internal/onboarding"
	"userboard.io/migrations"
)

func main() {
	log.SetFlags(0)
	if err := config.LoadEnvFiles(".env"); err != nil {
		log.Fatal(err)
	}
	var (
		dsn      = flag.String("dsn", os.Getenv("USERBOARD_DATABASE_URL"), "PostgreSQL DSN")
		email    = flag.String("email", os.Getenv("USERBOARD_BOOTSTRAP_ADMIN_EMAIL"), "Admin email for seed-admin")
		password = flag.String("password", os.Getenv("USERBOARD_BOOTSTRAP_ADMIN_PASSWORD"), "Admin password for seed-admin")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or USERBOARD_DATABASE_URL")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|status|seed-admin]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, migrations.FS)

	switch flag.Arg(0) {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		for _, name := range applied {
			fmt.Println("applied", name)
		}
		if err == nil && len(applied) == 0 {
			fmt.Println("schema up to date")
		}
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if err == nil {
			fmt.Println("rolled back", name)
		}
	case "status":
		var states []migrate.State
		states, err = mgr.Status(ctx)
		for _, st := range states {
			if st.Applied {
				fmt.Printf("%-40s applied %s\n", st.Name, st.AppliedAt.Format(time.RFC3339))
			} else {
				fmt.Printf("%-40s pending\n", st.Name)
			}
		}
	case "seed-admin":
		if *email == "" || *password == "" {
			log.Fatal("seed-admin needs -email and -password")
		}
		machine := onboarding.New(auth.NewPGStore(db), nil)
		var admin auth.UserView
		admin, err = machine.Bootstrap(ctx, *email, *password)
		if err == nil {
			fmt.Printf("admin %s (%s) ready\n", admin.Email, admin.ID)
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
