// authctl is an operator tool for the auth service. Its only command,
// create-admin, inserts an administrator account directly into the database,
// bypassing registration and email verification.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/term"

	"github.com/avolkau/wayfinder-auth/internal/password"
	"github.com/avolkau/wayfinder-auth/internal/roles"
	"github.com/avolkau/wayfinder-auth/internal/server/models"
	"github.com/avolkau/wayfinder-auth/internal/server/repositories/repomanager"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 || args[0] != "create-admin" {
		return fmt.Errorf("usage: authctl create-admin -d <dsn> -e <email> -u <username>")
	}

	fs := flag.NewFlagSet("create-admin", flag.ContinueOnError)
	dsn := fs.String("d", "", "database DSN")
	email := fs.String("e", "", "admin email")
	username := fs.String("u", "", "admin username")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *dsn == "" || *email == "" || *username == "" {
		return fmt.Errorf("all of -d, -e and -u are required")
	}

	fmt.Println("Enter password")
	plaintext, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return err
	}

	hash, err := password.Hash(string(plaintext))
	if err != nil {
		return err
	}

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	m := repomanager.NewPostgresRepositoryManager()
	if err := m.RunMigrations(ctx, db); err != nil {
		return err
	}

	user, err := m.Users(db).Create(ctx, &models.User{
		Email:           *email,
		Username:        *username,
		PasswordHash:    hash,
		Role:            string(roles.RoleAdmin),
		IsEmailVerified: true,
	})
	if err != nil {
		return err
	}

	fmt.Printf("created admin %s (id %d)\n", user.Email, user.ID)
	return nil
}
