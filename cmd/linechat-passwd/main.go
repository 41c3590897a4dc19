package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aeolun/linechat/pkg/credentials"
	"github.com/aeolun/linechat/pkg/database"
	"golang.org/x/term"
)

const usage = `Usage: linechat-passwd [-db path] <command> [username]

Manages the SQLite credential database read by linechat-server when
[credentials].database is set.

Commands:
  add <username>     Add a user (password is prompted and stored as bcrypt)
  set <username>     Replace a user's password
  delete <username>  Remove a user
  list               List users
  import <file>      Add every user of a "username password" file
`

func main() {
	dbPath := flag.String("db", "~/.linechat/users.db", "Path to the credential database")
	plain := flag.Bool("plain", false, "Store passwords as given instead of hashing them")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	path, err := expandHome(*dbPath)
	if err != nil {
		fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		fatal(err)
	}
	db, err := database.Open(path)
	if err != nil {
		fatal(err)
	}
	defer db.Close()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if err := run(db, cmd, args, *plain); err != nil {
		db.Close()
		fatal(err)
	}
}

func run(db *database.DB, cmd string, args []string, plain bool) error {
	switch cmd {
	case "list":
		creds, err := db.ListCredentials()
		if err != nil {
			return err
		}
		for _, c := range creds {
			kind := "plain"
			if credentials.IsHash(c.Password) {
				kind = "bcrypt"
			}
			fmt.Printf("%-20s %-6s %s\n", c.Username, kind, time.UnixMilli(c.CreatedAt).Format(time.RFC3339))
		}
		return nil

	case "add", "set":
		if len(args) != 1 {
			return fmt.Errorf("%s needs a username", cmd)
		}
		password, err := promptForPassword(fmt.Sprintf("Password for %s: ", args[0]))
		if err != nil {
			return err
		}
		stored, err := storedPassword(password, plain)
		if err != nil {
			return err
		}
		if cmd == "add" {
			return db.CreateUser(args[0], stored)
		}
		return db.SetPassword(args[0], stored)

	case "delete":
		if len(args) != 1 {
			return errors.New("delete needs a username")
		}
		return db.DeleteUser(args[0])

	case "import":
		if len(args) != 1 {
			return errors.New("import needs a credential file")
		}
		pairs, err := credentials.ReadPairsFile(args[0])
		if err != nil {
			return err
		}
		added := 0
		for username, password := range pairs {
			stored, err := storedPassword(password, plain)
			if err != nil {
				return err
			}
			if err := db.CreateUser(username, stored); err != nil {
				if errors.Is(err, database.ErrUserExists) {
					fmt.Fprintf(os.Stderr, "skipping %s: %v\n", username, err)
					continue
				}
				return err
			}
			added++
		}
		fmt.Printf("Imported %d users\n", added)
		return nil
	}

	return fmt.Errorf("unknown command %q", cmd)
}

func storedPassword(password string, plain bool) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	if plain {
		return password, nil
	}
	return credentials.HashPassword(password)
}

func promptForPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	fmt.Fprint(os.Stderr, prompt)

	if term.IsTerminal(fd) {
		bytes, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bytes)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	return path, nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "linechat-passwd: %v\n", err)
	os.Exit(1)
}
