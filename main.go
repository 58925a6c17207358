package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"shareit/internal/config"
	"shareit/internal/session"
	"shareit/lending"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type app struct {
	cfg   *config.Config
	log   *logrus.Logger
	stdin *bufio.Scanner
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{stdin: bufio.NewScanner(os.Stdin)}
	var dbPath, sessionFile, logLevel string

	root := &cobra.Command{
		Use:          "shareit",
		Short:        "Lend and borrow items with your neighbours",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("db") {
				cfg.DBPath = dbPath
			}
			if cmd.Flags().Changed("session-file") {
				cfg.SessionFile = sessionFile
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			a.cfg = cfg
			a.log = newLogger(cfg.LogLevel)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (default $SHAREIT_DB or shareit.db)")
	root.PersistentFlags().StringVar(&sessionFile, "session-file", "", "where the login session is kept")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		a.loginCmd(),
		a.logoutCmd(),
		a.whoamiCmd(),
		a.coinsCmd(),
		a.listingsCmd(),
		a.listingCmd(),
		a.requestsCmd(),
		a.requestCmd(),
		a.borrowCmd(),
		a.notificationsCmd(),
		a.replyCmd(),
		a.shellCmd(),
	)
	return root
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)
	return logger
}

func (a *app) options() lending.Options {
	var hasher lending.Hasher = lending.BcryptHasher{Cost: a.cfg.BcryptCost}
	if a.cfg.PlainPasswords {
		hasher = lending.PlainHasher{}
	}
	return lending.Options{
		Hasher:        hasher,
		StartingCoins: a.cfg.StartingCoins,
		Logger:        a.log,
	}
}

// withManager opens the store, runs fn and saves when fn reports a change.
func (a *app) withManager(fn func(m *lending.Manager) (changed bool, err error)) error {
	m, err := lending.OpenManager(a.cfg.DBPath, a.options())
	if err != nil {
		return fmt.Errorf("open %s: %w", a.cfg.DBPath, err)
	}
	defer m.Close()

	changed, err := fn(m)
	if changed {
		if saveErr := m.Save(); saveErr != nil {
			a.log.WithError(saveErr).Error("could not persist changes")
			if errors.Is(saveErr, lending.ErrConflict) {
				saveErr = fmt.Errorf("%w; run the command again", saveErr)
			}
			if err == nil {
				err = saveErr
			}
		}
	}
	return err
}

// withSession is withManager for commands that need a logged-in user.
func (a *app) withSession(fn func(m *lending.Manager) (changed bool, err error)) error {
	return a.withManager(func(m *lending.Manager) (bool, error) {
		if err := a.resume(m); err != nil {
			return false, err
		}
		return fn(m)
	})
}

// issuer signs sessions with the configured secret, or the database's own
// generated one when none is configured.
func (a *app) issuer(m *lending.Manager) (*session.Issuer, error) {
	secret := a.cfg.JWTSecret
	if secret == "" {
		var err error
		if secret, err = m.SessionSecret(); err != nil {
			return nil, err
		}
	}
	return session.NewIssuer(secret, a.cfg.SessionTTL), nil
}

// resume binds the saved session's user to the manager's bridge.
func (a *app) resume(m *lending.Manager) error {
	token, err := session.Load(a.cfg.SessionFile)
	if errors.Is(err, session.ErrNoSession) {
		return fmt.Errorf("%w: run 'shareit login' first", lending.ErrNotLoggedIn)
	}
	if err != nil {
		return err
	}
	issuer, err := a.issuer(m)
	if err != nil {
		return err
	}
	user, err := issuer.Verify(token)
	if err != nil {
		return fmt.Errorf("%v: run 'shareit login' again", err)
	}
	return m.Bridge().BindUser(user)
}

// readPassword securely reads a password with masking, falling back to a
// plain line when stdin is not a terminal.
func (a *app) readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		if !a.stdin.Scan() {
			return "", errors.New("no password given")
		}
		return strings.TrimSpace(a.stdin.Text()), nil
	}
	bytePassword, err := term.ReadPassword(fd)
	if err != nil {
		return "", err
	}
	fmt.Println() // Add newline after password input
	return strings.TrimSpace(string(bytePassword)), nil
}

func (a *app) readLine(prompt string) (string, bool) {
	fmt.Print(prompt)
	if !a.stdin.Scan() {
		return "", false
	}
	return strings.TrimSpace(a.stdin.Text()), true
}

// ------------------ Account ------------------

func (a *app) loginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login [username]",
		Short: "Log in, creating the account on first use",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var username string
			if len(args) == 1 {
				username = args[0]
			} else {
				var ok bool
				if username, ok = a.readLine("Username: "); !ok {
					return errors.New("no username given")
				}
			}
			if !cmd.Flags().Changed("password") {
				var err error
				if password, err = a.readPassword("Password: "); err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
			}
			return a.withManager(func(m *lending.Manager) (bool, error) {
				if err := a.login(m, username, password); err != nil {
					return false, err
				}
				fmt.Printf("Logged in as %s (%d coins)\n", m.Bridge().User(), m.Bridge().GetCoins())
				return true, nil
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")
	return cmd
}

// login validates the credentials through the bridge and saves a session.
func (a *app) login(m *lending.Manager, username, password string) error {
	if !m.Bridge().ValidateUser(username, password) {
		return lending.ErrInvalidCredentials
	}
	issuer, err := a.issuer(m)
	if err != nil {
		return err
	}
	token, err := issuer.Issue(m.Bridge().User())
	if err != nil {
		return err
	}
	return session.Save(a.cfg.SessionFile, token)
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := session.Clear(a.cfg.SessionFile); err != nil {
				return err
			}
			fmt.Println("Logged out.")
			return nil
		},
	}
}

func (a *app) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(m *lending.Manager) (bool, error) {
				fmt.Println(m.Bridge().User())
				return false, nil
			})
		},
	}
}

func (a *app) coinsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "coins",
		Short: "Show your coin balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(m *lending.Manager) (bool, error) {
				fmt.Printf("Coins: %d\n", m.Bridge().GetCoins())
				return false, nil
			})
		},
	}
}

// ------------------ Listings ------------------

func (a *app) listingsCmd() *cobra.Command {
	var mine bool
	var query string
	cmd := &cobra.Command{
		Use:   "listings",
		Short: "List items offered for lending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			run := a.withManager
			if mine {
				run = a.withSession
			}
			return run(func(m *lending.Manager) (bool, error) {
				records := m.Bridge().GetListings()
				var ids []int
				switch {
				case query != "":
					for _, id := range m.Registry().SearchListings(query) {
						ids = append(ids, id-1)
					}
				case mine:
					for i, l := range m.Registry().Listings() {
						if l.Owner == m.Bridge().User() {
							ids = append(ids, i)
						}
					}
				default:
					for i := range records {
						ids = append(ids, i)
					}
				}
				printListings(records, ids)
				return false, nil
			})
		},
	}
	cmd.Flags().BoolVar(&mine, "mine", false, "only your listings")
	cmd.Flags().StringVar(&query, "search", "", "filter by name, category or condition")
	return cmd
}

func (a *app) listingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listing",
		Short: "Show, add, edit or delete a listing",
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(func(m *lending.Manager) (bool, error) {
				rec := m.Bridge().GetItemDetails(true, lending.Atoi(args[0]))
				if rec == "" {
					return false, fmt.Errorf("listing %s: %w", args[0], lending.ErrNotFound)
				}
				printRecord(listingLabels, rec)
				return false, nil
			})
		},
	}

	var f listingFlags
	add := &cobra.Command{
		Use:   "add",
		Short: "Offer a new item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(m *lending.Manager) (bool, error) {
				b := m.Bridge()
				if !b.SaveNewListing(f.name, f.condition, f.price, f.quantity, b.User(), f.from, f.to) {
					return false, errors.New("listing was not saved")
				}
				fmt.Printf("Added listing %d: %s\n", len(b.GetListings())-1, f.name)
				return true, nil
			})
		},
	}
	f.register(add)
	for _, name := range []string{"name", "quantity", "from", "to"} {
		add.MarkFlagRequired(name)
	}

	var e listingFlags
	var status string
	edit := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change fields of one of your listings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(m *lending.Manager) (bool, error) {
				b := m.Bridge()
				if !b.SaveListingEdit(args[0], e.name, e.condition, e.price, e.quantity, e.from, e.to, status) {
					return false, errors.New("listing was not changed")
				}
				fmt.Printf("Listing %s updated\n", args[0])
				return true, nil
			})
		},
	}
	e.register(edit)
	edit.Flags().StringVar(&status, "status", "", "available or lent")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one of your listings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(m *lending.Manager) (bool, error) {
				if !m.Bridge().DeleteListing(args[0]) {
					return false, errors.New("listing was not deleted")
				}
				fmt.Printf("Listing %s deleted\n", args[0])
				return true, nil
			})
		},
	}

	cmd.AddCommand(show, add, edit, del)
	return cmd
}

type listingFlags struct {
	name, condition, price, quantity, from, to string
}

func (f *listingFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "item name")
	cmd.Flags().StringVar(&f.condition, "condition", "", "item condition")
	cmd.Flags().StringVar(&f.price, "price", "", "price in coins")
	cmd.Flags().StringVar(&f.quantity, "quantity", "", "number of items")
	cmd.Flags().StringVar(&f.from, "from", "", "available from (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.to, "to", "", "available until (YYYY-MM-DD)")
}

// ------------------ Requests ------------------

func (a *app) requestsCmd() *cobra.Command {
	var mine bool
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "List items people are looking for",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if mine {
				return a.withSession(func(m *lending.Manager) (bool, error) {
					printRequests(m.Bridge().GetMyRequests(), false)
					return false, nil
				})
			}
			return a.withManager(func(m *lending.Manager) (bool, error) {
				printRequests(m.Bridge().GetRequests(), true)
				return false, nil
			})
		},
	}
	cmd.Flags().BoolVar(&mine, "mine", false, "only your requests")
	return cmd
}

func (a *app) requestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Show or post a request",
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(func(m *lending.Manager) (bool, error) {
				rec := m.Bridge().GetItemDetails(false, lending.Atoi(args[0]))
				if rec == "" {
					return false, fmt.Errorf("request %s: %w", args[0], lending.ErrNotFound)
				}
				printRecord(requestLabels, rec)
				return false, nil
			})
		},
	}

	var name, quantity, from, to string
	add := &cobra.Command{
		Use:   "add",
		Short: "Ask to borrow an item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(m *lending.Manager) (bool, error) {
				b := m.Bridge()
				if !b.SaveNewRequest(name, "", "", quantity, b.User(), from, to) {
					return false, errors.New("request was not saved")
				}
				fmt.Printf("Added request %d: %s\n", len(b.GetRequests())-1, name)
				return true, nil
			})
		},
	}
	add.Flags().StringVar(&name, "name", "", "item name")
	add.Flags().StringVar(&quantity, "quantity", "1", "number of items")
	add.Flags().StringVar(&from, "from", "", "needed from (YYYY-MM-DD)")
	add.Flags().StringVar(&to, "to", "", "needed until (YYYY-MM-DD)")
	for _, flag := range []string{"name", "from", "to"} {
		add.MarkFlagRequired(flag)
	}

	cmd.AddCommand(show, add)
	return cmd
}

// ------------------ Borrowing ------------------

func (a *app) borrowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "borrow <listing-id>",
		Short: "Ask a listing's owner to lend you the item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(m *lending.Manager) (bool, error) {
				index := lending.Atoi(args[0])
				rec := m.Bridge().GetItemDetails(true, index)
				if rec == "" {
					return false, fmt.Errorf("listing %s: %w", args[0], lending.ErrNotFound)
				}
				if err := m.Bridge().CheckRequestListing(index); err != nil {
					return false, fmt.Errorf("cannot borrow %s: %w", lending.RecordName(rec), err)
				}
				m.Bridge().RequestListing(true, index)
				fmt.Printf("Asked to borrow %s.\n", lending.RecordName(rec))
				return true, nil
			})
		},
	}
}

func (a *app) notificationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notifications",
		Short: "Show borrow requests waiting for your answer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(m *lending.Manager) (bool, error) {
				printNotifications(m.Bridge().GetNotifications())
				return false, nil
			})
		},
	}
}

func (a *app) replyCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "reply <notification-id> yes|no",
		Short:     "Accept or decline a borrow request",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"yes", "no"},
		RunE: func(cmd *cobra.Command, args []string) error {
			answer := strings.ToLower(args[1])
			if answer != "yes" && answer != "no" {
				return fmt.Errorf("answer must be yes or no, got %q", args[1])
			}
			return a.withSession(func(m *lending.Manager) (bool, error) {
				if !m.Bridge().SendNotificationResponse(args[0], answer == "yes") {
					return false, errors.New("failed to send the response")
				}
				if answer == "yes" {
					fmt.Println("You accepted the request.")
				} else {
					fmt.Println("You declined the request.")
				}
				return true, nil
			})
		},
	}
}

// ------------------ Output ------------------

var (
	listingLabels = []string{"Name", "Condition", "Price", "Quantity", "Owner", "From Date", "To Date"}
	requestLabels = []string{"Name", "Category", "Quantity", "Owner", "From Date", "To Date"}
)

func printRecord(labels []string, record string) {
	fields := strings.Split(record, "|")
	for i, f := range fields {
		label := fmt.Sprintf("Field %d", i+1)
		if i < len(labels) {
			label = labels[i]
		}
		fmt.Printf("%-10s %s\n", label+":", f)
	}
}

// printListings prints records at the given 0-based ids.
func printListings(records []string, ids []int) {
	if len(ids) == 0 {
		fmt.Println("No listings.")
		return
	}
	fmt.Printf("%-5s %-30s %-12s %-7s %-5s %-15s %-10s %-10s\n", "ID", "Name", "Condition", "Price", "Qty", "Owner", "From", "To")
	fmt.Println(strings.Repeat("-", 100))
	for _, id := range ids {
		f := padFields(records[id], len(listingLabels))
		fmt.Printf("%-5d %-30s %-12s %-7s %-5s %-15s %-10s %-10s\n",
			id, truncateString(f[0], 30), truncateString(f[1], 12), f[2], f[3], truncateString(f[4], 15), f[5], f[6])
	}
}

func printRequests(records []string, withIDs bool) {
	if len(records) == 0 {
		fmt.Println("No requests.")
		return
	}
	fmt.Printf("%-5s %-30s %-10s %-5s %-15s %-10s %-10s\n", "ID", "Name", "Category", "Qty", "Owner", "From", "To")
	fmt.Println(strings.Repeat("-", 95))
	for i, rec := range records {
		id := "-"
		if withIDs {
			id = fmt.Sprint(i)
		}
		f := padFields(rec, len(requestLabels))
		fmt.Printf("%-5s %-30s %-10s %-5s %-15s %-10s %-10s\n",
			id, truncateString(f[0], 30), truncateString(f[1], 10), f[2], truncateString(f[3], 15), f[4], f[5])
	}
}

func printNotifications(lines []string) {
	if len(lines) == 0 {
		fmt.Println("No new notifications.")
		return
	}
	for _, line := range lines {
		fmt.Println(line)
	}
}

func padFields(record string, n int) []string {
	fields := strings.Split(record, "|")
	for len(fields) < n {
		fields = append(fields, "")
	}
	return fields
}

func truncateString(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	return s[:maxLength-3] + "..."
}
