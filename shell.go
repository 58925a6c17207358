package main

import (
	"errors"
	"fmt"
	"strings"

	"shareit/lending"

	"github.com/spf13/cobra"
)

func (a *app) shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := lending.OpenManager(a.cfg.DBPath, a.options())
			if err != nil {
				return fmt.Errorf("open %s: %w", a.cfg.DBPath, err)
			}
			defer m.Close()
			return a.runShell(m)
		},
	}
}

// shellCommand handles one interactive command and reports whether it
// changed the registry.
type shellCommand func(m *lending.Manager) bool

func (a *app) runShell(m *lending.Manager) error {
	fmt.Println("Welcome to ShareIt!")
	if err := a.resume(m); err != nil {
		if !a.shellLogin(m) {
			return errors.New("login failed")
		}
	}
	fmt.Printf("Logged in as %s. Coins: %d\n", m.Bridge().User(), m.Bridge().GetCoins())

	commands := map[string]shellCommand{
		"list listings":  a.handleListListings,
		"my listings":    a.handleMyListings,
		"search":         a.handleSearch,
		"show listing":   a.handleShowListing,
		"add listing":    a.handleAddListing,
		"edit listing":   a.handleEditListing,
		"delete listing": a.handleDeleteListing,
		"list requests":  a.handleListRequests,
		"my requests":    a.handleMyRequests,
		"show request":   a.handleShowRequest,
		"add request":    a.handleAddRequest,
		"borrow":         a.handleBorrow,
		"notifications":  a.handleNotifications,
		"reply":          a.handleReply,
		"coins":          a.handleCoins,
	}

	fmt.Println("Available commands:")
	fmt.Println("  Listings: list listings, my listings, search, show listing, add listing, edit listing, delete listing")
	fmt.Println("  Requests: list requests, my requests, show request, add request")
	fmt.Println("  Borrowing: borrow, notifications, reply, coins")
	fmt.Println("  System: exit")

	for {
		line, ok := a.readLine("\n> ")
		if !ok {
			return nil
		}
		if line == "exit" || line == "quit" {
			fmt.Println("Goodbye!")
			return nil
		}
		handle, found := commands[line]
		if !found {
			fmt.Println("Unknown command. Type one of the available commands listed above.")
			continue
		}
		// Pick up changes saved by other sessions since the last command.
		if err := m.Reload(); err != nil {
			a.log.WithError(err).Error("could not reload state")
			fmt.Printf("Error loading: %v\n", err)
			continue
		}
		if handle(m) {
			a.shellSave(m)
		}
	}
}

// shellSave persists the last command. On a conflict the change is dropped
// and the newer stored state is loaded instead.
func (a *app) shellSave(m *lending.Manager) {
	err := m.Save()
	if err == nil {
		return
	}
	a.log.WithError(err).Error("could not persist changes")
	if !errors.Is(err, lending.ErrConflict) {
		fmt.Printf("Error saving: %v\n", err)
		return
	}
	fmt.Println("Another session changed the data at the same time; your last change was not saved. Please try again.")
	if err := m.Reload(); err != nil {
		fmt.Printf("Error loading: %v\n", err)
	}
}

func (a *app) shellLogin(m *lending.Manager) bool {
	username, ok := a.readLine("Username: ")
	if !ok {
		return false
	}
	password, err := a.readPassword("Password: ")
	if err != nil {
		fmt.Printf("Error reading password: %v\n", err)
		return false
	}
	if err := a.login(m, username, password); err != nil {
		fmt.Printf("Authentication failed: %v\n", err)
		return false
	}
	// Logging in may have registered the user.
	a.shellSave(m)
	return m.Bridge().User() != ""
}

// readIndex prompts for a 0-based id, kept as the raw string the bridge parses.
func (a *app) readIndex(prompt string) (string, bool) {
	s, ok := a.readLine(prompt)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func (a *app) handleListListings(m *lending.Manager) bool {
	records := m.Bridge().GetListings()
	ids := make([]int, len(records))
	for i := range ids {
		ids[i] = i
	}
	printListings(records, ids)
	return false
}

func (a *app) handleMyListings(m *lending.Manager) bool {
	records := m.Bridge().GetMyListings()
	if len(records) == 0 {
		fmt.Println("You have no listings.")
		return false
	}
	for _, rec := range records {
		fmt.Printf("- %s\n", lending.RecordName(rec))
	}
	return false
}

func (a *app) handleSearch(m *lending.Manager) bool {
	query, ok := a.readLine("Query: ")
	if !ok {
		return false
	}
	var ids []int
	for _, id := range m.Registry().SearchListings(query) {
		ids = append(ids, id-1)
	}
	if len(ids) == 0 {
		fmt.Printf("No listings found matching '%s'.\n", query)
		return false
	}
	fmt.Printf("Found %d listing(s) matching '%s':\n", len(ids), query)
	printListings(m.Bridge().GetListings(), ids)
	return false
}

func (a *app) handleShowListing(m *lending.Manager) bool {
	id, ok := a.readIndex("Listing ID: ")
	if !ok {
		return false
	}
	rec := m.Bridge().GetItemDetails(true, lending.Atoi(id))
	if rec == "" {
		fmt.Printf("Listing %s not found\n", id)
		return false
	}
	printRecord(listingLabels, rec)
	return false
}

func (a *app) readListingForm(required bool) (listingFlags, bool) {
	var f listingFlags
	hint := ""
	if !required {
		hint = " (Enter to keep)"
	}
	fields := []struct {
		prompt string
		dst    *string
	}{
		{"Name", &f.name},
		{"Condition", &f.condition},
		{"Price", &f.price},
		{"Quantity", &f.quantity},
		{"From date (YYYY-MM-DD)", &f.from},
		{"To date (YYYY-MM-DD)", &f.to},
	}
	for _, field := range fields {
		v, ok := a.readLine(field.prompt + hint + ": ")
		if !ok {
			return f, false
		}
		*field.dst = v
	}
	return f, true
}

func (a *app) handleAddListing(m *lending.Manager) bool {
	f, ok := a.readListingForm(true)
	if !ok {
		return false
	}
	b := m.Bridge()
	if !b.SaveNewListing(f.name, f.condition, f.price, f.quantity, b.User(), f.from, f.to) {
		fmt.Println("Error: listing was not saved")
		return false
	}
	fmt.Printf("Added listing ID %d: %s\n", len(b.GetListings())-1, f.name)
	return true
}

func (a *app) handleEditListing(m *lending.Manager) bool {
	id, ok := a.readIndex("Listing ID: ")
	if !ok {
		return false
	}
	f, ok := a.readListingForm(false)
	if !ok {
		return false
	}
	status, ok := a.readLine("Status (available/lent, Enter to keep): ")
	if !ok {
		return false
	}
	if !m.Bridge().SaveListingEdit(id, f.name, f.condition, f.price, f.quantity, f.from, f.to, status) {
		fmt.Println("Error: listing was not changed")
		return false
	}
	fmt.Printf("Listing %s updated\n", id)
	return true
}

func (a *app) handleDeleteListing(m *lending.Manager) bool {
	id, ok := a.readIndex("Listing ID: ")
	if !ok {
		return false
	}
	if !m.Bridge().DeleteListing(id) {
		fmt.Println("Error: listing was not deleted")
		return false
	}
	fmt.Printf("Listing %s deleted\n", id)
	return true
}

func (a *app) handleListRequests(m *lending.Manager) bool {
	printRequests(m.Bridge().GetRequests(), true)
	return false
}

func (a *app) handleMyRequests(m *lending.Manager) bool {
	printRequests(m.Bridge().GetMyRequests(), false)
	return false
}

func (a *app) handleShowRequest(m *lending.Manager) bool {
	id, ok := a.readIndex("Request ID: ")
	if !ok {
		return false
	}
	rec := m.Bridge().GetItemDetails(false, lending.Atoi(id))
	if rec == "" {
		fmt.Printf("Request %s not found\n", id)
		return false
	}
	printRecord(requestLabels, rec)
	return false
}

func (a *app) handleAddRequest(m *lending.Manager) bool {
	name, ok := a.readLine("Name: ")
	if !ok {
		return false
	}
	quantity, ok := a.readLine("Quantity: ")
	if !ok {
		return false
	}
	from, ok := a.readLine("From date (YYYY-MM-DD): ")
	if !ok {
		return false
	}
	to, ok := a.readLine("To date (YYYY-MM-DD): ")
	if !ok {
		return false
	}
	b := m.Bridge()
	if !b.SaveNewRequest(name, "", "", quantity, b.User(), from, to) {
		fmt.Println("Error: request was not saved")
		return false
	}
	fmt.Printf("Added request ID %d: %s\n", len(b.GetRequests())-1, name)
	return true
}

func (a *app) handleBorrow(m *lending.Manager) bool {
	id, ok := a.readIndex("Listing ID: ")
	if !ok {
		return false
	}
	index := lending.Atoi(id)
	rec := m.Bridge().GetItemDetails(true, index)
	if rec == "" {
		fmt.Printf("Listing %s not found\n", id)
		return false
	}
	if err := m.Bridge().CheckRequestListing(index); err != nil {
		fmt.Printf("Cannot borrow %s: %v\n", lending.RecordName(rec), err)
		return false
	}
	m.Bridge().RequestListing(true, index)
	fmt.Printf("Asked to borrow %s.\n", lending.RecordName(rec))
	return true
}

func (a *app) handleNotifications(m *lending.Manager) bool {
	printNotifications(m.Bridge().GetNotifications())
	return false
}

func (a *app) handleReply(m *lending.Manager) bool {
	id, ok := a.readIndex("Notification ID: ")
	if !ok {
		return false
	}
	answer, ok := a.readLine("Accept? (yes/no): ")
	if !ok {
		return false
	}
	answer = strings.ToLower(answer)
	if answer != "yes" && answer != "no" {
		fmt.Println("Please answer yes or no.")
		return false
	}
	if !m.Bridge().SendNotificationResponse(id, answer == "yes") {
		fmt.Println("Error: failed to send the response")
		return false
	}
	if answer == "yes" {
		fmt.Println("You accepted the request.")
	} else {
		fmt.Println("You declined the request.")
	}
	return true
}

func (a *app) handleCoins(m *lending.Manager) bool {
	fmt.Printf("Coins: %d\n", m.Bridge().GetCoins())
	return false
}
