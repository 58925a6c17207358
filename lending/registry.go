package lending

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	dateLayout = "2006-01-02"

	defaultListingCategory = "others"
	defaultRequestCategory = "other"
	defaultCondition       = "good"
)

// Options configures a Registry.
type Options struct {
	Hasher        Hasher
	StartingCoins int
	Logger        *logrus.Logger
	Now           func() time.Time
}

// Registry is the in-memory store of users, listings, requests and
// notifications. Every operation holds a single registry-wide lock.
//
// Listing and request ids are 1-based positions in creation order, so
// removing a listing renumbers the ones after it. Notification ids are
// never reused.
type Registry struct {
	mu sync.Mutex

	users         map[string]*User
	userOrder     []string
	listings      []*Listing
	requests      []*Request
	notifications []*Notification

	nextListingKey int64

	hasher        Hasher
	startingCoins int
	log           *logrus.Logger
	now           func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		users:          make(map[string]*User),
		nextListingKey: 1,
		hasher:         opts.Hasher,
		startingCoins:  opts.StartingCoins,
		log:            opts.Logger,
		now:            opts.Now,
	}
	if r.hasher == nil {
		r.hasher = BcryptHasher{}
	}
	if r.startingCoins < 0 {
		r.startingCoins = 0
	}
	if r.log == nil {
		r.log = logrus.New()
		r.log.SetOutput(io.Discard)
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// NewRegistryFromData restores a registry from a snapshot.
func NewRegistryFromData(data *RegistryData, opts Options) (*Registry, error) {
	r := NewRegistry(opts)
	if data == nil {
		return r, nil
	}
	for _, u := range data.Users {
		if _, dup := r.users[u.Username]; dup {
			return nil, fmt.Errorf("restore user %q: %w", u.Username, ErrDuplicateUser)
		}
		cp := *u
		r.users[u.Username] = &cp
		r.userOrder = append(r.userOrder, u.Username)
	}
	r.nextListingKey = data.NextListingKey
	for _, l := range data.Listings {
		cp := *l
		r.listings = append(r.listings, &cp)
		if cp.Key >= r.nextListingKey {
			r.nextListingKey = cp.Key + 1
		}
	}
	if r.nextListingKey < 1 {
		r.nextListingKey = 1
	}
	for _, q := range data.Requests {
		cp := *q
		r.requests = append(r.requests, &cp)
	}
	for i, n := range data.Notifications {
		cp := *n
		cp.ID = i + 1
		r.notifications = append(r.notifications, &cp)
	}
	return r, nil
}

// Snapshot returns a deep copy of the registry state.
func (r *Registry) Snapshot() *RegistryData {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := &RegistryData{NextListingKey: r.nextListingKey}
	for _, name := range r.userOrder {
		u := *r.users[name]
		data.Users = append(data.Users, &u)
	}
	for _, l := range r.listings {
		cp := *l
		data.Listings = append(data.Listings, &cp)
	}
	for _, q := range r.requests {
		cp := *q
		data.Requests = append(data.Requests, &cp)
	}
	for _, n := range r.notifications {
		cp := *n
		data.Notifications = append(data.Notifications, &cp)
	}
	return data
}

// ------------------ Authentication ------------------

// Login succeeds iff the user exists and the password matches.
func (r *Registry) Login(username, password string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.login(username, password)
}

func (r *Registry) login(username, password string) error {
	u, ok := r.users[strings.TrimSpace(username)]
	if !ok || !r.hasher.Compare(u.PasswordHash, password) {
		return ErrInvalidCredentials
	}
	return nil
}

// UserExists reports whether a user record exists, regardless of password.
func (r *Registry) UserExists(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[strings.TrimSpace(username)]
	return ok
}

// RegisterUser creates a new user. Existing usernames are never overwritten.
func (r *Registry) RegisterUser(username, password string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.register(username, password)
}

func (r *Registry) register(username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return fmt.Errorf("username and password are required: %w", ErrInvalidInput)
	}
	if err := checkText(username); err != nil {
		return err
	}
	if _, exists := r.users[username]; exists {
		return fmt.Errorf("register %q: %w", username, ErrDuplicateUser)
	}
	hash, err := r.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	r.users[username] = &User{Username: username, PasswordHash: hash, Coins: r.startingCoins}
	r.userOrder = append(r.userOrder, username)
	r.log.WithField("username", username).Info("user registered")
	return nil
}

// AuthenticateOrRegister logs the user in, registering them first when the
// username is unknown. A known username with the wrong password is
// rejected. created reports whether a new account was made.
func (r *Registry) AuthenticateOrRegister(username, password string) (created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.login(username, password); err == nil {
		return false, nil
	}
	if _, exists := r.users[strings.TrimSpace(username)]; exists {
		return false, ErrInvalidCredentials
	}
	if err := r.register(username, password); err != nil {
		return false, err
	}
	if err := r.login(username, password); err != nil {
		return true, err
	}
	return true, nil
}

// ------------------ Listings ------------------

// Listings returns every listing in creation order.
func (r *Registry) Listings() []Listing {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Listing, 0, len(r.listings))
	for _, l := range r.listings {
		out = append(out, *l)
	}
	return out
}

// MyListings returns the listings owned by owner.
func (r *Registry) MyListings(owner string) []Listing {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Listing
	for _, l := range r.listings {
		if l.Owner == owner {
			out = append(out, *l)
		}
	}
	return out
}

// ListingDetails returns the listing at 1-based id.
func (r *Registry) ListingDetails(id int) (Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, err := r.listingAt(id)
	if err != nil {
		return Listing{}, err
	}
	return *l, nil
}

// AddListing validates and stores a new listing owned by owner and
// returns its id.
func (r *Registry) AddListing(owner string, in ListingInput) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[owner]; !ok {
		return 0, fmt.Errorf("owner %q: %w", owner, ErrNotFound)
	}
	l := &Listing{
		Name:      strings.TrimSpace(in.Name),
		Category:  orDefault(in.Category, defaultListingCategory),
		Condition: orDefault(in.Condition, defaultCondition),
		Price:     in.Price,
		Quantity:  in.Quantity,
		FromDate:  strings.TrimSpace(in.FromDate),
		ToDate:    strings.TrimSpace(in.ToDate),
		Owner:     owner,
		Status:    StatusAvailable,
	}
	if err := validateListing(l); err != nil {
		return 0, err
	}
	l.Key = r.nextListingKey
	r.nextListingKey++
	r.listings = append(r.listings, l)

	id := len(r.listings)
	r.log.WithFields(logrus.Fields{"id": id, "name": l.Name, "owner": owner}).Info("listing added")
	return id, nil
}

// EditListing applies the supplied fields of e to the listing at id. The
// edited listing is validated as a whole; on failure nothing changes.
//
// One unsupplied field can change: when e sets a positive Quantity on a
// lent listing and leaves Status nil, the status goes back to available.
func (r *Registry) EditListing(actor string, id int, e ListingEdit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, err := r.listingAt(id)
	if err != nil {
		return err
	}
	if l.Owner != actor {
		return fmt.Errorf("edit listing %d: %w", id, ErrForbidden)
	}

	edited := *l
	if e.Name != nil {
		edited.Name = strings.TrimSpace(*e.Name)
	}
	if e.Condition != nil {
		edited.Condition = strings.TrimSpace(*e.Condition)
	}
	if e.Price != nil {
		edited.Price = *e.Price
	}
	if e.Quantity != nil {
		edited.Quantity = *e.Quantity
	}
	if e.FromDate != nil {
		edited.FromDate = strings.TrimSpace(*e.FromDate)
	}
	if e.ToDate != nil {
		edited.ToDate = strings.TrimSpace(*e.ToDate)
	}
	if e.Status != nil {
		edited.Status = strings.TrimSpace(*e.Status)
	} else if e.Quantity != nil && edited.Quantity > 0 && edited.Status == StatusLent {
		edited.Status = StatusAvailable
	}
	if err := validateListing(&edited); err != nil {
		return err
	}
	*l = edited
	r.log.WithFields(logrus.Fields{"id": id, "owner": actor}).Info("listing edited")
	return nil
}

// RemoveListing deletes the listing at id. Later listings move down one
// position and pending borrow requests for it are declined.
func (r *Registry) RemoveListing(actor string, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, err := r.listingAt(id)
	if err != nil {
		return err
	}
	if l.Owner != actor {
		return fmt.Errorf("remove listing %d: %w", id, ErrForbidden)
	}
	r.listings = append(r.listings[:id-1], r.listings[id:]...)
	for _, n := range r.notifications {
		if n.ListingKey == l.Key && n.State == NotificationPending {
			n.State = NotificationDeclined
		}
	}
	r.log.WithFields(logrus.Fields{"id": id, "name": l.Name, "owner": actor}).Info("listing removed")
	return nil
}

// SearchListings returns the ids of listings whose name, category or
// condition contains query, ignoring case.
func (r *Registry) SearchListings(query string) []int {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []int{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := []int{}
	for i, l := range r.listings {
		for _, field := range []string{l.Name, l.Category, l.Condition} {
			if strings.Contains(strings.ToLower(field), q) {
				ids = append(ids, i+1)
				break
			}
		}
	}
	return ids
}

func (r *Registry) listingAt(id int) (*Listing, error) {
	if id < 1 || id > len(r.listings) {
		return nil, fmt.Errorf("listing %d: %w", id, ErrNotFound)
	}
	return r.listings[id-1], nil
}

func (r *Registry) listingByKey(key int64) *Listing {
	for _, l := range r.listings {
		if l.Key == key {
			return l
		}
	}
	return nil
}

// ------------------ Requests ------------------

// Requests returns every request in creation order.
func (r *Registry) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Request, 0, len(r.requests))
	for _, q := range r.requests {
		out = append(out, *q)
	}
	return out
}

// MyRequests returns the requests posted by owner.
func (r *Registry) MyRequests(owner string) []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Request
	for _, q := range r.requests {
		if q.Owner == owner {
			out = append(out, *q)
		}
	}
	return out
}

func (r *Registry) RequestDetails(id int) (Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 1 || id > len(r.requests) {
		return Request{}, fmt.Errorf("request %d: %w", id, ErrNotFound)
	}
	return *r.requests[id-1], nil
}

// AddRequest validates and stores a new request posted by owner.
func (r *Registry) AddRequest(owner string, in RequestInput) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[owner]; !ok {
		return 0, fmt.Errorf("owner %q: %w", owner, ErrNotFound)
	}
	q := &Request{
		Name:     strings.TrimSpace(in.Name),
		Category: orDefault(in.Category, defaultRequestCategory),
		Quantity: in.Quantity,
		FromDate: strings.TrimSpace(in.FromDate),
		ToDate:   strings.TrimSpace(in.ToDate),
		Owner:    owner,
	}
	if q.Name == "" {
		return 0, fmt.Errorf("request name is required: %w", ErrInvalidInput)
	}
	if err := checkText(q.Name, q.Category); err != nil {
		return 0, err
	}
	if q.Quantity <= 0 {
		return 0, fmt.Errorf("quantity must be positive, got %d: %w", q.Quantity, ErrInvalidInput)
	}
	if err := validateWindow(q.FromDate, q.ToDate); err != nil {
		return 0, err
	}
	r.requests = append(r.requests, q)

	id := len(r.requests)
	r.log.WithFields(logrus.Fields{"id": id, "name": q.Name, "owner": owner}).Info("request added")
	return id, nil
}

// ------------------ Notifications ------------------

// RequestOwnerToBorrow records a pending borrow request from requester for
// the listing at listingID and returns the new notification id.
func (r *Registry) RequestOwnerToBorrow(requester string, listingID int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, err := r.checkBorrow(requester, listingID)
	if err != nil {
		return 0, err
	}

	n := &Notification{
		ID:          len(r.notifications) + 1,
		ListingKey:  l.Key,
		ListingName: l.Name,
		Price:       l.Price,
		Requester:   requester,
		Owner:       l.Owner,
		State:       NotificationPending,
		CreatedAt:   r.now(),
	}
	r.notifications = append(r.notifications, n)
	r.log.WithFields(logrus.Fields{
		"notification": n.ID,
		"listing":      l.Name,
		"requester":    requester,
		"owner":        l.Owner,
	}).Info("borrow requested")
	return n.ID, nil
}

// CheckBorrow returns the error RequestOwnerToBorrow would fail with right
// now, without recording anything.
func (r *Registry) CheckBorrow(requester string, listingID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.checkBorrow(requester, listingID)
	return err
}

func (r *Registry) checkBorrow(requester string, listingID int) (*Listing, error) {
	if _, ok := r.users[requester]; !ok {
		return nil, fmt.Errorf("requester %q: %w", requester, ErrNotFound)
	}
	l, err := r.listingAt(listingID)
	if err != nil {
		return nil, err
	}
	if l.Owner == requester {
		return nil, fmt.Errorf("borrow own listing %d: %w", listingID, ErrForbidden)
	}
	if l.Quantity <= 0 {
		return nil, fmt.Errorf("listing %d: %w", listingID, ErrUnavailable)
	}
	for _, n := range r.notifications {
		if n.ListingKey == l.Key && n.Requester == requester && n.State == NotificationPending {
			return nil, fmt.Errorf("listing %d: %w", listingID, ErrDuplicateRequest)
		}
	}
	return l, nil
}

// Notifications returns the pending notifications addressed to user,
// oldest first.
func (r *Registry) Notifications(user string) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification
	for _, n := range r.notifications {
		if n.Owner == user && n.State == NotificationPending {
			out = append(out, *n)
		}
	}
	return out
}

// ReplyToNotification resolves a pending notification addressed to user.
// "yes" accepts the borrow: the requester pays the owner the price shown
// when the borrow was requested, and one unit of the listing is lent out.
// Later price edits do not change what an accept costs. "no" declines it.
// A failed accept leaves the notification pending.
func (r *Registry) ReplyToNotification(user string, id int, action string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	action = strings.ToLower(strings.TrimSpace(action))
	if action != "yes" && action != "no" {
		return fmt.Errorf("reply %q: %w", action, ErrInvalidInput)
	}
	if id < 1 || id > len(r.notifications) || r.notifications[id-1].Owner != user {
		return fmt.Errorf("notification %d: %w", id, ErrNotFound)
	}
	n := r.notifications[id-1]
	if n.State != NotificationPending {
		return fmt.Errorf("notification %d is %s: %w", id, n.State, ErrAlreadyResolved)
	}

	if action == "no" {
		n.State = NotificationDeclined
		r.log.WithFields(logrus.Fields{"notification": id, "owner": user}).Info("borrow declined")
		return nil
	}

	l := r.listingByKey(n.ListingKey)
	if l == nil || l.Quantity <= 0 {
		return fmt.Errorf("notification %d: %w", id, ErrUnavailable)
	}
	borrower, ok := r.users[n.Requester]
	if !ok {
		return fmt.Errorf("requester %q: %w", n.Requester, ErrNotFound)
	}
	owner, ok := r.users[l.Owner]
	if !ok {
		return fmt.Errorf("owner %q: %w", l.Owner, ErrNotFound)
	}
	if borrower.Coins < n.Price {
		return fmt.Errorf("%s has %d coins, needs %d: %w", borrower.Username, borrower.Coins, n.Price, ErrInsufficientFunds)
	}

	borrower.Coins -= n.Price
	owner.Coins += n.Price
	l.Quantity--
	if l.Quantity == 0 {
		l.Status = StatusLent
	}
	n.State = NotificationAccepted
	r.log.WithFields(logrus.Fields{
		"notification": id,
		"listing":      l.Name,
		"borrower":     borrower.Username,
		"price":        n.Price,
	}).Info("borrow accepted")
	return nil
}

// ------------------ Balance ------------------

// Balance returns the user's coin count.
func (r *Registry) Balance(user string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[user]
	if !ok {
		return 0, fmt.Errorf("user %q: %w", user, ErrNotFound)
	}
	return u.Coins, nil
}

// ------------------ Validation ------------------

func validateListing(l *Listing) error {
	if l.Name == "" {
		return fmt.Errorf("listing name is required: %w", ErrInvalidInput)
	}
	if err := checkText(l.Name, l.Category, l.Condition); err != nil {
		return err
	}
	if l.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %d: %w", l.Quantity, ErrInvalidInput)
	}
	if l.Price < 0 {
		return fmt.Errorf("price must not be negative, got %d: %w", l.Price, ErrInvalidInput)
	}
	if l.Status != StatusAvailable && l.Status != StatusLent {
		return fmt.Errorf("unknown status %q: %w", l.Status, ErrInvalidInput)
	}
	return validateWindow(l.FromDate, l.ToDate)
}

func validateWindow(from, to string) error {
	start, err := time.Parse(dateLayout, from)
	if err != nil {
		return fmt.Errorf("from date %q: %w", from, ErrInvalidInput)
	}
	end, err := time.Parse(dateLayout, to)
	if err != nil {
		return fmt.Errorf("to date %q: %w", to, ErrInvalidInput)
	}
	if end.Before(start) {
		return fmt.Errorf("to date %s before from date %s: %w", to, from, ErrInvalidInput)
	}
	return nil
}

// checkText rejects characters that would break the pipe-delimited
// record format.
func checkText(fields ...string) error {
	for _, f := range fields {
		if strings.ContainsAny(f, "|\n\r") {
			return fmt.Errorf("field %q contains a reserved character: %w", f, ErrInvalidInput)
		}
	}
	return nil
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}
